package payment

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/docscan/internal/subscription"
)

var _ = Describe("Client", func() {
	var (
		backend *ghttp.Server
		client  *Client
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = ghttp.NewServer()
		var err error
		client, err = NewClient(backend.URL() + "/")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		backend.Close()
	})

	It("requires a base url", func() {
		_, err := NewClient("")
		Expect(err).To(HaveOccurred())
	})

	Describe("Open", func() {
		When("the backend creates the order", func() {
			BeforeEach(func() {
				backend.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/create-order"),
					ghttp.VerifyJSON(`{"amount": 999, "currency": "INR"}`),
					ghttp.RespondWithJSONEncoded(http.StatusOK, subscription.Order{
						ID: "order_1", Amount: 99900, Currency: "INR", Receipt: "receipt_x",
					}),
				))
			})

			It("returns the order", func() {
				order, err := client.Open(ctx, 999, "INR", "Student Plan - yearly")
				Expect(err).NotTo(HaveOccurred())
				Expect(order.ID).To(Equal("order_1"))
				Expect(order.Amount).To(Equal(99900))
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				backend.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error":"gateway down"}`))
			})

			It("returns the backend error", func() {
				_, err := client.Open(ctx, 999, "INR", "Student Plan - yearly")
				Expect(err).To(MatchError(ContainSubstring("gateway down")))
			})
		})
	})

	Describe("VerifyPayment", func() {
		When("the backend accepts the signature", func() {
			BeforeEach(func() {
				backend.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/verify-payment"),
					ghttp.VerifyJSON(`{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_123","razorpay_signature":"abc"}`),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]bool{"success": true}),
				))
			})

			It("returns true", func() {
				ok, err := client.VerifyPayment(ctx, "order_1", "pay_123", "abc")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			})
		})

		When("the backend rejects the signature", func() {
			BeforeEach(func() {
				backend.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]bool{"success": false}))
			})

			It("returns false without error", func() {
				ok, err := client.VerifyPayment(ctx, "order_1", "pay_123", "abc")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})
		})

		When("the backend is unreachable", func() {
			It("returns an error", func() {
				backend.Close()
				_, err := client.VerifyPayment(ctx, "order_1", "pay_123", "abc")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("round trip with the real server", func() {
		It("verifies a signature signed with the backend secret", func() {
			server := NewServer(&mockOrderCreator{}, "s3cret")
			backend.AppendHandlers(server.ServeHTTP)

			ok, err := client.VerifyPayment(ctx, "order_1", "pay_123", sign("s3cret", "order_1", "pay_123"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})
