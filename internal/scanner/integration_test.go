package scanner

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/docscan/internal/document"
	"github.com/zombor/docscan/internal/entitlement"
	"github.com/zombor/docscan/internal/export"
	"github.com/zombor/docscan/internal/ledger"
	"github.com/zombor/docscan/internal/payment"
	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/state"
	"github.com/zombor/docscan/internal/subscription"
)

// fakeGateway is an OrderCreator standing in for the Razorpay API
type fakeGateway struct {
	created int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int, currency, receipt string) (*subscription.Order, error) {
	g.created++
	return &subscription.Order{ID: "order_int", Amount: amount, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

var _ = Describe("Integration", func() {
	const secret = "gateway-secret"

	var (
		ctx     context.Context
		dbPath  string
		bolt    *state.BoltStore
		store   *state.Resilient
		catalog *plan.Catalog
		backend *ghttp.Server
		gateway *fakeGateway
		service *Service
		image   []byte
	)

	open := func() {
		var err error
		bolt, err = state.NewBoltStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		store = state.NewResilient(bolt)

		client, err := payment.NewClient(backend.URL())
		Expect(err).NotTo(HaveOccurred())

		usage := ledger.Open(store, catalog)
		workflow := subscription.NewWorkflow(catalog, usage, client, client)
		service = NewService(catalog, usage, document.Open(store), workflow, newMockRecognizer(), export.NewRendererWithCompression("", false))
	}

	BeforeEach(func() {
		ctx = context.Background()
		dbPath = filepath.Join(GinkgoT().TempDir(), "docscan.db")
		catalog = plan.NewCatalog()
		image = testPNG(60, 80)

		gateway = &fakeGateway{}
		payServer := payment.NewServer(gateway, secret)
		backend = ghttp.NewServer()
		backend.RouteToHandler("POST", "/create-order", payServer.ServeHTTP)
		backend.RouteToHandler("POST", "/verify-payment", payServer.ServeHTTP)

		open()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		backend.Close()
	})

	It("meters free scans, watermarks exports and upgrades after a verified payment", func() {
		for i := 0; i < 10; i++ {
			_, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := service.Capture(image, "image/png")
		Expect(err).To(MatchError(entitlement.ErrQuotaExceeded))

		exp, err := service.ExportCapture()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(exp.Data)).To(ContainSubstring("DocuMind AI"))

		pending, err := service.Subscribe(ctx, plan.Student, plan.Yearly)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Order.ID).To(Equal("order_int"))
		Expect(pending.Order.Amount).To(Equal(99900))

		receipt, err := service.ConfirmPayment(ctx, subscription.PaymentResult{
			OrderID:   "order_int",
			PaymentID: "pay_123",
			Signature: signPayment(secret, "order_int", "pay_123"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Plan).To(Equal(plan.Student))

		exp, err = service.ExportCapture()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(exp.Data)).NotTo(ContainSubstring("DocuMind AI"))

		_, err = service.Capture(image, "image/png")
		Expect(err).NotTo(HaveOccurred())

		doc, err := service.ExtractText(ctx)
		Expect(err).NotTo(HaveOccurred())

		// reopen from disk
		Expect(store.Close()).To(Succeed())
		open()

		acct := service.Account()
		Expect(acct.Plan.ID).To(Equal(plan.Student))
		Expect(acct.ScansUsed).To(Equal(1))
		Expect(acct.SubscriptionID).To(Equal("pay_123"))
		Expect(acct.SubscriptionDate).NotTo(BeNil())
		Expect(*acct.SubscriptionDate).To(BeTemporally("~", time.Now(), time.Minute))

		stored, err := service.GetDocument(doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.ExtractedText).To(Equal("Hello World"))
		Expect(stored.PlanAtCapture).To(Equal(plan.Student))
	})

	It("rejects a forged payment signature", func() {
		_, err := service.Subscribe(ctx, plan.Business, plan.Monthly)
		Expect(err).NotTo(HaveOccurred())

		_, err = service.ConfirmPayment(ctx, subscription.PaymentResult{
			OrderID:   "order_int",
			PaymentID: "pay_999",
			Signature: signPayment("guessed", "order_int", "pay_999"),
		})
		Expect(err).To(MatchError(subscription.ErrSignatureMismatch))

		Expect(store.Close()).To(Succeed())
		open()
		Expect(service.Account().Plan.ID).To(Equal(plan.Free))
	})

	It("keeps document ids increasing across a delete and a reopen", func() {
		_, err := service.Capture(image, "image/png")
		Expect(err).NotTo(HaveOccurred())
		first, err := service.SaveCapture()
		Expect(err).NotTo(HaveOccurred())
		Expect(service.DeleteDocument(first.ID)).To(Succeed())

		Expect(store.Close()).To(Succeed())
		open()

		_, err = service.Capture(image, "image/png")
		Expect(err).NotTo(HaveOccurred())
		second, err := service.SaveCapture()
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(BeNumerically(">", first.ID))
	})
})
