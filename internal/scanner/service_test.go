package scanner

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/docscan/internal/capture"
	"github.com/zombor/docscan/internal/document"
	"github.com/zombor/docscan/internal/entitlement"
	"github.com/zombor/docscan/internal/export"
	"github.com/zombor/docscan/internal/ledger"
	"github.com/zombor/docscan/internal/ocr"
	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/state"
	"github.com/zombor/docscan/internal/subscription"
)

var _ = Describe("Service", func() {
	var (
		ctx        context.Context
		store      *state.MemoryStore
		catalog    *plan.Catalog
		usage      *ledger.Ledger
		documents  *document.Store
		recognizer *mockRecognizer
		renderer   *mockRenderer
		checkout   *mockCheckout
		verifier   *mockVerifier
		clock      *mockTimeSource
		service    *Service
		image      []byte
	)

	upgrade := func(id plan.ID) {
		Expect(usage.ApplyPlanChange(id, "pay_test", clock.now)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = state.NewMemoryStore()
		catalog = plan.NewCatalog()
		usage = ledger.Open(store, catalog)
		clock = &mockTimeSource{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		documents = document.OpenWithClock(store, clock)
		recognizer = newMockRecognizer()
		renderer = &mockRenderer{}
		checkout = &mockCheckout{orderID: "order_1"}
		verifier = &mockVerifier{valid: true}
		workflow := subscription.NewWorkflowWithClock(catalog, usage, checkout, verifier, clock)
		service = NewServiceWithDeps(catalog, usage, documents, workflow, recognizer, renderer, clock)
		image = testPNG(30, 40)
	})

	Describe("Capture", func() {
		It("holds the normalised image and counts the scan", func() {
			c, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Image.Width).To(Equal(30))
			Expect(c.Image.Height).To(Equal(40))
			Expect(c.Plan).To(Equal(plan.Free))
			Expect(c.CapturedAt).To(Equal(clock.now))
			Expect(usage.ScansUsed()).To(Equal(1))
		})

		When("the image cannot be decoded", func() {
			It("does not count the scan", func() {
				_, err := service.Capture([]byte("garbage"), "image/png")
				Expect(err).To(MatchError(capture.ErrUnsupported))
				Expect(usage.ScansUsed()).To(BeZero())
			})
		})

		When("the free quota is used up", func() {
			BeforeEach(func() {
				for i := 0; i < 10; i++ {
					_, err := service.Capture(image, "image/png")
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("denies the 11th scan without counting it", func() {
				_, err := service.Capture(image, "image/png")
				Expect(err).To(MatchError(entitlement.ErrQuotaExceeded))

				var denial *entitlement.Denial
				Expect(errors.As(err, &denial)).To(BeTrue())
				Expect(denial.UpgradeRequired()).To(BeTrue())
				Expect(usage.ScansUsed()).To(Equal(10))
			})

			It("allows scanning again after an upgrade", func() {
				upgrade(plan.Student)
				_, err := service.Capture(image, "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(usage.ScansUsed()).To(Equal(1))
			})
		})
	})

	Describe("ExtractText", func() {
		When("nothing has been captured", func() {
			It("returns ErrNoCapture", func() {
				upgrade(plan.Student)
				_, err := service.ExtractText(ctx)
				Expect(err).To(MatchError(ErrNoCapture))
			})
		})

		When("on the free plan", func() {
			BeforeEach(func() {
				_, err := service.Capture(image, "image/png")
				Expect(err).NotTo(HaveOccurred())
			})

			It("is denied before any OCR call", func() {
				_, err := service.ExtractText(ctx)
				Expect(err).To(MatchError(entitlement.ErrFeatureLocked))
				Expect(recognizer.Calls()).To(BeZero())
				Expect(documents.Len()).To(BeZero())
				Expect(usage.ScansUsed()).To(Equal(1))
			})
		})

		When("on a paid plan", func() {
			BeforeEach(func() {
				upgrade(plan.Student)
				_, err := service.Capture(image, "image/png")
				Expect(err).NotTo(HaveOccurred())
			})

			It("saves a document with the text", func() {
				doc, err := service.ExtractText(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.ExtractedText).To(Equal("Hello World"))
				Expect(doc.PlanAtCapture).To(Equal(plan.Student))
				Expect(documents.List()).To(HaveLen(1))

				c, err := service.Current()
				Expect(err).NotTo(HaveOccurred())
				Expect(c.Text).To(Equal("Hello World"))
				Expect(c.DocumentID).To(Equal(doc.ID))
			})

			It("does not consume another scan", func() {
				_, err := service.ExtractText(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(usage.ScansUsed()).To(Equal(1))
			})

			When("recognition fails", func() {
				BeforeEach(func() {
					recognizer.err = errors.Join(ocr.ErrRecognition, errors.New("engine crashed"))
				})

				It("surfaces the error and saves nothing", func() {
					_, err := service.ExtractText(ctx)
					Expect(err).To(MatchError(ocr.ErrRecognition))
					Expect(documents.Len()).To(BeZero())
				})

				It("keeps the capture for a retry", func() {
					_, _ = service.ExtractText(ctx)
					recognizer.err = nil
					doc, err := service.ExtractText(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(doc.ExtractedText).To(Equal("Hello World"))
				})
			})

			When("recognition is still running", func() {
				var (
					done     chan error
					released bool
				)

				release := func() {
					released = true
					close(recognizer.release)
					Eventually(done).Should(Receive(BeNil()))
				}

				BeforeEach(func() {
					released = false
					recognizer.release = make(chan struct{})
					done = make(chan error, 1)
					go func() {
						_, err := service.ExtractText(ctx)
						done <- err
					}()
					Eventually(func() bool { return service.Account().OCR.Running }).Should(BeTrue())
				})

				AfterEach(func() {
					if !released {
						release()
					}
				})

				It("rejects a new capture", func() {
					_, err := service.Capture(image, "image/png")
					Expect(err).To(MatchError(ErrBusy))
					Expect(usage.ScansUsed()).To(Equal(1))
				})

				It("rejects a second extraction", func() {
					_, err := service.ExtractText(ctx)
					Expect(err).To(MatchError(ErrBusy))
				})

				It("rejects a reset", func() {
					Expect(service.ResetCapture()).To(MatchError(ErrBusy))
				})

				It("rejects a save so the capture is stored once", func() {
					_, err := service.SaveCapture()
					Expect(err).To(MatchError(ErrBusy))
					Expect(documents.Len()).To(BeZero())

					release()
					Expect(documents.Len()).To(Equal(1))
					current, err := service.Current()
					Expect(err).NotTo(HaveOccurred())
					doc, err := service.GetDocument(current.DocumentID)
					Expect(err).NotTo(HaveOccurred())
					Expect(doc.ExtractedText).To(Equal("Hello World"))
				})

				It("reports progress", func() {
					Eventually(func() float64 { return service.Account().OCR.Progress }).Should(Equal(0.5))
				})
			})
		})
	})

	Describe("SaveCapture", func() {
		It("returns ErrNoCapture without a capture", func() {
			_, err := service.SaveCapture()
			Expect(err).To(MatchError(ErrNoCapture))
		})

		It("saves once per capture", func() {
			_, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())

			first, err := service.SaveCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ExtractedText).To(BeEmpty())
			second, err := service.SaveCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(documents.Len()).To(Equal(1))
		})
	})

	Describe("ExportCapture", func() {
		BeforeEach(func() {
			_, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())
		})

		It("watermarks exports on the free plan", func() {
			exp, err := service.ExportCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(renderer.watermarks).To(Equal([]bool{true}))
			Expect(exp.FileName).To(Equal("document_1714564800000.pdf"))
		})

		It("exports clean PDFs on paid plans", func() {
			upgrade(plan.Professional)
			_, err := service.ExportCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(renderer.watermarks).To(Equal([]bool{false}))
		})

		It("does not consume a scan", func() {
			_, err := service.ExportCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(usage.ScansUsed()).To(Equal(1))
		})
	})

	Describe("documents", func() {
		var doc *document.Document

		BeforeEach(func() {
			_, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())
			doc, err = service.SaveCapture()
			Expect(err).NotTo(HaveOccurred())
			Expect(service.ResetCapture()).To(Succeed())
		})

		It("exports a stored document by id", func() {
			exp, err := service.ExportDocument(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(exp.FileName).To(Equal(export.DocumentFileName(doc.ID)))
		})

		It("opens a stored document without consuming a scan", func() {
			c, err := service.OpenDocument(doc.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.DocumentID).To(Equal(doc.ID))
			Expect(c.Image.Width).To(Equal(30))
			Expect(usage.ScansUsed()).To(Equal(1))
		})

		It("lists summaries without images", func() {
			summaries := service.ListDocuments()
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].ID).To(Equal(doc.ID))
			Expect(summaries[0].ImageSize).To(BeNumerically(">", 0))
		})

		It("deletes a document", func() {
			Expect(service.DeleteDocument(doc.ID)).To(Succeed())
			_, err := service.GetDocument(doc.ID)
			Expect(err).To(MatchError(document.ErrUnknownDocument))
		})

		It("reports unknown documents", func() {
			Expect(service.DeleteDocument(999)).To(MatchError(document.ErrUnknownDocument))
			_, err := service.ExportDocument(999)
			Expect(err).To(MatchError(document.ErrUnknownDocument))
		})

		It("clears all documents", func() {
			service.ClearDocuments()
			Expect(service.ListDocuments()).To(BeEmpty())
		})
	})

	Describe("Account", func() {
		It("reports free plan usage and entitlements", func() {
			_, err := service.Capture(image, "image/png")
			Expect(err).NotTo(HaveOccurred())

			acct := service.Account()
			Expect(acct.Plan.ID).To(Equal(plan.Free))
			Expect(acct.ScansUsed).To(Equal(1))
			Expect(acct.ScansRemaining).To(Equal(plan.Scans(9)))
			Expect(acct.Watermark).To(BeTrue())
			Expect(acct.SubscriptionDate).To(BeNil())
			Expect(acct.Entitlements).To(HaveLen(3))
			Expect(acct.Checkout).To(Equal(subscription.Idle))
		})
	})

	Describe("subscription", func() {
		It("upgrades the plan after a verified payment", func() {
			for i := 0; i < 4; i++ {
				_, err := service.Capture(image, "image/png")
				Expect(err).NotTo(HaveOccurred())
			}

			pending, err := service.Subscribe(ctx, plan.Student, plan.Yearly)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Amount).To(Equal(999))
			Expect(service.Subscription().State).To(Equal(subscription.AwaitingPayment))

			receipt, err := service.ConfirmPayment(ctx, subscription.PaymentResult{OrderID: "order_1", PaymentID: "pay_123", Signature: "sig"})
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.Plan).To(Equal(plan.Student))

			acct := service.Account()
			Expect(acct.Plan.ID).To(Equal(plan.Student))
			Expect(acct.ScansUsed).To(BeZero())
			Expect(acct.SubscriptionID).To(Equal("pay_123"))
			Expect(acct.Watermark).To(BeFalse())
			for _, d := range acct.Entitlements {
				Expect(d.Plan).To(Equal(plan.Student))
				Expect(d.Remaining).To(Equal(acct.ScansRemaining))
			}
			Expect(acct.ScansRemaining).To(Equal(plan.Scans(100)))
		})

		It("keeps the plan when the signature is rejected", func() {
			verifier.valid = false
			_, err := service.Subscribe(ctx, plan.Business, plan.Monthly)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.ConfirmPayment(ctx, subscription.PaymentResult{OrderID: "order_1", PaymentID: "pay_1", Signature: "forged"})
			Expect(err).To(MatchError(subscription.ErrSignatureMismatch))
			Expect(service.Account().Plan.ID).To(Equal(plan.Free))
		})
	})
})
