// Package scanner is the application the browser UI drives. It owns the
// single in-progress capture and routes every action through the
// entitlement engine before touching the ledger, OCR or export.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/capture"
	"github.com/zombor/docscan/internal/document"
	"github.com/zombor/docscan/internal/entitlement"
	"github.com/zombor/docscan/internal/export"
	"github.com/zombor/docscan/internal/ledger"
	"github.com/zombor/docscan/internal/ocr"
	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/subscription"
)

var (
	ErrBusy      = errors.New("scanner: text extraction in progress")
	ErrNoCapture = errors.New("scanner: nothing has been captured")
)

// Renderer renders a PNG into a PDF
type Renderer interface {
	Render(image []byte, watermark bool) ([]byte, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Capture is the in-progress scan
type Capture struct {
	Image      *capture.Image `json:"image"`
	CapturedAt time.Time      `json:"captured_at"`
	Plan       plan.ID        `json:"plan"`
	Text       string         `json:"text,omitempty"`
	DocumentID uint64         `json:"document_id,omitempty"`
}

// OCRStatus reports a running text extraction
type OCRStatus struct {
	Running  bool    `json:"running"`
	Progress float64 `json:"progress"`
}

// Account is what the UI shows about the current subscription
type Account struct {
	Plan             plan.Plan              `json:"plan"`
	ScansUsed        int                    `json:"scans_used"`
	ScansRemaining   plan.Limit             `json:"scans_remaining"`
	SubscriptionID   string                 `json:"subscription_id,omitempty"`
	SubscriptionDate *time.Time             `json:"subscription_date,omitempty"`
	Watermark        bool                   `json:"watermark"`
	Documents        int                    `json:"documents"`
	Entitlements     []entitlement.Decision `json:"entitlements"`
	OCR              OCRStatus              `json:"ocr"`
	Checkout         subscription.State     `json:"checkout"`
}

// SubscriptionStatus is the state of the purchase workflow
type SubscriptionStatus struct {
	State   subscription.State            `json:"state"`
	Pending *subscription.PendingCheckout `json:"pending,omitempty"`
}

// Export is a rendered PDF ready for download
type Export struct {
	Data     []byte
	FileName string
}

// Service handles scanner operations
type Service struct {
	mu         sync.Mutex
	catalog    *plan.Catalog
	ledger     *ledger.Ledger
	engine     *entitlement.Engine
	documents  *document.Store
	workflow   *subscription.Workflow
	recognizer ocr.Recognizer
	renderer   Renderer
	timeSource TimeSource

	current  *Capture
	busy     bool
	progress float64
}

// NewService creates a new Service with the default time source
func NewService(catalog *plan.Catalog, usage *ledger.Ledger, documents *document.Store, workflow *subscription.Workflow, recognizer ocr.Recognizer, renderer Renderer) *Service {
	return NewServiceWithDeps(catalog, usage, documents, workflow, recognizer, renderer, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with a custom time source for testing
func NewServiceWithDeps(catalog *plan.Catalog, usage *ledger.Ledger, documents *document.Store, workflow *subscription.Workflow, recognizer ocr.Recognizer, renderer Renderer, timeSrc TimeSource) *Service {
	return &Service{
		catalog:    catalog,
		ledger:     usage,
		engine:     entitlement.NewEngine(usage),
		documents:  documents,
		workflow:   workflow,
		recognizer: recognizer,
		renderer:   renderer,
		timeSource: timeSrc,
	}
}

// Plans returns the catalog in display order
func (s *Service) Plans() []plan.Plan {
	return s.catalog.Plans()
}

// Account returns the usage and entitlements of the current plan, all
// derived from one ledger read
func (s *Service) Account() Account {
	st := s.ledger.Standing()

	s.mu.Lock()
	ocrStatus := OCRStatus{Running: s.busy, Progress: s.progress}
	s.mu.Unlock()

	acct := Account{
		Plan:           st.Plan,
		ScansUsed:      st.ScansUsed,
		ScansRemaining: st.Remaining,
		SubscriptionID: st.SubscriptionID,
		Watermark:      !s.engine.Decide(st, entitlement.ExportCleanPDF).Allowed,
		Documents:      s.documents.Len(),
		OCR:            ocrStatus,
		Checkout:       s.workflow.State(),
	}
	if !st.SubscriptionDate.IsZero() {
		date := st.SubscriptionDate
		acct.SubscriptionDate = &date
	}
	for _, action := range []entitlement.Action{entitlement.Scan, entitlement.ExtractText, entitlement.ExportCleanPDF} {
		acct.Entitlements = append(acct.Entitlements, s.engine.Decide(st, action))
	}
	return acct
}

// Capture consumes one scan and holds data as the current capture.
// Nothing is counted when the quota is exhausted or the image is unreadable.
func (s *Service) Capture(data []byte, contentType string) (*Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if err := s.engine.Check(entitlement.Scan); err != nil {
		return nil, err
	}

	img, err := capture.Normalize(data, contentType)
	if err != nil {
		slog.Error("Failed to normalize capture",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("normalizing capture: %w", err)
	}

	s.ledger.RecordScan()
	s.current = &Capture{
		Image:      img,
		CapturedAt: s.timeSource.Now().UTC(),
		Plan:       s.ledger.CurrentPlan().ID,
	}
	slog.Info("Captured image", "width", img.Width, "height", img.Height, "scans_used", s.ledger.ScansUsed())

	c := *s.current
	return &c, nil
}

// Current returns the current capture
func (s *Service) Current() (*Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoCapture
	}
	c := *s.current
	return &c, nil
}

// ResetCapture discards the current capture. The scan stays counted.
func (s *Service) ResetCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	s.current = nil
	return nil
}

// ExtractText runs OCR on the current capture and saves a document with
// the text. A failed recognition keeps the capture so it can be retried.
func (s *Service) ExtractText(ctx context.Context) (*document.Document, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, ErrNoCapture
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if err := s.engine.Check(entitlement.ExtractText); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.busy = true
	s.progress = 0
	current := s.current
	s.mu.Unlock()

	text, err := s.recognizer.Recognize(ctx, current.Image.Data, current.Image.ContentType, s.setProgress)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if err != nil {
		slog.Error("Failed to extract text", "error", err)
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	s.progress = 1

	doc, err := s.documents.Save(current.Image.Data, current.Image.ContentType, text, current.Plan)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	current.Text = text
	current.DocumentID = doc.ID
	slog.Info("Extracted text", "document_id", doc.ID, "characters", len(text))
	return doc, nil
}

func (s *Service) setProgress(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = fraction
}

// SaveCapture stores the current capture without text. Saving the same
// capture twice returns the first document.
func (s *Service) SaveCapture() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if s.current == nil {
		return nil, ErrNoCapture
	}
	if s.current.DocumentID != 0 {
		if doc, err := s.documents.Get(s.current.DocumentID); err == nil {
			return doc, nil
		}
	}

	doc, err := s.documents.Save(s.current.Image.Data, s.current.Image.ContentType, s.current.Text, s.current.Plan)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	s.current.DocumentID = doc.ID
	return doc, nil
}

// ExportCapture renders the current capture, watermarked on plans
// without clean exports
func (s *Service) ExportCapture() (*Export, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil {
		return nil, ErrNoCapture
	}
	data, err := s.render(current.Image.Data)
	if err != nil {
		return nil, err
	}
	return &Export{Data: data, FileName: export.CaptureFileName(s.timeSource.Now())}, nil
}

// ExportDocument renders a stored document
func (s *Service) ExportDocument(id uint64) (*Export, error) {
	doc, err := s.documents.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := s.render(doc.ImageData)
	if err != nil {
		return nil, err
	}
	return &Export{Data: data, FileName: export.DocumentFileName(id)}, nil
}

func (s *Service) render(image []byte) ([]byte, error) {
	watermark := s.engine.Watermark()
	data, err := s.renderer.Render(image, watermark)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	slog.Info("Exported PDF", "watermark", watermark, "size", len(data))
	return data, nil
}

// OpenDocument makes a stored document the current capture. It does not
// consume a scan.
func (s *Service) OpenDocument(id uint64) (*Capture, error) {
	doc, err := s.documents.Get(id)
	if err != nil {
		return nil, err
	}
	img, err := capture.FromPNG(doc.ImageData)
	if err != nil {
		return nil, fmt.Errorf("reading document image: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrBusy
	}
	s.current = &Capture{
		Image:      img,
		CapturedAt: doc.CreatedAt,
		Plan:       doc.PlanAtCapture,
		Text:       doc.ExtractedText,
		DocumentID: doc.ID,
	}
	c := *s.current
	return &c, nil
}

// ListDocuments returns all documents, newest first, without images
func (s *Service) ListDocuments() []document.Summary {
	docs := s.documents.List()
	summaries := make([]document.Summary, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, d.Summarize())
	}
	return summaries
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id uint64) (*document.Document, error) {
	return s.documents.Get(id)
}

// DeleteDocument removes a document
func (s *Service) DeleteDocument(id uint64) error {
	if err := s.documents.Delete(id); err != nil {
		return err
	}
	s.forget(id)
	return nil
}

// ClearDocuments removes every document
func (s *Service) ClearDocuments() {
	s.documents.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.DocumentID = 0
	}
}

// forget unlinks the current capture from a deleted document
func (s *Service) forget(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.DocumentID == id {
		s.current.DocumentID = 0
	}
}

// Subscription returns the purchase workflow state
func (s *Service) Subscription() SubscriptionStatus {
	return SubscriptionStatus{State: s.workflow.State(), Pending: s.workflow.Pending()}
}

// Subscribe opens a checkout for planID
func (s *Service) Subscribe(ctx context.Context, planID plan.ID, cycle plan.BillingCycle) (*subscription.PendingCheckout, error) {
	return s.workflow.Subscribe(ctx, planID, cycle)
}

// ConfirmPayment completes a checkout from the gateway success callback
func (s *Service) ConfirmPayment(ctx context.Context, result subscription.PaymentResult) (*subscription.Receipt, error) {
	return s.workflow.ConfirmPayment(ctx, result)
}

// FailPayment records the gateway failure callback
func (s *Service) FailPayment(reason string) error {
	return s.workflow.FailPayment(reason)
}
