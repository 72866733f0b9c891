package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/docscan/internal/capture"
	"github.com/zombor/docscan/internal/document"
	"github.com/zombor/docscan/internal/entitlement"
	"github.com/zombor/docscan/internal/ocr"
	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/subscription"
)

// maxUploadSize bounds uploads, high-resolution phone photos included
const maxUploadSize = int64(50 << 20) // 50MB

// pricingAnchor is where the UI shows the upgrade options
const pricingAnchor = "/#pricing"

type captureRequest struct {
	Image string `json:"image" validate:"required,datauri"`
}

type subscribeRequest struct {
	Plan         plan.ID           `json:"plan" validate:"required"`
	BillingCycle plan.BillingCycle `json:"billing_cycle" validate:"required"`
}

type checkoutResponse struct {
	*subscription.PendingCheckout
	KeyID string `json:"key_id"`
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

type denialResponse struct {
	Error   string             `json:"error"`
	Upgrade bool               `json:"upgrade"`
	Pricing string             `json:"pricing"`
	Action  entitlement.Action `json:"action"`
	Plan    plan.ID            `json:"plan"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with CORS headers set
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps service errors to status codes. Entitlement denials
// carry the upgrade prompt.
func writeError(w http.ResponseWriter, err error) {
	var denial *entitlement.Denial
	if errors.As(err, &denial) {
		writeJSON(w, http.StatusPaymentRequired, denialResponse{
			Error:   denial.Error(),
			Upgrade: denial.UpgradeRequired(),
			Pricing: pricingAnchor,
			Action:  denial.Action,
			Plan:    denial.Plan,
		})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, subscription.ErrNoPendingPayment),
		errors.Is(err, subscription.ErrVerifying), errors.Is(err, subscription.ErrSuperseded):
		code = http.StatusConflict
	case errors.Is(err, ErrNoCapture), errors.Is(err, document.ErrUnknownDocument):
		code = http.StatusNotFound
	case errors.Is(err, capture.ErrUnsupported):
		code = http.StatusUnsupportedMediaType
	case errors.Is(err, capture.ErrEmpty), errors.Is(err, capture.ErrDataURL),
		errors.Is(err, plan.ErrUnknownPlan), errors.Is(err, plan.ErrNotPurchasable),
		errors.Is(err, plan.ErrUnknownBillingCycle), errors.Is(err, subscription.ErrSignatureMismatch):
		code = http.StatusBadRequest
	case errors.Is(err, subscription.ErrPaymentFailure):
		code = http.StatusPaymentRequired
	case errors.Is(err, ocr.ErrRecognition):
		code = http.StatusBadGateway
	}

	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	jsonError(w, err.Error(), code)
}

// documentID parses the {id} path value
func documentID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid document id %q", r.PathValue("id"))
	}
	return id, nil
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleListPlans returns the plan catalog
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Plans())
}

// handleGetAccount returns usage and entitlements
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Account())
}

// handleCapture accepts a multipart upload in "file" or a JSON camera frame
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		data        []byte
		contentType string
		err         error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		data, contentType, err = s.readDataURL(r)
	} else {
		data, contentType, err = readUpload(r)
	}
	if err != nil {
		slog.Error("Error reading capture", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, err)
		return
	}

	c, err := s.service.Capture(data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) readDataURL(r *http.Request) ([]byte, string, error) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", fmt.Errorf("%w: invalid request body: %w", capture.ErrDataURL, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", capture.ErrDataURL, err)
	}
	return capture.DecodeDataURL(req.Image)
}

func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, "", fmt.Errorf("%w: parsing form: %w", capture.ErrEmpty, err)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: no file was selected", capture.ErrEmpty)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("reading file: %w", err)
	}
	return data, capture.ContentTypeFor(header.Filename, header.Header.Get("Content-Type"), data), nil
}

// handleGetCapture returns the current capture
func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCaptureImage returns the PNG of the current capture
func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", c.Image.ContentType)
	w.Write(c.Image.Data)
}

// handleResetCapture discards the current capture
func (s *Server) handleResetCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResetCapture(); err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleExtractText runs OCR on the current capture
func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.ExtractText(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc.Summarize())
}

// handleSaveCapture stores the current capture as a document
func (s *Server) handleSaveCapture(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.SaveCapture()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc.Summarize())
}

// handleExportCapture downloads the current capture as a PDF
func (s *Server) handleExportCapture(w http.ResponseWriter, r *http.Request) {
	exp, err := s.service.ExportCapture()
	if err != nil {
		writeError(w, err)
		return
	}
	writePDF(w, exp)
}

func writePDF(w http.ResponseWriter, exp *Export) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.FileName))
	w.Write(exp.Data)
}

// handleListDocuments returns all documents without their images
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListDocuments())
}

// handleClearDocuments deletes every document
func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	s.service.ClearDocuments()
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocument returns a single document without its image
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := s.service.GetDocument(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Summarize())
}

// handleDocumentImage downloads the image of a document
func (s *Server) handleDocumentImage(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := s.service.GetDocument(id)
	if err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"document_%d.png\"", doc.ID))
	w.Write(doc.ImageData)
}

// handleExportDocument downloads a document as a PDF
func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	exp, err := s.service.ExportDocument(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writePDF(w, exp)
}

// handleOpenDocument makes a document the current capture
func (s *Server) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.service.OpenDocument(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteDocument(id); err != nil {
		writeError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSubscription returns the checkout state
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Subscription())
}

// handleSubscribe opens a checkout
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	pending, err := s.service.Subscribe(r.Context(), req.Plan, req.BillingCycle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{PendingCheckout: pending, KeyID: s.checkoutKey})
}

// handleConfirmPayment handles the gateway success callback
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req subscription.PaymentResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := s.service.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleFailPayment handles the gateway failure callback
func (s *Server) handleFailPayment(w http.ResponseWriter, r *http.Request) {
	var req failPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "payment was not completed"
	}
	writeError(w, s.service.FailPayment(req.Reason))
}
