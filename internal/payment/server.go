package payment

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Server is the order and verification backend. It is the only process
// that knows the gateway secret.
type Server struct {
	orders   OrderCreator
	secret   string
	validate *validator.Validate
	mux      *http.ServeMux
}

type createOrderRequest struct {
	Amount   int    `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3,uppercase"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required,hexadecimal"`
}

type verifyPaymentResponse struct {
	Success bool `json:"success"`
}

// NewServer creates a Server with a default mux
func NewServer(orders OrderCreator, secret string) *Server {
	return NewServerWithMux(orders, secret, http.NewServeMux())
}

// NewServerWithMux creates a Server with a custom mux for testing
func NewServerWithMux(orders OrderCreator, secret string, mux *http.ServeMux) *Server {
	s := &Server{
		orders:   orders,
		secret:   secret,
		validate: validator.New(),
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /create-order", s.handleCreateOrder)
	s.mux.HandleFunc("POST /verify-payment", s.handleVerifyPayment)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	receipt := fmt.Sprintf("receipt_%s", uuid.NewString())
	// amounts arrive in whole units, the gateway wants the smallest unit
	order, err := s.orders.CreateOrder(r.Context(), req.Amount*100, req.Currency, receipt)
	if err != nil {
		slog.Error("Error creating order", "amount", req.Amount, "currency", req.Currency, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("Order created", "order_id", order.ID, "amount", order.Amount, "receipt", receipt)
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusOK, verifyPaymentResponse{Success: false})
		return
	}

	ok := VerifySignature(s.secret, req.OrderID, req.PaymentID, req.Signature)
	if !ok {
		slog.Warn("Signature mismatch", "order_id", req.OrderID, "payment_id", req.PaymentID)
	}
	writeJSON(w, http.StatusOK, verifyPaymentResponse{Success: ok})
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting payments server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}
