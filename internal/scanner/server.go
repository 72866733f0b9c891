package scanner

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Server handles HTTP requests for the scanner UI
type Server struct {
	service     *Service
	basicAuth   BasicAuth
	checkoutKey string
	validate    *validator.Validate
	mux         *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. checkoutKey is the
// public gateway key id handed to the hosted checkout.
func NewServer(service *Service, basicAuth BasicAuth, checkoutKey string) *Server {
	return NewServerWithMux(service, basicAuth, checkoutKey, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, checkoutKey string, mux *http.ServeMux) *Server {
	s := &Server{
		service:     service,
		basicAuth:   basicAuth,
		checkoutKey: checkoutKey,
		validate:    validator.New(),
		mux:         mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="DocScan"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.requireAuth(s.handleStaticCSS))
	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	// API endpoints - plans and account
	s.mux.HandleFunc("GET /api/plans", s.requireAuth(s.handleListPlans))
	s.mux.HandleFunc("GET /api/account", s.requireAuth(s.handleGetAccount))

	// API endpoints - current capture
	s.mux.HandleFunc("POST /api/scans/current/text", s.requireAuth(s.handleExtractText))
	s.mux.HandleFunc("POST /api/scans/current/save", s.requireAuth(s.handleSaveCapture))
	s.mux.HandleFunc("GET /api/scans/current/pdf", s.requireAuth(s.handleExportCapture))
	s.mux.HandleFunc("GET /api/scans/current/image", s.requireAuth(s.handleCaptureImage))
	s.mux.HandleFunc("GET /api/scans/current", s.requireAuth(s.handleGetCapture))
	s.mux.HandleFunc("DELETE /api/scans/current", s.requireAuth(s.handleResetCapture))
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleCapture))

	// API endpoints - documents (most specific paths first)
	s.mux.HandleFunc("GET /api/documents/{id}/image", s.requireAuth(s.handleDocumentImage))
	s.mux.HandleFunc("GET /api/documents/{id}/pdf", s.requireAuth(s.handleExportDocument))
	s.mux.HandleFunc("POST /api/documents/{id}/open", s.requireAuth(s.handleOpenDocument))
	s.mux.HandleFunc("GET /api/documents/{id}", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.requireAuth(s.handleDeleteDocument))
	s.mux.HandleFunc("GET /api/documents", s.requireAuth(s.handleListDocuments))
	s.mux.HandleFunc("DELETE /api/documents", s.requireAuth(s.handleClearDocuments))

	// API endpoints - subscription
	s.mux.HandleFunc("POST /api/subscription/confirm", s.requireAuth(s.handleConfirmPayment))
	s.mux.HandleFunc("POST /api/subscription/fail", s.requireAuth(s.handleFailPayment))
	s.mux.HandleFunc("GET /api/subscription", s.requireAuth(s.handleGetSubscription))
	s.mux.HandleFunc("POST /api/subscription", s.requireAuth(s.handleSubscribe))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /", s.requireAuth(s.handleIndex))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, s.corsMiddleware(s.mux.ServeHTTP))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
