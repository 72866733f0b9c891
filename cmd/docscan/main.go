package main

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/docscan/internal/document"
	"github.com/zombor/docscan/internal/export"
	"github.com/zombor/docscan/internal/ledger"
	"github.com/zombor/docscan/internal/ocr"
	"github.com/zombor/docscan/internal/payment"
	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/scanner"
	"github.com/zombor/docscan/internal/state"
	"github.com/zombor/docscan/internal/subscription"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional, real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("docscan")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "docscan.db", "State file path")
		ocrEngine     = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		ocrLanguage   = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		paymentsURL   = fs.StringLong("payments-url", "http://localhost:5000", "Order and verification backend URL")
		razorpayKeyID = fs.StringLong("razorpay-key-id", "", "Public Razorpay key id used by the checkout")
		watermark     = fs.StringLong("watermark-text", export.DefaultWatermark, "Watermark stamped on free plan exports")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize state. A broken state file degrades to memory instead of
	// refusing to start.
	slog.Info("Initializing state...", "path", *dbPath)
	var primary state.Store
	bolt, err := state.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to open state file, keeping state in memory", "error", err)
	} else {
		primary = bolt
	}
	store := state.NewResilient(primary)
	defer store.Close()

	// Initialize OCR engine based on type
	var recognizer ocr.Recognizer
	switch *ocrEngine {
	case "tesseract":
		slog.Info("Initializing Tesseract...", "language", *ocrLanguage)
		recognizer, err = ocr.NewTesseract(*ocrLanguage)
		if err != nil {
			slog.Error("Failed to initialize Tesseract", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		recognizer, err = ocr.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = ocr.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR engine", "engine", *ocrEngine, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	payments, err := payment.NewClient(*paymentsURL)
	if err != nil {
		slog.Error("Failed to initialize payments client", "error", err)
		os.Exit(1)
	}
	if *razorpayKeyID == "" {
		slog.Warn("No Razorpay key id configured, checkout will not open")
	}

	// Initialize service
	catalog := plan.NewCatalog()
	usage := ledger.Open(store, catalog)
	documents := document.Open(store)
	workflow := subscription.NewWorkflow(catalog, usage, payments, payments)
	workflow.Observe(func(from, to subscription.State) {
		slog.Info("Checkout state changed", "from", from, "to", to)
	})
	scannerService := scanner.NewService(catalog, usage, documents, workflow, recognizer, export.NewRenderer(*watermark))

	snap := usage.Snapshot()
	slog.Info("Loaded state", "plan", snap.PlanID, "scans_used", snap.ScansUsed, "documents", documents.Len(), "degraded", store.Degraded())

	// Initialize server
	basicAuth := scanner.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := scanner.NewServer(scannerService, basicAuth, *razorpayKeyID)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
