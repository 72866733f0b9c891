package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/docscan/internal/payment"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("payments")
	var (
		port      = fs.IntLong("port", 5000, "HTTP server port")
		keyID     = fs.StringLong("razorpay-key-id", "", "Razorpay key id (or set RAZORPAY_KEY_ID env var)")
		keySecret = fs.StringLong("razorpay-key-secret", "", "Razorpay key secret (or set RAZORPAY_KEY_SECRET env var)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSCAN_PAYMENTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	id, secret := *keyID, *keySecret
	if id == "" {
		id = os.Getenv("RAZORPAY_KEY_ID")
	}
	if secret == "" {
		secret = os.Getenv("RAZORPAY_KEY_SECRET")
	}

	gateway, err := payment.NewRazorpay(id, secret)
	if err != nil {
		slog.Error("Failed to initialize Razorpay", "error", err)
		os.Exit(1)
	}

	server := payment.NewServer(gateway, secret)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Payments server started", "address", fmt.Sprintf("http://localhost%s", addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
