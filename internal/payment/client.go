package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/docscan/internal/subscription"
)

// Client talks to the payments Server. It implements subscription.Checkout
// and subscription.Verifier.
type Client struct {
	baseURL string
	client  *http.Client
}

var (
	_ subscription.Checkout = (*Client)(nil)
	_ subscription.Verifier = (*Client)(nil)
)

// NewClient creates a Client for the payments server at baseURL
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("payments url is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Open creates the gateway order the hosted checkout is opened with.
// The description is shown by the checkout UI and not sent to the backend.
func (c *Client) Open(ctx context.Context, amount int, currency, description string) (*subscription.Order, error) {
	var order subscription.Order
	err := c.post(ctx, "/create-order", createOrderRequest{Amount: amount, Currency: currency}, &order)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	return &order, nil
}

// VerifyPayment asks the backend to check the payment signature
func (c *Client) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error) {
	var resp verifyPaymentResponse
	err := c.post(ctx, "/verify-payment", verifyPaymentRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature,
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("verifying payment: %w", err)
	}
	return resp.Success, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling payments API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("payments API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
