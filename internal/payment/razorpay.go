package payment

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/zombor/docscan/internal/subscription"
)

// OrderCreator creates gateway orders. Amounts are in the smallest currency unit.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount int, currency, receipt string) (*subscription.Order, error)
}

// Razorpay implements OrderCreator using the Razorpay orders API
type Razorpay struct {
	client *razorpay.Client
}

// NewRazorpay creates a Razorpay order client
func NewRazorpay(keyID, keySecret string) (*Razorpay, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay key id and secret are required")
	}
	return &Razorpay{client: razorpay.NewClient(keyID, keySecret)}, nil
}

// CreateOrder creates an order for amount
func (r *Razorpay) CreateOrder(ctx context.Context, amount int, currency, receipt string) (*subscription.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := r.client.Order.Create(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating razorpay order: %w", err)
	}
	return orderFromResponse(body)
}

func orderFromResponse(body map[string]interface{}) (*subscription.Order, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("razorpay order response has no id")
	}
	order := &subscription.Order{ID: id}
	order.Currency, _ = body["currency"].(string)
	order.Receipt, _ = body["receipt"].(string)
	order.Status, _ = body["status"].(string)
	// JSON numbers decode as float64
	switch amount := body["amount"].(type) {
	case float64:
		order.Amount = int(amount)
	case int:
		order.Amount = amount
	}
	return order, nil
}
