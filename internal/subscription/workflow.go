// Package subscription runs the purchase of a plan: quote, hosted
// checkout, and the plan change once the payment signature is verified.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/plan"
)

// Currency is the only currency the gateway is asked to charge
const Currency = "INR"

var (
	ErrPaymentFailure    = errors.New("subscription: payment failed")
	ErrSignatureMismatch = errors.New("subscription: payment signature could not be verified")
	ErrNoPendingPayment  = errors.New("subscription: no payment is awaiting confirmation")
	ErrVerifying         = errors.New("subscription: a payment is being verified")
	ErrSuperseded        = errors.New("subscription: checkout was replaced by a newer one")
)

// State is a step of the purchase state machine
type State string

const (
	Idle            State = "idle"
	Quoting         State = "quoting"
	AwaitingPayment State = "awaiting_payment"
	Verifying       State = "verifying"
	Confirmed       State = "confirmed"
	Failed          State = "failed"
)

// Order is the gateway order created for a checkout
type Order struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"` // smallest currency unit
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Checkout opens the hosted payment flow
type Checkout interface {
	Open(ctx context.Context, amount int, currency, description string) (*Order, error)
}

// Verifier checks the gateway signature of a payment on the server side
type Verifier interface {
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error)
}

// PlanChanger commits a confirmed plan change
type PlanChanger interface {
	ApplyPlanChange(planID plan.ID, confirmationID string, confirmedAt time.Time) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Quote is the price of a plan for a billing cycle, in whole currency units
type Quote struct {
	Plan        plan.ID           `json:"plan"`
	Cycle       plan.BillingCycle `json:"billing_cycle"`
	Amount      int               `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
}

// PendingCheckout is a checkout waiting for its payment callback
type PendingCheckout struct {
	Quote
	Order    Order     `json:"order"`
	OpenedAt time.Time `json:"opened_at"`
}

// PaymentResult is the success callback of the hosted checkout
type PaymentResult struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// Receipt records a completed purchase
type Receipt struct {
	Plan        plan.ID   `json:"plan"`
	PaymentID   string    `json:"payment_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// PaymentError carries the reason reported by the gateway
type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPaymentFailure, e.Reason)
}

func (e *PaymentError) Unwrap() error {
	return ErrPaymentFailure
}

// Workflow is the purchase state machine
type Workflow struct {
	mu       sync.Mutex
	catalog  *plan.Catalog
	ledger   PlanChanger
	checkout Checkout
	verifier Verifier
	clock    TimeSource
	state    State
	pending  *PendingCheckout
	attempt  uint64
	observer func(from, to State)
}

// NewWorkflow creates an idle Workflow
func NewWorkflow(catalog *plan.Catalog, ledger PlanChanger, checkout Checkout, verifier Verifier) *Workflow {
	return NewWorkflowWithClock(catalog, ledger, checkout, verifier, defaultTimeSource{})
}

// NewWorkflowWithClock creates an idle Workflow with a custom time source for testing
func NewWorkflowWithClock(catalog *plan.Catalog, ledger PlanChanger, checkout Checkout, verifier Verifier, clock TimeSource) *Workflow {
	return &Workflow{
		catalog:  catalog,
		ledger:   ledger,
		checkout: checkout,
		verifier: verifier,
		clock:    clock,
		state:    Idle,
	}
}

// Observe registers fn to be called on every state transition
func (w *Workflow) Observe(fn func(from, to State)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = fn
}

// transition must be called with w.mu held
func (w *Workflow) transition(to State) {
	from := w.state
	w.state = to
	if w.observer != nil {
		w.observer(from, to)
	}
}

// State returns the current step
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns the checkout awaiting payment, if any
func (w *Workflow) Pending() *PendingCheckout {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return nil
	}
	p := *w.pending
	return &p
}

// Quote prices planID for cycle
func (w *Workflow) Quote(planID plan.ID, cycle plan.BillingCycle) (Quote, error) {
	p, err := w.catalog.Lookup(planID)
	if err != nil {
		return Quote{}, err
	}
	amount, err := p.Price(cycle)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Plan:        p.ID,
		Cycle:       cycle,
		Amount:      amount,
		Currency:    Currency,
		Description: fmt.Sprintf("%s Plan - %s", p.DisplayName, cycle),
	}, nil
}

// Subscribe quotes the plan and opens the checkout. An abandoned checkout
// still awaiting payment is replaced. The lock is not held while the
// checkout is opened; a Subscribe that lost to a newer one returns
// ErrSuperseded.
func (w *Workflow) Subscribe(ctx context.Context, planID plan.ID, cycle plan.BillingCycle) (*PendingCheckout, error) {
	w.mu.Lock()
	if w.state == Verifying {
		w.mu.Unlock()
		return nil, ErrVerifying
	}
	if w.pending != nil {
		slog.Info("Replacing abandoned checkout", "order_id", w.pending.Order.ID)
	}
	w.pending = nil
	w.attempt++
	attempt := w.attempt
	w.transition(Quoting)

	quote, err := w.Quote(planID, cycle)
	if err != nil {
		w.transition(Idle)
		w.mu.Unlock()
		return nil, fmt.Errorf("quoting plan: %w", err)
	}
	w.mu.Unlock()

	order, err := w.checkout.Open(ctx, quote.Amount, quote.Currency, quote.Description)

	w.mu.Lock()
	defer w.mu.Unlock()

	if attempt != w.attempt {
		return nil, ErrSuperseded
	}
	if err != nil {
		w.transition(Idle)
		return nil, fmt.Errorf("opening checkout: %w", err)
	}

	w.pending = &PendingCheckout{Quote: quote, Order: *order, OpenedAt: w.clock.Now().UTC()}
	w.transition(AwaitingPayment)
	slog.Info("Checkout opened", "plan", quote.Plan, "cycle", quote.Cycle, "amount", quote.Amount, "order_id", order.ID)

	p := *w.pending
	return &p, nil
}

// ConfirmPayment handles the success callback. The plan changes only when
// the verifier accepts the signature. The workflow is Verifying while the
// verifier runs, without holding the lock.
func (w *Workflow) ConfirmPayment(ctx context.Context, result PaymentResult) (*Receipt, error) {
	w.mu.Lock()
	if w.state == Verifying {
		w.mu.Unlock()
		return nil, ErrVerifying
	}
	if w.state != AwaitingPayment || w.pending == nil {
		w.mu.Unlock()
		return nil, ErrNoPendingPayment
	}
	if result.OrderID != w.pending.Order.ID {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s", ErrNoPendingPayment, result.OrderID)
	}
	pending := *w.pending
	w.transition(Verifying)
	w.mu.Unlock()

	ok, err := w.verifier.VerifyPayment(ctx, result.OrderID, result.PaymentID, result.Signature)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		// still awaiting: the callback can be retried
		w.transition(AwaitingPayment)
		return nil, fmt.Errorf("verifying payment: %w", err)
	}
	if !ok {
		w.fail()
		slog.Warn("Payment signature rejected", "order_id", result.OrderID, "payment_id", result.PaymentID)
		return nil, ErrSignatureMismatch
	}

	now := w.clock.Now().UTC()
	if err := w.ledger.ApplyPlanChange(pending.Plan, result.PaymentID, now); err != nil {
		w.fail()
		return nil, fmt.Errorf("applying plan change: %w", err)
	}

	w.transition(Confirmed)
	receipt := &Receipt{Plan: pending.Plan, PaymentID: result.PaymentID, ConfirmedAt: now}
	w.pending = nil
	w.transition(Idle)
	return receipt, nil
}

// FailPayment handles the failure callback
func (w *Workflow) FailPayment(reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Verifying {
		return ErrVerifying
	}
	if w.state != AwaitingPayment {
		return ErrNoPendingPayment
	}
	slog.Warn("Payment failed", "order_id", w.pending.Order.ID, "reason", reason)
	w.fail()
	return &PaymentError{Reason: reason}
}

// fail must be called with w.mu held
func (w *Workflow) fail() {
	w.transition(Failed)
	w.pending = nil
	w.transition(Idle)
}
