package entitlement

import (
	"errors"
	"fmt"

	"github.com/zombor/docscan/internal/ledger"
	"github.com/zombor/docscan/internal/plan"
)

var (
	ErrQuotaExceeded = errors.New("entitlement: scan quota exceeded")
	ErrFeatureLocked = errors.New("entitlement: feature not available on current plan")
)

// Action is an operation gated by the current plan
type Action string

const (
	Scan           Action = "scan"
	ExtractText    Action = "extract_text"
	ExportCleanPDF Action = "export_clean_pdf"
)

// Usage is the part of the ledger the engine reads
type Usage interface {
	Standing() ledger.Standing
}

// Decision is the outcome of evaluating an action
type Decision struct {
	Action    Action     `json:"action"`
	Allowed   bool       `json:"allowed"`
	Plan      plan.ID    `json:"plan"`
	Remaining plan.Limit `json:"remaining"`
	Reason    string     `json:"reason,omitempty"`
}

// Denial is returned by Check. The caller shows an upgrade prompt.
type Denial struct {
	Decision
	err error
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.err, d.Reason)
}

func (d *Denial) Unwrap() error {
	return d.err
}

// UpgradeRequired is always true for a denial
func (d *Denial) UpgradeRequired() bool {
	return true
}

// Engine evaluates actions against the ledger and the plan catalog
type Engine struct {
	usage Usage
}

// NewEngine creates an Engine reading from usage
func NewEngine(usage Usage) *Engine {
	return &Engine{usage: usage}
}

// Evaluate decides whether action is permitted right now
func (e *Engine) Evaluate(action Action) Decision {
	return e.Decide(e.usage.Standing(), action)
}

// Decide evaluates action against st. Callers reporting several decisions
// read the standing once and decide each action from it.
func (e *Engine) Decide(st ledger.Standing, action Action) Decision {
	current, remaining := st.Plan, st.Remaining
	d := Decision{
		Action:    action,
		Plan:      current.ID,
		Remaining: remaining,
	}

	switch action {
	case Scan:
		d.Allowed = remaining.IsUnlimited() || remaining.Count() > 0
		if !d.Allowed {
			d.Reason = fmt.Sprintf("you have reached the %d scan limit of the %s plan", current.ScanLimit.Count(), current.DisplayName)
		}
	case ExtractText:
		d.Allowed = !current.IsFree()
		if !d.Allowed {
			d.Reason = "text extraction is available in the Student plan and above"
		}
	case ExportCleanPDF:
		d.Allowed = !current.IsFree()
		if !d.Allowed {
			d.Reason = "exports on the free plan are watermarked"
		}
	default:
		d.Reason = fmt.Sprintf("unknown action %q", action)
	}
	return d
}

// CanPerform reports whether action is permitted
func (e *Engine) CanPerform(action Action) bool {
	return e.Evaluate(action).Allowed
}

// Check returns a *Denial when action is not permitted
func (e *Engine) Check(action Action) error {
	d := e.Evaluate(action)
	if d.Allowed {
		return nil
	}
	err := ErrFeatureLocked
	if action == Scan {
		err = ErrQuotaExceeded
	}
	return &Denial{Decision: d, err: err}
}

// Watermark reports whether exports must carry the watermark.
// Export itself is never denied.
func (e *Engine) Watermark() bool {
	return !e.CanPerform(ExportCleanPDF)
}
