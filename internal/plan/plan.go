package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownPlan         = errors.New("plan: unknown plan")
	ErrNotPurchasable      = errors.New("plan: plan cannot be purchased")
	ErrUnknownBillingCycle = errors.New("plan: unknown billing cycle")
)

// ID identifies a subscription tier
type ID string

const (
	Free         ID = "free"
	Student      ID = "student"
	Professional ID = "professional"
	Business     ID = "business"
)

// BillingCycle selects which price of a plan is charged
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

// Limit is a scan quota. The zero value is a finite limit of 0.
type Limit struct {
	n         int
	unlimited bool
}

// Unlimited is the quota of plans without a scan cap
var Unlimited = Limit{unlimited: true}

// Scans returns a finite limit of n scans
func Scans(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// IsUnlimited reports whether the limit has no bound
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Count returns the bound of a finite limit. It is 0 for Unlimited.
func (l Limit) Count() int {
	return l.n
}

// Minus returns the limit left after used scans, never below zero
func (l Limit) Minus(used int) Limit {
	if l.unlimited {
		return l
	}
	return Scans(l.n - used)
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.Itoa(l.n)), nil
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("invalid scan limit %q", s)
		}
		*l = Unlimited
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid scan limit: %w", err)
	}
	*l = Scans(n)
	return nil
}

// Plan is an immutable catalog entry. Prices are whole rupees.
type Plan struct {
	ID           ID     `json:"id"`
	DisplayName  string `json:"name"`
	ScanLimit    Limit  `json:"scans_limit"`
	MonthlyPrice int    `json:"monthly_price"`
	YearlyPrice  int    `json:"yearly_price"`
}

// IsFree reports whether this is the reserved unpaid plan
func (p Plan) IsFree() bool {
	return p.ID == Free
}

// Price returns the amount charged for the given billing cycle
func (p Plan) Price(cycle BillingCycle) (int, error) {
	if p.IsFree() {
		return 0, fmt.Errorf("%w: %s", ErrNotPurchasable, p.ID)
	}
	switch cycle {
	case Monthly:
		return p.MonthlyPrice, nil
	case Yearly:
		return p.YearlyPrice, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBillingCycle, cycle)
	}
}
