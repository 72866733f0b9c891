// Package ledger keeps the persisted subscription state: the current plan,
// the scans consumed on it and the last payment confirmation.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/plan"
	"github.com/zombor/docscan/internal/state"
)

// Snapshot is a consistent view of the ledger
type Snapshot struct {
	PlanID           plan.ID   `json:"current_plan"`
	ScansUsed        int       `json:"scans_used"`
	SubscriptionID   string    `json:"subscription_id,omitempty"`
	SubscriptionDate time.Time `json:"subscription_date,omitempty"`
}

// Standing is a snapshot resolved against the catalog under one lock
type Standing struct {
	Snapshot
	Plan      plan.Plan
	Remaining plan.Limit
}

// Ledger is the process-wide usage record. Only its methods mutate it.
type Ledger struct {
	mu      sync.Mutex
	store   state.Store
	catalog *plan.Catalog
	snap    Snapshot
}

// Open loads the ledger from store. Missing or unreadable values start
// at the free plan with no scans used.
func Open(store state.Store, catalog *plan.Catalog) *Ledger {
	l := &Ledger{
		store:   store,
		catalog: catalog,
		snap:    Snapshot{PlanID: plan.Free},
	}

	var planID plan.ID
	if found, err := store.Load(state.KeyCurrentPlan, &planID); err != nil {
		slog.Warn("Failed to load current plan", "error", err)
	} else if found {
		if _, err := catalog.Lookup(planID); err != nil {
			slog.Warn("Ignoring stored plan", "plan", planID, "error", err)
		} else {
			l.snap.PlanID = planID
		}
	}

	var used int
	if found, err := store.Load(state.KeyScansUsed, &used); err != nil {
		slog.Warn("Failed to load scans used", "error", err)
	} else if found && used > 0 {
		l.snap.ScansUsed = used
	}

	if _, err := store.Load(state.KeySubscriptionID, &l.snap.SubscriptionID); err != nil {
		slog.Warn("Failed to load subscription id", "error", err)
	}

	var date *time.Time
	if found, err := store.Load(state.KeySubscriptionDate, &date); err != nil {
		slog.Warn("Failed to load subscription date", "error", err)
	} else if found && date != nil {
		l.snap.SubscriptionDate = *date
	}

	return l
}

// Snapshot returns the current ledger values
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Standing returns the snapshot together with its plan and remaining quota
func (l *Ledger) Standing() Standing {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.currentPlan()
	return Standing{
		Snapshot:  l.snap,
		Plan:      current,
		Remaining: current.ScanLimit.Minus(l.snap.ScansUsed),
	}
}

// CurrentPlan returns the catalog entry of the current plan
func (l *Ledger) CurrentPlan() plan.Plan {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPlan()
}

func (l *Ledger) currentPlan() plan.Plan {
	p, err := l.catalog.Lookup(l.snap.PlanID)
	if err != nil {
		// ApplyPlanChange and Open only ever store catalog ids
		panic(err)
	}
	return p
}

// ScansUsed returns the scans consumed since the last plan change
func (l *Ledger) ScansUsed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.ScansUsed
}

// ScansRemaining returns the quota left on the current plan
func (l *Ledger) ScansRemaining() plan.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPlan().ScanLimit.Minus(l.snap.ScansUsed)
}

// RecordScan counts one scan and persists it immediately. Callers check
// entitlement first; the ledger does not enforce the limit.
func (l *Ledger) RecordScan() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap.ScansUsed++
	l.persist(map[string]any{state.KeyScansUsed: l.snap.ScansUsed})
}

// ApplyPlanChange switches to planID, resets usage and records the
// payment confirmation in one write.
func (l *Ledger) ApplyPlanChange(planID plan.ID, confirmationID string, confirmedAt time.Time) error {
	if _, err := l.catalog.Lookup(planID); err != nil {
		return fmt.Errorf("applying plan change: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap = Snapshot{
		PlanID:           planID,
		ScansUsed:        0,
		SubscriptionID:   confirmationID,
		SubscriptionDate: confirmedAt.UTC(),
	}
	l.persist(map[string]any{
		state.KeyCurrentPlan:      l.snap.PlanID,
		state.KeyScansUsed:        l.snap.ScansUsed,
		state.KeySubscriptionID:   l.snap.SubscriptionID,
		state.KeySubscriptionDate: l.snap.SubscriptionDate,
	})

	slog.Info("Plan changed", "plan", planID, "subscription_id", confirmationID)
	return nil
}

// persist must be called with l.mu held
func (l *Ledger) persist(entries map[string]any) {
	if err := l.store.Save(entries); err != nil {
		slog.Error("Failed to persist ledger", "error", err)
	}
}
