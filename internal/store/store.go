// Package store defines storage interfaces for the durable state the
// trading engine needs to resume across restarts: settlement buckets,
// daily cap snapshots, and the audit event trail.
package store

import (
	"context"
	"time"

	"limitless/internal/domain"
)

// LedgerState is the persisted form of the settlement ledger.
type LedgerState struct {
	SettledCash float64
	CumBuys     float64 // cumulative buy costs since baseline
	CumSells    float64 // cumulative net sale proceeds since baseline
	Baseline    float64 // cash at first initialization
	Buckets     []domain.Bucket
}

// LedgerStore persists and restores the settlement ledger.
type LedgerStore interface {
	// LoadLedger returns the persisted ledger state, or (nil, nil) when no
	// state has been saved yet.
	LoadLedger(ctx context.Context) (*LedgerState, error)

	// SaveLedger replaces the persisted ledger state.
	SaveLedger(ctx context.Context, state *LedgerState) error
}

// DayStateStore persists per-trading-date cap tracking state.
type DayStateStore interface {
	// LoadDayState returns the cap state saved for the given trading date,
	// or (nil, nil) when none exists.
	LoadDayState(ctx context.Context, date time.Time) (*domain.DailyCapState, error)

	// SaveDayState inserts or updates the cap state for its trading date.
	SaveDayState(ctx context.Context, state *domain.DailyCapState) error
}

// AuditStore persists the engine's event trail.
type AuditStore interface {
	// SaveEvent appends one event to the audit trail.
	SaveEvent(ctx context.Context, ev domain.Event) error

	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
}
