package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"limitless/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ LedgerStore = (*SQLiteStore)(nil)
var _ DayStateStore = (*SQLiteStore)(nil)
var _ AuditStore = (*SQLiteStore)(nil)

// SQLiteStore implements LedgerStore, DayStateStore, and AuditStore backed
// by a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	settled     REAL NOT NULL,
	cum_buys    REAL NOT NULL,
	cum_sells   REAL NOT NULL,
	baseline    REAL NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS buckets (
	id          INTEGER PRIMARY KEY,
	amount      REAL NOT NULL,
	settle_date TEXT NOT NULL,
	status      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS day_state (
	trade_date  TEXT PRIMARY KEY,
	equity      REAL NOT NULL,
	realized    REAL NOT NULL,
	soft_hit    INTEGER NOT NULL,
	hard_hit    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT NOT NULL,
	kind      TEXT NOT NULL,
	class     TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	message   TEXT NOT NULL,
	payload   TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// LoadLedger returns the persisted ledger state, or (nil, nil) when the
// database holds none.
func (s *SQLiteStore) LoadLedger(ctx context.Context) (*LedgerState, error) {
	state := &LedgerState{}
	row := s.db.QueryRowContext(ctx,
		`SELECT settled, cum_buys, cum_sells, baseline FROM ledger WHERE id = 1`)
	err := row.Scan(&state.SettledCash, &state.CumBuys, &state.CumSells, &state.Baseline)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading ledger row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, settle_date, status FROM buckets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading buckets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b domain.Bucket
		var settleDate, status string
		if err := rows.Scan(&b.ID, &b.Amount, &settleDate, &status); err != nil {
			return nil, fmt.Errorf("scanning bucket: %w", err)
		}
		b.SettlementDate, err = time.Parse("2006-01-02", settleDate)
		if err != nil {
			return nil, fmt.Errorf("parsing bucket settle date %q: %w", settleDate, err)
		}
		b.Status = domain.BucketStatus(status)
		state.Buckets = append(state.Buckets, b)
	}
	return state, rows.Err()
}

// SaveLedger replaces the persisted ledger state in one transaction.
func (s *SQLiteStore) SaveLedger(ctx context.Context, state *LedgerState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger (id, settled, cum_buys, cum_sells, baseline, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			settled = excluded.settled,
			cum_buys = excluded.cum_buys,
			cum_sells = excluded.cum_sells,
			baseline = excluded.baseline,
			updated_at = excluded.updated_at`,
		state.SettledCash, state.CumBuys, state.CumSells, state.Baseline,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving ledger row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets`); err != nil {
		return fmt.Errorf("clearing buckets: %w", err)
	}
	for _, b := range state.Buckets {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO buckets (id, amount, settle_date, status) VALUES (?, ?, ?, ?)`,
			b.ID, b.Amount, b.SettlementDate.Format("2006-01-02"), string(b.Status))
		if err != nil {
			return fmt.Errorf("saving bucket %d: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// DayStateStore implementation
// ---------------------------------------------------------------------------

// LoadDayState returns the cap state for the given trading date, or
// (nil, nil) when none was saved.
func (s *SQLiteStore) LoadDayState(ctx context.Context, date time.Time) (*domain.DailyCapState, error) {
	state := &domain.DailyCapState{TradingDate: date}
	var softHit, hardHit int
	row := s.db.QueryRowContext(ctx,
		`SELECT equity, realized, soft_hit, hard_hit FROM day_state WHERE trade_date = ?`,
		date.Format("2006-01-02"))
	err := row.Scan(&state.StartingEquity, &state.RealizedPnL, &softHit, &hardHit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading day state: %w", err)
	}
	state.SoftCapHit = softHit != 0
	state.HardCapHit = hardHit != 0
	return state, nil
}

// SaveDayState inserts or updates the cap state for its trading date.
func (s *SQLiteStore) SaveDayState(ctx context.Context, state *domain.DailyCapState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_state (trade_date, equity, realized, soft_hit, hard_hit)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trade_date) DO UPDATE SET
			equity = excluded.equity,
			realized = excluded.realized,
			soft_hit = excluded.soft_hit,
			hard_hit = excluded.hard_hit`,
		state.TradingDate.Format("2006-01-02"),
		state.StartingEquity, state.RealizedPnL,
		boolInt(state.SoftCapHit), boolInt(state.HardCapHit))
	if err != nil {
		return fmt.Errorf("saving day state: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// AuditStore implementation
// ---------------------------------------------------------------------------

// SaveEvent appends one event to the audit trail.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshalling event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (ts, kind, class, symbol, message, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Kind), ev.Class.String(), ev.Symbol, ev.Message, string(payload))
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, kind, class, symbol, message, payload
		FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var ts, kind, class, payload string
		if err := rows.Scan(&ts, &kind, &class, &ev.Symbol, &ev.Message, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", ts, err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.Class = domain.ParseEventClass(class)
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("parsing event payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
