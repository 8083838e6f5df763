package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"limitless/internal/domain"
)

// FillRecord is the Parquet schema for the fill journal.
type FillRecord struct {
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	Qty         int64   `parquet:"qty"`
	Price       float64 `parquet:"price"`
	RealizedPnL float64 `parquet:"realized_pnl"`
	Reason      string  `parquet:"reason"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// JournalArchive accumulates fills in memory and writes one Parquet file per
// trading date under <dataDir>/journal/<YYYY-MM-DD>.parquet. Flush merges
// with any file already on disk, so a restart mid-day loses nothing.
type JournalArchive struct {
	mu      sync.Mutex
	dataDir string
	pending []domain.Fill
}

// NewJournalArchive creates an archive rooted at dataDir.
func NewJournalArchive(dataDir string) *JournalArchive {
	return &JournalArchive{dataDir: dataDir}
}

// Record buffers one fill for the next Flush.
func (j *JournalArchive) Record(f domain.Fill) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = append(j.pending, f)
}

// Flush writes buffered fills to their per-date files and clears the
// buffer. Partial failures keep the unwritten fills buffered.
func (j *JournalArchive) Flush() error {
	j.mu.Lock()
	pending := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	groups := make(map[string][]FillRecord)
	for _, f := range pending {
		date := f.Timestamp.Format("2006-01-02")
		groups[date] = append(groups[date], FillRecord{
			Symbol:      f.Symbol,
			Side:        string(f.Side),
			Qty:         f.Qty,
			Price:       f.Price,
			RealizedPnL: f.RealizedPnL,
			Reason:      f.Reason,
			Timestamp:   f.Timestamp.UnixMilli(),
		})
	}

	for date, records := range groups {
		path := j.journalPath(date)
		existing, _ := readParquetFile[FillRecord](path)
		merged := append(existing, records...)
		sort.Slice(merged, func(i, k int) bool {
			return merged[i].Timestamp < merged[k].Timestamp
		})
		if err := writeParquetFile(path, merged); err != nil {
			j.mu.Lock()
			j.pending = append(j.pending, fillsFromRecords(records)...)
			j.mu.Unlock()
			return fmt.Errorf("writing fill journal for %s: %w", date, err)
		}
	}
	return nil
}

// Read returns all fills journalled for a trading date, oldest first.
func (j *JournalArchive) Read(date time.Time) ([]domain.Fill, error) {
	records, err := readParquetFile[FillRecord](j.journalPath(date.Format("2006-01-02")))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fill journal: %w", err)
	}
	return fillsFromRecords(records), nil
}

func (j *JournalArchive) journalPath(date string) string {
	return filepath.Join(j.dataDir, "journal", date+".parquet")
}

func fillsFromRecords(records []FillRecord) []domain.Fill {
	fills := make([]domain.Fill, 0, len(records))
	for _, r := range records {
		fills = append(fills, domain.Fill{
			Symbol:      r.Symbol,
			Side:        domain.OrderSide(r.Side),
			Qty:         r.Qty,
			Price:       r.Price,
			RealizedPnL: r.RealizedPnL,
			Reason:      r.Reason,
			Timestamp:   time.UnixMilli(r.Timestamp),
		})
	}
	return fills
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
