package util

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Auditor appends one JSON record per line to an audit trail file. Records
// survive process crashes up to the last completed write; the file is opened
// per append so external rotation is safe.
type Auditor struct {
	mu   sync.Mutex
	path string
}

// NewAuditor creates an Auditor writing to path. The file is created on the
// first record.
func NewAuditor(path string) *Auditor {
	return &Auditor{path: path}
}

type auditRecord struct {
	TS      string         `json:"ts"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Log appends one event record with a UTC timestamp.
func (a *Auditor) Log(event string, payload map[string]any) error {
	rec := auditRecord{
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Event:   event,
		Payload: payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling audit record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}
