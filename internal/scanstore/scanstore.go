// Package scanstore persists per-bed vital-sign scan rows: one row per
// bio-sensor attempt (valid or invalid) plus synthetic N/A rows the engine
// writes on conditional skips and shelf drops.
package scanstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is a scan row's outcome classification.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusNA      Status = "N/A"
)

// IsValid reports whether s is a recognized status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusNA:
		return true
	default:
		return false
	}
}

// Row is one append-only scan record.
type Row struct {
	ID         int64     `json:"id"`
	LocationID string    `json:"location_id"`
	BedName    string    `json:"bed_name"`
	BPM        int       `json:"bpm,omitempty"`
	RPM        int       `json:"rpm,omitempty"`
	Status     Status    `json:"status"`
	IsValid    bool      `json:"is_valid"`
	RetryCount int       `json:"retry_count"`
	Details    string    `json:"details,omitempty"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Validate checks structural well-formedness before a row is appended.
func (r *Row) Validate() error {
	if r.BedName == "" {
		return errors.New("scanstore: bed_name is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("scanstore: invalid status %q", r.Status)
	}
	return nil
}

// ErrNotFound is returned by Get when no row has the given id.
var ErrNotFound = errors.New("scanstore: row not found")

// Store is the Scan Recorder interface (§6, consumed): append-only rows
// keyed internally by autoincrement id. Used both by the bio-sensor client
// (real scans) and the engine (N/A rows on skips and drops).
type Store interface {
	Append(ctx context.Context, row Row) (Row, error)
	Get(ctx context.Context, id int64) (Row, error)
	ListByBed(ctx context.Context, bedName string) ([]Row, error)
	List(ctx context.Context) ([]Row, error)
}

// memoryStore is an in-memory Store. The persistent backend choice is out
// of scope (§1); this satisfies every operation the engine and bio-sensor
// client need without committing to a database driver the pack has no
// grounded example for.
type memoryStore struct {
	mu   sync.Mutex
	rows []Row
	next int64
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{next: 1}
}

func (s *memoryStore) Append(ctx context.Context, row Row) (Row, error) {
	if err := row.Validate(); err != nil {
		return Row{}, err
	}
	if row.ScannedAt.IsZero() {
		row.ScannedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = s.next
	s.next++
	s.rows = append(s.rows, row)
	return row, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return Row{}, ErrNotFound
}

func (s *memoryStore) ListByBed(ctx context.Context, bedName string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, r := range s.rows {
		if r.BedName == bedName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) List(ctx context.Context) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

// NAOptions carries the fields needed to synthesize an N/A row for a
// skipped or drop-interrupted bio_scan step.
type NAOptions struct {
	LocationID string
	BedName    string
	Details    string
	RetryCount int
}

// AppendNA writes a synthetic N/A row, used by the engine on conditional
// skips (§4.4 step 3) and on shelf-drop recovery (§4.6 step 5).
func AppendNA(ctx context.Context, store Store, opts NAOptions) error {
	_, err := store.Append(ctx, Row{
		LocationID: opts.LocationID,
		BedName:    opts.BedName,
		Status:     StatusNA,
		IsValid:    false,
		RetryCount: opts.RetryCount,
		Details:    opts.Details,
	})
	return err
}
