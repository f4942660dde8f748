// Package ledger tracks per-document, per-stage pipeline progress
// independently of the broker. Stages write their own entry only; reading is
// an external-observer concern served to the gateway.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Common status tokens. Status is free-form; these are the ones the pipeline
// stages use.
const (
	StatusStarted = "started"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// ErrNotFound is returned by readers when no record exists for a document.
var ErrNotFound = errors.New("status record not found")

// StageState is one stage's entry within a status record.
type StageState struct {
	Status string         `json:"status"`
	TS     time.Time      `json:"ts"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Record is the consolidated per-document view. CreatedAt is set once on
// first write and never changes; UpdatedAt tracks the latest write.
type Record struct {
	ID        string                `json:"_id"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	States    map[string]StageState `json:"states"`
}

// Ledger is the write interface stages use. Upsert creates the record on
// first use, refreshes updated_at, and overwrites exactly the named stage's
// entry.
type Ledger interface {
	Upsert(ctx context.Context, documentID, stage, status string, extra map[string]any) (*Record, error)
}

// Reader is the observer-side interface consumed by the gateway dashboard.
type Reader interface {
	Get(ctx context.Context, documentID string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
}
