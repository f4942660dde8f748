package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps records in process memory. It backs tests and the
// single-process demo mode.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemory() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*Record)}
}

func (l *MemoryLedger) Upsert(ctx context.Context, documentID, stage, status string, extra map[string]any) (*Record, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id required for status upsert")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := l.records[documentID]
	if !ok {
		rec = &Record{
			ID:        documentID,
			CreatedAt: now,
			States:    make(map[string]StageState),
		}
		l.records[documentID] = rec
	}
	rec.UpdatedAt = now
	rec.States[stage] = StageState{Status: status, TS: now, Extra: extra}
	return copyRecord(rec), nil
}

func (l *MemoryLedger) Get(ctx context.Context, documentID string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (l *MemoryLedger) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyRecord(rec *Record) *Record {
	out := &Record{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		States:    make(map[string]StageState, len(rec.States)),
	}
	for k, v := range rec.States {
		out.States[k] = v
	}
	return out
}
