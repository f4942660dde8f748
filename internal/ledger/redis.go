package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix  = "docpipe:status:"
	stateFieldPrefix = "state:"
)

// Config defines Redis ledger settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisLedger stores one hash per document: created_at (insert-only),
// updated_at, and a state:<stage> JSON field per stage. Field-level writes
// keep concurrent stage updates independent.
type RedisLedger struct {
	client *redis.Client
}

// NewRedis connects a ledger on a fresh Redis connection.
func NewRedis(ctx context.Context, cfg Config) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisLedger{client: client}, nil
}

func (l *RedisLedger) Close() error { return l.client.Close() }

func (l *RedisLedger) Upsert(ctx context.Context, documentID, stage, status string, extra map[string]any) (*Record, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id required for status upsert")
	}
	now := time.Now().UTC()
	state, err := json.Marshal(StageState{Status: status, TS: now, Extra: extra})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage state: %w", err)
	}

	key := recordKeyPrefix + documentID
	pipe := l.client.TxPipeline()
	pipe.HSetNX(ctx, key, "created_at", now.Format(time.RFC3339Nano))
	pipe.HSet(ctx, key, "updated_at", now.Format(time.RFC3339Nano))
	pipe.HSet(ctx, key, stateFieldPrefix+stage, string(state))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to upsert status for %s: %w", documentID, err)
	}

	return l.Get(ctx, documentID)
}

func (l *RedisLedger) Get(ctx context.Context, documentID string) (*Record, error) {
	fields, err := l.client.HGetAll(ctx, recordKeyPrefix+documentID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s: %w", documentID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(documentID, fields), nil
}

func (l *RedisLedger) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*Record
	iter := l.client.Scan(ctx, 0, recordKeyPrefix+"*", int64(limit)).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := l.client.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		records = append(records, recordFromFields(strings.TrimPrefix(key, recordKeyPrefix), fields))
		if len(records) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return records, fmt.Errorf("failed to scan status records: %w", err)
	}
	return records, nil
}

func recordFromFields(documentID string, fields map[string]string) *Record {
	rec := &Record{
		ID:     documentID,
		States: make(map[string]StageState),
	}
	for field, value := range fields {
		switch {
		case field == "created_at":
			rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, value)
		case field == "updated_at":
			rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, value)
		case strings.HasPrefix(field, stateFieldPrefix):
			var state StageState
			if err := json.Unmarshal([]byte(value), &state); err != nil {
				continue
			}
			rec.States[strings.TrimPrefix(field, stateFieldPrefix)] = state
		}
	}
	return rec
}
