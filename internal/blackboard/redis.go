package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshotter persists a finished run's blackboard as a Redis hash so it can
// be inspected after the in-memory board is discarded.
type Snapshotter struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSnapshotter returns a snapshotter writing keys under prefix.
func NewSnapshotter(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Snapshotter {
	if prefix == "" {
		prefix = "scholar"
	}
	return &Snapshotter{rdb: rdb, prefix: prefix, ttl: ttl}
}

// SnapshotKey returns the hash key for one run and domain.
func (s *Snapshotter) SnapshotKey(runID, domain string) string {
	return fmt.Sprintf("%s:run:%s:%s", s.prefix, runID, domain)
}

// Save writes every slot of b as a JSON field.
func (s *Snapshotter) Save(ctx context.Context, runID, domain string, b *Blackboard) error {
	if s == nil || s.rdb == nil || b == nil {
		return nil
	}
	fields := make(map[string]any, len(b.entries))
	for slot, e := range b.entries {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("marshal slot %s: %w", slot, err)
		}
		fields[string(slot)] = raw
	}
	if len(fields) == 0 {
		return nil
	}
	key := s.SnapshotKey(runID, domain)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// Load reads a snapshot back as raw JSON per slot.
func (s *Snapshotter) Load(ctx context.Context, runID, domain string) (map[string]json.RawMessage, error) {
	key := s.SnapshotKey(runID, domain)
	data, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, redis.Nil
	}
	out := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}
