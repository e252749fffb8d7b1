package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// defaultStreamMaxLen caps each vault's event stream (XADD MAXLEN ~).
const defaultStreamMaxLen int64 = 10000

// EventLog implements domain.EventLog over Redis Streams. Each vault has
// its own stream:vault:{id}, read back by the events endpoint.
type EventLog struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventLog creates an EventLog trimming streams to about maxLen entries;
// maxLen <= 0 uses the default.
func NewEventLog(c *Client, maxLen int64) *EventLog {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &EventLog{rdb: c.Underlying(), maxLen: maxLen}
}

func (l *EventLog) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start)
// without blocking. Entries lacking a payload field are skipped.
func (l *EventLog) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			if payload, ok := payloadOf(msg.Values); ok {
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: payload})
			}
		}
	}
	return out, nil
}

func payloadOf(values map[string]any) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.EventLog = (*EventLog)(nil)
