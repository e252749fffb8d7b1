package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// LockManager is a process-local domain.LockManager.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock domain.Clock
}

func NewLockManager(clock domain.Clock) *LockManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &LockManager{held: make(map[string]time.Time), clock: clock}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock.Now()
	if exp, ok := lm.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := now.Add(ttl)
	lm.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if lm.held[key] == exp {
				delete(lm.held, key)
			}
		})
	}, nil
}

// SignalBus is a process-local domain.SignalBus. Channels containing glob
// characters subscribe by pattern, like redis PSUBSCRIBE.
type SignalBus struct {
	mu   sync.Mutex
	subs map[int]subscription
	next int
}

type subscription struct {
	pattern string
	ch      chan []byte
}

func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[int]subscription)}
}

// Publish drops the message for subscribers whose buffer is full.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	ch := make(chan []byte, 128)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// FeedStore is a process-local domain.FeedStore.
type FeedStore struct {
	mu    sync.RWMutex
	feeds map[domain.ID]domain.FeedAccount
}

func NewFeedStore() *FeedStore {
	return &FeedStore{feeds: make(map[domain.ID]domain.FeedAccount)}
}

func (f *FeedStore) Load(_ context.Context, id domain.ID) (domain.FeedAccount, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	acct, ok := f.feeds[id]
	if !ok {
		return domain.FeedAccount{}, fmt.Errorf("memory: load feed %s: %w", id, domain.ErrNotFound)
	}
	acct.Data = append([]byte(nil), acct.Data...)
	return acct, nil
}

func (f *FeedStore) Store(_ context.Context, acct domain.FeedAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct.Data = append([]byte(nil), acct.Data...)
	f.feeds[acct.ID] = acct
	return nil
}

// EventLog is a process-local domain.EventLog keeping at most maxLen
// entries per stream.
type EventLog struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

func NewEventLog(maxLen int) *EventLog {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &EventLog{streams: make(map[string][]domain.StreamMessage), maxLen: maxLen}
}

func (l *EventLog) StreamAppend(_ context.Context, stream string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	msgs := append(l.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(l.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > l.maxLen {
		msgs = msgs[len(msgs)-l.maxLen:]
	}
	l.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID; "0", "0-0" and ""
// read from the start.
func (l *EventLog) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range l.streams[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	if id == "" {
		return 0, nil
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	return strconv.ParseUint(id, 10, 64)
}

// AuditStore is a process-local domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	clock   domain.Clock
}

func NewAuditStore(clock domain.Clock) *AuditStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AuditStore{clock: clock}
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: a.clock.Now(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

// Compile-time interface checks.
var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.FeedStore   = (*FeedStore)(nil)
	_ domain.EventLog    = (*EventLog)(nil)
	_ domain.AuditStore  = (*AuditStore)(nil)
)
