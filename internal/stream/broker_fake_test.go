package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeBroker is an in-memory Broker used by publisher/consumer tests. It
// models append-only streams with per-group cursors and pending sets, the
// parts of the stream contract the bus depends on.
type fakeBroker struct {
	mu      sync.Mutex
	nextID  int
	entries map[string][]Message             // stream -> log
	groups  map[string]map[string]*fakeGroup // stream -> group name -> group
	errs    map[string]error                 // op name -> injected error
}

type fakeGroup struct {
	cursor  int
	pending map[string]*fakePending
}

type fakePending struct {
	consumer    string
	deliveredAt time.Time
	count       int64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		entries: make(map[string][]Message),
		groups:  make(map[string]map[string]*fakeGroup),
		errs:    make(map[string]error),
	}
}

func (f *fakeBroker) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeBroker) injected(op string) error {
	return f.errs[op]
}

func (f *fakeBroker) Add(ctx context.Context, stream string, values map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("add"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("%d-0", f.nextID)
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	f.entries[stream] = append(f.entries[stream], Message{ID: id, Values: copied})
	return id, nil
}

func (f *fakeBroker) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if err := f.injected("read"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	g := f.group(stream, group)
	if g == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("NOGROUP no such consumer group %q for stream %q", group, stream)
	}
	var out []Message
	log := f.entries[stream]
	for g.cursor < len(log) && int64(len(out)) < count {
		msg := log[g.cursor]
		g.cursor++
		g.pending[msg.ID] = &fakePending{consumer: consumer, deliveredAt: time.Now(), count: 1}
		out = append(out, msg)
	}
	f.mu.Unlock()

	if len(out) == 0 {
		// Simulate a bounded block so the read loop stays cooperative.
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (f *fakeBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ack"); err != nil {
		return err
	}
	g := f.group(stream, group)
	if g == nil {
		return fmt.Errorf("no such group %q", group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (f *fakeBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.group(stream, group)
	if g == nil {
		return nil, fmt.Errorf("no such group %q", group)
	}
	var out []Message
	for _, id := range ids {
		p, ok := g.pending[id]
		if !ok || time.Since(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = time.Now()
		p.count++
		if msg := f.find(stream, id); msg != nil {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (f *fakeBroker) Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.group(stream, group)
	if g == nil {
		return nil, fmt.Errorf("%w: group %q on stream %q", ErrNotFound, group, stream)
	}
	var out []PendingEntry
	for id, p := range g.pending {
		if int64(len(out)) >= count {
			break
		}
		out = append(out, PendingEntry{
			ID:         id,
			Consumer:   p.consumer,
			Idle:       time.Since(p.deliveredAt),
			RetryCount: p.count,
		})
	}
	return out, nil
}

func (f *fakeBroker) CreateGroup(ctx context.Context, stream, group, startID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("create"); err != nil {
		return false, err
	}
	if f.groups[stream] == nil {
		f.groups[stream] = make(map[string]*fakeGroup)
	}
	if _, exists := f.groups[stream][group]; exists {
		return false, nil
	}
	cursor := 0
	if startID == "$" {
		cursor = len(f.entries[stream])
	}
	f.groups[stream][group] = &fakeGroup{cursor: cursor, pending: make(map[string]*fakePending)}
	return true, nil
}

func (f *fakeBroker) DestroyGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[stream], group)
	return nil
}

func (f *fakeBroker) group(stream, name string) *fakeGroup {
	if f.groups[stream] == nil {
		return nil
	}
	return f.groups[stream][name]
}

func (f *fakeBroker) find(stream, id string) *Message {
	for i := range f.entries[stream] {
		if f.entries[stream][i].ID == id {
			return &f.entries[stream][i]
		}
	}
	return nil
}

// messages returns a snapshot of a stream's log.
func (f *fakeBroker) messages(stream string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.entries[stream]))
	copy(out, f.entries[stream])
	return out
}

// pendingCount returns the size of a group's pending set.
func (f *fakeBroker) pendingCount(stream, group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.group(stream, group)
	if g == nil {
		return 0
	}
	return len(g.pending)
}

// backdatePending shifts a pending entry's delivery time into the past so
// claim thresholds can be crossed without sleeping.
func (f *fakeBroker) backdatePending(stream, group, id string, by time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g := f.group(stream, group); g != nil {
		if p, ok := g.pending[id]; ok {
			p.deliveredAt = p.deliveredAt.Add(-by)
		}
	}
}
