package pipeline

import (
	"context"
)

// fakeBroker is an in-memory stand-in for *broker.Broker, used so pipeline
// tests can exercise the coordinator and workers without a live Redis
// instance.
type fakeBroker struct {
	lists   map[string][]string
	sets    map[string]map[string]bool
	hashes  map[string]map[string]int64
	deadQs  map[string][]string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		lists:  make(map[string][]string),
		sets:   make(map[string]map[string]bool),
		hashes: make(map[string]map[string]int64),
		deadQs: make(map[string][]string),
	}
}

func (f *fakeBroker) PushTail(ctx context.Context, q, value string) error {
	f.lists[q] = append(f.lists[q], value)
	return nil
}

func (f *fakeBroker) PushHead(ctx context.Context, q, value string) error {
	f.lists[q] = append([]string{value}, f.lists[q]...)
	return nil
}

func (f *fakeBroker) PopHead(ctx context.Context, q string) (string, bool, error) {
	items := f.lists[q]
	if len(items) == 0 {
		return "", false, nil
	}
	v := items[0]
	f.lists[q] = items[1:]
	return v, true, nil
}

func (f *fakeBroker) Add(ctx context.Context, s, member string) error {
	if f.sets[s] == nil {
		f.sets[s] = make(map[string]bool)
	}
	f.sets[s][member] = true
	return nil
}

func (f *fakeBroker) Remove(ctx context.Context, s, member string) error {
	delete(f.sets[s], member)
	return nil
}

func (f *fakeBroker) IsMember(ctx context.Context, s, member string) (bool, error) {
	return f.sets[s][member], nil
}

func (f *fakeBroker) PopArbitrary(ctx context.Context, s string) (string, bool, error) {
	for member := range f.sets[s] {
		delete(f.sets[s], member)
		return member, true, nil
	}
	return "", false, nil
}

func (f *fakeBroker) Members(ctx context.Context, s string) ([]string, error) {
	var out []string
	for member := range f.sets[s] {
		out = append(out, member)
	}
	return out, nil
}

func (f *fakeBroker) ListLen(ctx context.Context, q string) (int64, error) {
	return int64(len(f.lists[q])), nil
}

func (f *fakeBroker) SetLen(ctx context.Context, s string) (int64, error) {
	return int64(len(f.sets[s])), nil
}

func (f *fakeBroker) IncrAttempt(ctx context.Context, h, id string) (int64, error) {
	if f.hashes[h] == nil {
		f.hashes[h] = make(map[string]int64)
	}
	f.hashes[h][id]++
	return f.hashes[h][id], nil
}

func (f *fakeBroker) ClearAttempt(ctx context.Context, h, id string) error {
	delete(f.hashes[h], id)
	return nil
}

func (f *fakeBroker) PushDead(ctx context.Context, q, payload string) error {
	f.deadQs[q] = append(f.deadQs[q], payload)
	return nil
}

func (f *fakeBroker) ListDead(ctx context.Context, q string) ([]string, error) {
	return f.deadQs[q], nil
}

var _ Broker = (*fakeBroker)(nil)
