// Package store provides Ledger implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/warp/fuel-procurement/procurement"
)

// =============================================================================
// MEMORY LEDGER - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[key]procurement.Envelope
	order   map[procurement.Kind][]string
	now     func() time.Time
}

type key struct {
	Kind procurement.Kind
	ID   string
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[key]procurement.Envelope),
		order:   make(map[procurement.Kind][]string),
		now:     time.Now,
	}
}

// Read returns a copy of the live record.
func (m *Memory) Read(ctx context.Context, kind procurement.Kind, id string) (procurement.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return procurement.Envelope{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	env, ok := m.records[key{kind, id}]
	if !ok || env.Tombstone {
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s", procurement.ErrNotFound, kind, id)
	}
	return clone(env), nil
}

// Submit applies one compare-and-set write.
func (m *Memory) Submit(ctx context.Context, sub procurement.Submission) (procurement.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return procurement.Envelope{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	env, err := m.check(sub, m.lookup)
	if err != nil {
		return procurement.Envelope{}, err
	}
	m.put(env, sub.ExpectedVersion == 0)
	return clone(env), nil
}

// SubmitAll applies every submission or none. Later submissions in the list
// see the versions produced by earlier ones.
func (m *Memory) SubmitAll(ctx context.Context, subs []procurement.Submission) ([]procurement.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	overlay := make(map[key]procurement.Envelope, len(subs))
	lookup := func(k key) (procurement.Envelope, bool) {
		if env, ok := overlay[k]; ok {
			return env, true
		}
		return m.lookup(k)
	}

	out := make([]procurement.Envelope, len(subs))
	created := make([]bool, len(subs))
	for i, sub := range subs {
		env, err := m.check(sub, lookup)
		if err != nil {
			return nil, err
		}
		k := key{env.Kind, env.ID}
		_, existed := lookup(k)
		created[i] = !existed
		overlay[k] = env
		out[i] = env
	}

	for i, env := range out {
		m.put(env, created[i])
		out[i] = clone(env)
	}
	return out, nil
}

// List returns live records in creation order.
func (m *Memory) List(ctx context.Context, kind procurement.Kind, filter procurement.Filter, offset, limit int) ([]procurement.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []procurement.Envelope
	skipped := 0
	for _, id := range m.order[kind] {
		env := m.records[key{kind, id}]
		if env.Tombstone || !filter.Matches(env.Labels) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, clone(env))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[key]procurement.Envelope)
	m.order = make(map[procurement.Kind][]string)
	return nil
}

func (m *Memory) lookup(k key) (procurement.Envelope, bool) {
	env, ok := m.records[k]
	return env, ok
}

// check validates sub against the current record and returns the envelope
// it would store.
func (m *Memory) check(sub procurement.Submission, lookup func(key) (procurement.Envelope, bool)) (procurement.Envelope, error) {
	if sub.Kind == "" || sub.ID == "" {
		return procurement.Envelope{}, fmt.Errorf("%w: kind and id are required", procurement.ErrValidationRejected)
	}
	if !sub.Tombstone && !json.Valid(sub.Data) {
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s: body is not valid JSON", procurement.ErrValidationRejected, sub.Kind, sub.ID)
	}

	current, exists := lookup(key{sub.Kind, sub.ID})
	switch {
	case sub.ExpectedVersion == 0 && exists:
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s already exists", procurement.ErrStaleState, sub.Kind, sub.ID)
	case sub.ExpectedVersion != 0 && !exists:
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s", procurement.ErrNotFound, sub.Kind, sub.ID)
	case exists && (current.Tombstone || current.Version != sub.ExpectedVersion):
		return procurement.Envelope{}, fmt.Errorf("%w: %s %s at version %d, expected %d",
			procurement.ErrStaleState, sub.Kind, sub.ID, current.Version, sub.ExpectedVersion)
	}

	return procurement.Envelope{
		Kind:      sub.Kind,
		ID:        sub.ID,
		Version:   sub.ExpectedVersion + 1,
		Data:      append(json.RawMessage(nil), sub.Data...),
		Labels:    copyLabels(sub.Labels),
		Tombstone: sub.Tombstone,
		UpdatedAt: m.now().Unix(),
	}, nil
}

func (m *Memory) put(env procurement.Envelope, created bool) {
	k := key{env.Kind, env.ID}
	m.records[k] = env
	if created {
		m.order[env.Kind] = append(m.order[env.Kind], env.ID)
	}
}

func clone(env procurement.Envelope) procurement.Envelope {
	env.Data = append(json.RawMessage(nil), env.Data...)
	env.Labels = copyLabels(env.Labels)
	return env
}

func copyLabels(l procurement.Labels) procurement.Labels {
	out := make(procurement.Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
