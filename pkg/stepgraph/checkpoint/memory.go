package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and single-process
// use. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]map[string]*chain // threadID -> ns -> chain
	closed  bool
}

// chain is the checkpoint history of one (thread, namespace).
type chain struct {
	byID   map[string]Checkpoint
	ids    []string // ascending
	writes map[string][]PendingWrite
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]map[string]*chain),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, threadID, ns string, cp Checkpoint) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	c := m.chain(threadID, ns, false)
	if c != nil {
		if existing, ok := c.byID[cp.ID]; ok {
			return copyCheckpoint(existing), nil
		}
	}

	var latest *Checkpoint
	if c != nil && len(c.ids) > 0 {
		l := c.byID[c.ids[len(c.ids)-1]]
		latest = &l
	}

	prepared, err := prepare(threadID, ns, cp, latest)
	if err != nil {
		return Checkpoint{}, err
	}

	c = m.chain(threadID, ns, true)
	c.byID[prepared.ID] = copyCheckpoint(prepared)
	c.ids = append(c.ids, prepared.ID)
	if prepared.ParentID != "" {
		delete(c.writes, prepared.ParentID)
	}
	return copyCheckpoint(prepared), nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID, ns, checkpointID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	c := m.chain(threadID, ns, false)
	if c == nil || len(c.ids) == 0 {
		return nil, nil
	}
	if checkpointID == "" {
		checkpointID = c.ids[len(c.ids)-1]
	}
	cp, ok := c.byID[checkpointID]
	if !ok {
		return nil, nil
	}
	out := copyCheckpoint(cp)
	return &out, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID, ns string, opts ListOptions) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	c := m.chain(threadID, ns, false)
	if c == nil {
		return nil, nil
	}

	var out []Checkpoint
	for i := len(c.ids) - 1; i >= 0; i-- {
		id := c.ids[i]
		if opts.Before != "" && id >= opts.Before {
			continue
		}
		out = append(out, copyCheckpoint(c.byID[id]))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// PutWrites implements Store.
func (m *MemoryStore) PutWrites(_ context.Context, threadID, ns, checkpointID, taskID string, writes []PendingWrite) error {
	if !writesComplete(threadID, checkpointID) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	c := m.chain(threadID, ns, true)
	existing := c.writes[checkpointID]
	for _, w := range writes {
		w.TaskID = taskID
		w.Value = append(json.RawMessage(nil), w.Value...)
		replaced := false
		for i := range existing {
			if existing[i].TaskID == w.TaskID && existing[i].Sequence == w.Sequence {
				existing[i] = w
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, w)
		}
	}
	c.writes[checkpointID] = existing
	return nil
}

// Writes implements Store.
func (m *MemoryStore) Writes(_ context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	c := m.chain(threadID, ns, false)
	if c == nil {
		return nil, nil
	}
	src := c.writes[checkpointID]
	if len(src) == 0 {
		return nil, nil
	}
	out := make([]PendingWrite, len(src))
	copy(out, src)
	return out, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, nss := range m.threads {
		for _, c := range nss {
			count += len(c.ids)
		}
	}
	return count
}

// Namespaces returns the namespaces recorded for a thread, sorted.
func (m *MemoryStore) Namespaces(threadID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for ns := range m.threads[threadID] {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// chain returns the chain for (threadID, ns), creating it when create is set.
// Caller holds the lock.
func (m *MemoryStore) chain(threadID, ns string, create bool) *chain {
	nss, ok := m.threads[threadID]
	if !ok {
		if !create {
			return nil
		}
		nss = make(map[string]*chain)
		m.threads[threadID] = nss
	}
	c, ok := nss[ns]
	if !ok {
		if !create {
			return nil
		}
		c = &chain{
			byID:   make(map[string]Checkpoint),
			writes: make(map[string][]PendingWrite),
		}
		nss[ns] = c
	}
	return c
}

// copyCheckpoint deep-copies the channel values so callers cannot mutate
// stored state.
func copyCheckpoint(cp Checkpoint) Checkpoint {
	values := make(map[string]json.RawMessage, len(cp.Values))
	for k, v := range cp.Values {
		values[k] = append(json.RawMessage(nil), v...)
	}
	cp.Values = values
	return cp
}
