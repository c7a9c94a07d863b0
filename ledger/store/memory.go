// Package store provides an in-memory ledger.Store implementation for
// tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[string]bool
	users       map[ledger.UserID]ledger.User
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.UserID][]ledger.Entry),
		idempotency: make(map[string]bool),
		users:       make(map[ledger.UserID]ledger.User),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	for _, e := range entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateEntry
		}
	}

	for _, e := range entries {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(e ledger.Entry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return ledger.ErrDuplicateEntry
	}

	entries := m.entries[e.UserID]

	// Binary search for insertion point, keeping chronological order.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(e.CreatedAt)
	})

	entries = append(entries, ledger.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.UserID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[userID]))
	copy(result, m.entries[userID])
	return result, nil
}

func (m *Memory) EntriesPage(_ context.Context, userID ledger.UserID, limit, offset int) ([]ledger.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[userID]
	total := len(all)

	// Newest first.
	reversed := make([]ledger.Entry, total)
	for i, e := range all {
		reversed[total-1-i] = e
	}

	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]ledger.Entry, end-offset)
	copy(page, reversed[offset:end])
	return page, total, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[ledger.UserID][]ledger.Entry)
	for k, v := range tm.entries {
		entriesCopy[k] = append([]ledger.Entry{}, v...)
	}
	idemCopy := make(map[string]bool)
	for k, v := range tm.idempotency {
		idemCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, idempotency: idemCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	entries     map[ledger.UserID][]ledger.Entry
	idempotency map[string]bool
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, e ledger.Entry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := tv.parent.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txMemoryView) Entries(_ context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return tv.parent.entries[userID], nil
}

func (tv *txMemoryView) EntriesPage(_ context.Context, userID ledger.UserID, limit, offset int) ([]ledger.Entry, int, error) {
	all := tv.parent.entries[userID]
	total := len(all)

	reversed := make([]ledger.Entry, total)
	for i, e := range all {
		reversed[total-1-i] = e
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return reversed[offset:end], total, nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
