/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the boundary between domain logic and the database. The Store
  keeps append-only semantics; different implementations can use SQLite
  or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): single entry write
  - AppendBatch(): atomic multi-entry write
  - NO Update() or Delete() methods exist for entries

IDEMPOTENCY:
  Writes carry an idempotency key. If the key already exists the write is
  rejected with ErrDuplicateEntry. This is what makes workout approval and
  expiration materialization safe to retry or race.

IMPLEMENTATIONS:
  - store/sqlite: production store (also persists workouts/products/redemptions)
  - ledger/store:  in-memory store for tests

SEE ALSO:
  - ledger.go: higher-level append path using Store
  - balance.go: read path using Store
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: entries are append-only. Corrections are new offsetting entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateEntry if the
	// idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Entries returns all entries for a user, oldest first.
	Entries(ctx context.Context, userID UserID) ([]Entry, error)

	// EntriesPage returns a page of entries for a user, newest first,
	// along with the total count.
	EntriesPage(ctx context.Context, userID UserID, limit, offset int) ([]Entry, int, error)

	// Exists checks whether an idempotency key has been used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore wraps Store with transaction support. Use this when a ledger write
// must commit together with other state (workout status, product stock).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// USER STORE
// =============================================================================

// UserStore resolves user records. The aggregator uses it to distinguish an
// unknown user (error) from a user with an empty ledger (zeroed summary).
type UserStore interface {
	// GetUser returns the user or nil if absent.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// SaveUser creates or updates a user record.
	SaveUser(ctx context.Context, u User) error

	// ListUsers returns all users. Used by the expiration sweeper.
	ListUsers(ctx context.Context) ([]User, error)
}
