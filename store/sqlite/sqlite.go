/*
Package sqlite provides the SQLite-backed implementation of every storage
interface in the system.

PURPOSE:
  One store, all tables: ledger entries, users, workouts, products and
  redemptions. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store / ledger.TxStore: append-only entry persistence
  ledger.UserStore:              member records
  workout.Store:                 workouts + the CAS finalize transaction
  rewards.Store:                 catalog, redemptions, redemption transaction

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the entries table. Corrections are
  offsetting entries.

KEY CONSTRAINTS:
  - entries.idempotency_key UNIQUE: retry/race safety for every credit path
  - idx_entries_expiration UNIQUE(user_id, source_entry_id): at most one
    expiration entry per earn lot, so concurrent lazy materialization
    cannot double-expire
  - workout finalize and stock decrement are conditional UPDATEs: the WHERE
    clause carries the expected state, and zero rows affected means the
    caller lost a race

WAL MODE:
  SQLite is opened with WAL for concurrent readers and a busy timeout so
  contended writers queue briefly instead of failing immediately. Driver
  "busy" errors that still surface are translated to ledger.ErrConflict,
  which the redemption workflow retries.

USAGE:
  store, err := sqlite.New("./data/hpoints.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/workout"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection: the store serializes writes anyway, and it keeps
	// ":memory:" databases from silently splitting across pool connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Members
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		joined_at TEXT NOT NULL
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		points TEXT NOT NULL,
		source TEXT NOT NULL,
		reason TEXT,
		reference_id TEXT,
		source_entry_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		created_by TEXT
	);

	-- Balance replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_user_created
		ON entries(user_id, created_at);

	-- At most one expiration entry per earn lot. This is what makes lazy
	-- materialization safe under concurrent reads.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_expiration
		ON entries(user_id, source_entry_id)
		WHERE source = 'expiration';

	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(reference_id) WHERE reference_id IS NOT NULL;

	-- Workouts (validation queue)
	CREATE TABLE IF NOT EXISTS workouts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		zone TEXT NOT NULL,
		distance_km TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		photo_ref TEXT NOT NULL,
		instagram_story_link TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		hpoints_earned INTEGER NOT NULL DEFAULT 0,
		reviewed_by TEXT,
		reviewed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workouts_status
		ON workouts(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_workouts_user
		ON workouts(user_id, created_at DESC);

	-- Products (HPoints store catalog)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		points_cost INTEGER NOT NULL,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		stock_available INTEGER NOT NULL DEFAULT 1,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Redemptions
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		points_spent INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_user
		ON redemptions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_redemptions_status
		ON redemptions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER ENTRIES (ledger.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db execer, e ledger.Entry) error {
	query := `
		INSERT INTO entries
		(id, user_id, points, source, reason, reference_id, source_entry_id,
		 idempotency_key, created_at, expires_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.Points.Value.String(),
		e.Source,
		e.Reason,
		nullString(e.ReferenceID),
		nullString(string(e.SourceEntryID)),
		nullString(e.IdempotencyKey),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(e.ExpiresAt),
		e.CreatedBy,
	)

	if err != nil {
		return translateErr(err)
	}
	return nil
}

// AppendBatch adds multiple entries atomically.
func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		if err := appendEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// Entries returns all entries for a user, oldest first.
func (s *Store) Entries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryEntries(ctx, s.db, `
		SELECT id, user_id, points, source, reason, reference_id, source_entry_id,
		       idempotency_key, created_at, expires_at, created_by
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
}

// EntriesPage returns a page of entries, newest first, plus the total count.
func (s *Store) EntriesPage(ctx context.Context, userID ledger.UserID, limit, offset int) ([]ledger.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE user_id = ?", userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	entries, err := queryEntries(ctx, s.db, `
		SELECT id, user_id, points, source, reason, reference_id, source_entry_id,
		       idempotency_key, created_at, expires_at, created_by
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Exists checks if an idempotency key has been used.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func queryEntries(ctx context.Context, db querier, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e             ledger.Entry
		points        string
		reason        sql.NullString
		referenceID   sql.NullString
		sourceEntryID sql.NullString
		idemKey       sql.NullString
		createdAt     string
		expiresAt     sql.NullString
		createdBy     sql.NullString
	)

	err := rows.Scan(
		&e.ID, &e.UserID, &points, &e.Source, &reason, &referenceID,
		&sourceEntryID, &idemKey, &createdAt, &expiresAt, &createdBy,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Points = ledger.MustParsePoints(points)
	e.Reason = reason.String
	e.ReferenceID = referenceID.String
	e.SourceEntryID = ledger.EntryID(sourceEntryID.String)
	e.IdempotencyKey = idemKey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.CreatedBy = createdBy.String
	if expiresAt.Valid && expiresAt.String != "" {
		t, _ := time.Parse(time.RFC3339Nano, expiresAt.String)
		e.ExpiresAt = &t
	}

	return e, nil
}

// =============================================================================
// TRANSACTIONAL LEDGER (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&entryTxView{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type entryTxView struct {
	tx *sql.Tx
}

func (v *entryTxView) Append(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, v.tx, e)
}

func (v *entryTxView) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := appendEntry(ctx, v.tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (v *entryTxView) Entries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return queryEntries(ctx, v.tx, `
		SELECT id, user_id, points, source, reason, reference_id, source_entry_id,
		       idempotency_key, created_at, expires_at, created_by
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
}

func (v *entryTxView) EntriesPage(ctx context.Context, userID ledger.UserID, limit, offset int) ([]ledger.Entry, int, error) {
	entries, err := v.Entries(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return entries, len(entries), nil
}

func (v *entryTxView) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := v.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// USERS (ledger.UserStore interface)
// =============================================================================

// SaveUser creates or updates a member record.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, email, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`

	joined := u.JoinedAt
	if joined.IsZero() {
		joined = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, joined.Format(time.RFC3339Nano))
	return err
}

// GetUser retrieves a member, nil if absent.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u ledger.User
	var email sql.NullString
	var joinedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, joined_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &email, &joinedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.Email = email.String
	u.JoinedAt, _ = time.Parse(time.RFC3339Nano, joinedAt)
	return &u, nil
}

// ListUsers returns all members.
func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, joined_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var u ledger.User
		var email sql.NullString
		var joinedAt string
		if err := rows.Scan(&u.ID, &u.Name, &email, &joinedAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		u.JoinedAt, _ = time.Parse(time.RFC3339Nano, joinedAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// WORKOUTS (workout.Store interface)
// =============================================================================

const workoutColumns = `id, user_id, date, zone, distance_km, duration_seconds,
	photo_ref, instagram_story_link, status, rejection_reason, hpoints_earned,
	reviewed_by, reviewed_at, created_at, updated_at`

// SaveWorkout inserts or updates a workout record.
func (s *Store) SaveWorkout(ctx context.Context, w workout.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO workouts (` + workoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			hpoints_earned = excluded.hpoints_earned,
			reviewed_by = excluded.reviewed_by,
			reviewed_at = excluded.reviewed_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, workoutArgs(w)...)
	return err
}

func workoutArgs(w workout.Workout) []any {
	return []any{
		w.ID,
		w.UserID,
		w.Date.UTC().Format(time.RFC3339Nano),
		w.Zone,
		w.DistanceKm.String(),
		w.DurationSeconds,
		w.PhotoRef,
		nullString(w.InstagramStoryLink),
		w.Status,
		nullString(w.RejectionReason),
		w.HPointsEarned,
		nullString(w.ReviewedBy),
		nullTime(w.ReviewedAt),
		w.CreatedAt.UTC().Format(time.RFC3339Nano),
		w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// GetWorkout retrieves a workout, nil if absent.
func (s *Store) GetWorkout(ctx context.Context, id string) (*workout.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+workoutColumns+" FROM workouts WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	w, err := scanWorkout(rows)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// PendingWorkouts returns the validation queue, oldest first.
func (s *Store) PendingWorkouts(ctx context.Context) ([]workout.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryWorkouts(ctx,
		"SELECT "+workoutColumns+" FROM workouts WHERE status = ? ORDER BY created_at ASC",
		workout.StatusPending)
}

// WorkoutsByUser returns a member's workouts, newest first.
func (s *Store) WorkoutsByUser(ctx context.Context, userID ledger.UserID) ([]workout.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryWorkouts(ctx,
		"SELECT "+workoutColumns+" FROM workouts WHERE user_id = ? ORDER BY created_at DESC",
		userID)
}

// FinalizeWorkout commits a terminal transition and the earn entry in one
// transaction. The UPDATE's WHERE clause carries the expected status: zero
// rows affected means the workout is gone or already terminal, and nothing
// is written.
func (s *Store) FinalizeWorkout(ctx context.Context, w workout.Workout, from workout.Status, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE workouts
		SET status = ?, rejection_reason = ?, hpoints_earned = ?,
		    reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		w.Status,
		nullString(w.RejectionReason),
		w.HPointsEarned,
		nullString(w.ReviewedBy),
		nullTime(w.ReviewedAt),
		w.UpdatedAt.UTC().Format(time.RFC3339Nano),
		w.ID,
		from,
	)
	if err != nil {
		return translateErr(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := sqlTx.QueryRowContext(ctx,
			"SELECT status FROM workouts WHERE id = ?", w.ID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		return &ledger.InvalidTransitionError{
			Kind: "workout", ID: w.ID, From: current, Attempt: string(w.Status),
		}
	}

	if entry != nil {
		if err := appendEntry(ctx, sqlTx, *entry); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func (s *Store) queryWorkouts(ctx context.Context, query string, args ...any) ([]workout.Workout, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workouts: %w", err)
	}
	defer rows.Close()

	var workouts []workout.Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		workouts = append(workouts, w)
	}
	return workouts, rows.Err()
}

func scanWorkout(rows *sql.Rows) (workout.Workout, error) {
	var (
		w          workout.Workout
		date       string
		distance   string
		story      sql.NullString
		rejection  sql.NullString
		reviewedBy sql.NullString
		reviewedAt sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := rows.Scan(
		&w.ID, &w.UserID, &date, &w.Zone, &distance, &w.DurationSeconds,
		&w.PhotoRef, &story, &w.Status, &rejection, &w.HPointsEarned,
		&reviewedBy, &reviewedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return w, fmt.Errorf("failed to scan workout: %w", err)
	}

	w.Date, _ = time.Parse(time.RFC3339Nano, date)
	w.DistanceKm = ledger.MustParsePoints(distance).Value
	w.InstagramStoryLink = story.String
	w.RejectionReason = rejection.String
	w.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid && reviewedAt.String != "" {
		t, _ := time.Parse(time.RFC3339Nano, reviewedAt.String)
		w.ReviewedAt = &t
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return w, nil
}

// =============================================================================
// PRODUCTS (rewards.Store interface)
// =============================================================================

const productColumns = `id, name, description, points_cost, stock_quantity,
	stock_available, active, created_at, updated_at`

// SaveProduct inserts or updates a catalog item.
func (s *Store) SaveProduct(ctx context.Context, p rewards.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			points_cost = excluded.points_cost,
			stock_quantity = excluded.stock_quantity,
			stock_available = excluded.stock_available,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, nullString(p.Description), p.PointsCost,
		p.StockQuantity, boolToInt(p.StockAvailable), boolToInt(p.Active),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetProduct retrieves a product, nil if absent.
func (s *Store) GetProduct(ctx context.Context, id string) (*rewards.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db querier, id string) (*rewards.Product, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanProduct(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns catalog items, optionally only active ones.
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]rewards.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + productColumns + " FROM products"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []rewards.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// DeleteProduct removes a catalog item.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func scanProduct(rows *sql.Rows) (rewards.Product, error) {
	var (
		p           rewards.Product
		description sql.NullString
		available   int
		active      int
		createdAt   string
		updatedAt   string
	)

	err := rows.Scan(
		&p.ID, &p.Name, &description, &p.PointsCost, &p.StockQuantity,
		&available, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan product: %w", err)
	}

	p.Description = description.String
	p.StockAvailable = available != 0
	p.Active = active != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

// =============================================================================
// REDEMPTIONS (rewards.Store interface)
// =============================================================================

const redemptionColumns = `id, user_id, product_id, quantity, points_spent,
	status, created_at, updated_at`

// GetRedemption retrieves a redemption, nil if absent.
func (s *Store) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRedemption(ctx, s.db, id)
}

func getRedemption(ctx context.Context, db querier, id string) (*rewards.Redemption, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+redemptionColumns+" FROM redemptions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRedemption(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RedemptionsByUser returns a member's redemptions, newest first.
func (s *Store) RedemptionsByUser(ctx context.Context, userID ledger.UserID) ([]rewards.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+redemptionColumns+" FROM redemptions WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []rewards.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, r)
	}
	return redemptions, rows.Err()
}

func scanRedemption(rows *sql.Rows) (rewards.Redemption, error) {
	var (
		r         rewards.Redemption
		createdAt string
		updatedAt string
	)

	err := rows.Scan(
		&r.ID, &r.UserID, &r.ProductID, &r.Quantity, &r.PointsSpent,
		&r.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan redemption: %w", err)
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, nil
}

// WithRedemptionTx executes fn against a transactional view covering stock,
// entries and redemption rows.
func (s *Store) WithRedemptionTx(ctx context.Context, fn func(rewards.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&redemptionTxView{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type redemptionTxView struct {
	tx *sql.Tx
}

// DecrementStock takes qty units if, and only if, the product is active,
// available, and holds enough stock - checked and applied in one statement.
func (v *redemptionTxView) DecrementStock(ctx context.Context, productID string, qty int64) error {
	res, err := v.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?, updated_at = ?
		WHERE id = ? AND active = 1 AND stock_available = 1 AND stock_quantity >= ?
	`, qty, time.Now().UTC().Format(time.RFC3339Nano), productID, qty)
	if err != nil {
		return translateErr(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		p, err := getProduct(ctx, v.tx, productID)
		if err != nil {
			return err
		}
		if p == nil {
			return ledger.ErrNotFound
		}
		return ledger.ErrUnavailable
	}
	return nil
}

func (v *redemptionTxView) RestoreStock(ctx context.Context, productID string, qty int64) error {
	res, err := v.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE id = ?
	`, qty, time.Now().UTC().Format(time.RFC3339Nano), productID)
	if err != nil {
		return translateErr(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (v *redemptionTxView) UserEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	return queryEntries(ctx, v.tx, `
		SELECT id, user_id, points, source, reason, reference_id, source_entry_id,
		       idempotency_key, created_at, expires_at, created_by
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
}

func (v *redemptionTxView) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, v.tx, e)
}

func (v *redemptionTxView) InsertRedemption(ctx context.Context, r rewards.Redemption) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.UserID, r.ProductID, r.Quantity, r.PointsSpent, r.Status,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (v *redemptionTxView) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	return getRedemption(ctx, v.tx, id)
}

func (v *redemptionTxView) SetRedemptionStatus(ctx context.Context, id string, from, to rewards.RedemptionStatus, at time.Time) error {
	res, err := v.tx.ExecContext(ctx, `
		UPDATE redemptions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, at.UTC().Format(time.RFC3339Nano), id, from)
	if err != nil {
		return translateErr(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := v.tx.QueryRowContext(ctx,
			"SELECT status FROM redemptions WHERE id = ?", id,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return ledger.ErrNotFound
		}
		if err != nil {
			return err
		}
		return &ledger.InvalidTransitionError{
			Kind: "redemption", ID: id, From: current, Attempt: string(to),
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// translateErr maps driver errors onto the domain taxonomy so nothing above
// the store ever sees a raw SQLite error for an expected condition.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ledger.ErrDuplicateEntry
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return ledger.ErrConflict
	}
	return err
}
