/*
ledger.go - Append path for the point ledger

PURPOSE:
  The Ledger is the single write path for entries. Every workout credit,
  challenge award, redemption debit, admin adjustment and expiration goes
  through here, which enforces shape rules (signs, reasons, expiry) before
  anything reaches the store.

WHY APPEND-ONLY?
  - Audit trail: you can always explain how a balance got to its value
  - Compliance: point currencies attract disputes; history settles them
  - Correctness: no partial updates corrupting a running total

CORRECTIONS:
  A mistaken entry is never edited. Append an offsetting entry instead
  (e.g. a redemption cancel appends a positive refund). Both remain in
  the ledger; the net effect is the correction.

SEE ALSO:
  - store.go: persistence interfaces
  - balance.go: the read side
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MinAdjustmentReasonLen is the minimum reason length for manual admin
// adjustments. Free-text shorter than this is not an audit trail.
const MinAdjustmentReasonLen = 10

// Ledger is the write path for entries.
type Ledger struct {
	Store Store
}

func New(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Append validates and persists a single entry.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEntry
		}
	}
	return l.Store.Append(ctx, e)
}

// Entries returns a user's full ledger, oldest first.
func (l *Ledger) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	return l.Store.Entries(ctx, userID)
}

// Credit appends a positive earn entry and returns it.
// expiresAt may be nil for non-lapsing credits.
func (l *Ledger) Credit(ctx context.Context, userID UserID, points Amount, source Source, reason, referenceID, actor string, expiresAt *time.Time) (Entry, error) {
	if !points.IsPositive() {
		return Entry{}, &ValidationError{Field: "points", Message: "credit must be positive"}
	}
	e := Entry{
		ID:             NewEntryID(),
		UserID:         userID,
		Points:         points,
		Source:         source,
		Reason:         reason,
		ReferenceID:    referenceID,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      expiresAt,
		CreatedBy:      actor,
		IdempotencyKey: idempotencyFor(source, referenceID),
	}
	if err := l.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Adjust appends a manual admin adjustment (either sign).
func (l *Ledger) Adjust(ctx context.Context, userID UserID, points Amount, reason, actor string) (Entry, error) {
	if points.IsZero() {
		return Entry{}, &ValidationError{Field: "points", Message: "must be non-zero"}
	}
	if len(reason) < MinAdjustmentReasonLen {
		return Entry{}, &ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("must be at least %d characters", MinAdjustmentReasonLen),
		}
	}
	e := Entry{
		ID:        NewEntryID(),
		UserID:    userID,
		Points:    points,
		Source:    SourceManualAdmin,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		CreatedBy: actor,
	}
	if err := l.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// NewEntryID returns a fresh entry identifier.
func NewEntryID() EntryID {
	return EntryID("ent-" + uuid.NewString())
}

func idempotencyFor(source Source, referenceID string) string {
	if referenceID == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s", source, referenceID)
}

func validateEntry(e Entry) error {
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if e.Points.IsZero() {
		return &ValidationError{Field: "points", Message: "must be non-zero"}
	}
	if e.ExpiresAt != nil && !e.Points.IsPositive() {
		return &ValidationError{Field: "expires_at", Message: "only earn entries expire"}
	}
	switch e.Source {
	case SourceWorkout, SourceChallenge, SourceRedemption, SourceManualAdmin, SourceExpiration:
	default:
		return &ValidationError{Field: "source", Message: "unknown source"}
	}
	if e.Source == SourceExpiration {
		if e.SourceEntryID == "" {
			return &ValidationError{Field: "source_entry_id", Message: "required for expiration entries"}
		}
		if !e.Points.IsNegative() {
			return &ValidationError{Field: "points", Message: "expiration entries must be negative"}
		}
	}
	return nil
}
