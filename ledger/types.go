/*
Package ledger provides the HPoints ledger engine.

PURPOSE:
  This package contains the core types and algorithms for the platform's
  point currency: an append-only ledger of point-affecting events and an
  aggregator that derives balances and expiration outlooks from it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A point quantity backed by decimal.Decimal
  - Entry: An immutable ledger record of a single balance change
  - Source: Where the points came from (workout, challenge, redemption...)
  - User/Entry IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Precision: Uses decimal.Decimal so lot math never drifts
  3. Derivation: Balance is always computed by replaying entries - there is
     no persisted running total that can fall out of sync
  4. Auditability: Every entry has a reason, reference, and idempotency key

USAGE:
  entry := ledger.Entry{
      UserID: "user-123",
      Points: ledger.PointsFromInt(50),
      Source: ledger.SourceWorkout,
  }

SEE ALSO:
  - balance.go: Balance aggregation and FIFO lot consumption
  - ledger.go: Append path with idempotency enforcement
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Point quantity
// =============================================================================

// Amount is a signed point quantity. Positive amounts earn, negative amounts
// spend or expire.
type Amount struct {
	Value decimal.Decimal
}

func PointsFromInt(v int64) Amount    { return Amount{Value: decimal.NewFromInt(v)} }
func PointsFromFloat(v float64) Amount { return Amount{Value: decimal.NewFromFloat(v)} }
func ZeroPoints() Amount               { return Amount{Value: decimal.Zero} }

func MustParsePoints(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroPoints()
	}
	return Amount{Value: d}
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs()} }
func (a Amount) Mul(n int64) Amount        { return Amount{Value: a.Value.Mul(decimal.NewFromInt(n))} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) Min(b Amount) Amount       { if a.LessThan(b) { return a }; return b }
func (a Amount) Int64() int64              { return a.Value.IntPart() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string

// =============================================================================
// ENTRY - Atomic change to a user's point balance
// =============================================================================

// Source identifies the kind of event that produced an entry.
type Source string

const (
	SourceWorkout     Source = "workout"      // Approved workout credit
	SourceChallenge   Source = "challenge"    // Challenge completion credit
	SourceRedemption  Source = "redemption"   // Reward redemption debit (or cancel refund)
	SourceManualAdmin Source = "manual_admin" // Manual admin adjustment
	SourceExpiration  Source = "expiration"   // Synthesized when an earn lot lapses
)

// Entry is an immutable ledger record.
//
// INVARIANTS:
//   - Append-only: entries are never updated or deleted
//   - Only positive (earn) entries carry an ExpiresAt
//   - Expiration entries reference the earn entry they retire via SourceEntryID
//   - A user's balance is exactly the sum of their entries' Points
type Entry struct {
	ID     EntryID
	UserID UserID

	// Signed: positive = earn, negative = redeem/expire/deduction.
	Points Amount

	Source Source
	Reason string

	// ReferenceID links to the originating record (workout ID, redemption ID).
	ReferenceID string

	// SourceEntryID is set only on expiration entries and names the earn
	// entry whose unconsumed remainder this entry retires.
	SourceEntryID EntryID

	IdempotencyKey string

	CreatedAt time.Time

	// ExpiresAt is set on earn entries subject to the expiration policy.
	// Nil means the points never lapse (refunds, some adjustments).
	ExpiresAt *time.Time

	// Audit fields
	CreatedBy string // actor ID ("system" for synthesized entries)
}

// Expires reports whether this entry opens an expiring earn lot.
func (e Entry) Expires() bool {
	return e.Points.IsPositive() && e.ExpiresAt != nil
}

// =============================================================================
// USER - Minimal member record
// =============================================================================

// User is the minimal member record the engine needs: balance queries must be
// able to distinguish "unknown user" from "user with an empty ledger".
type User struct {
	ID       UserID
	Name     string
	Email    string
	JoinedAt time.Time
}
