/*
balance.go - Balance aggregation and expiration outlook

PURPOSE:
  Computes a user's point balance, totals and expiration outlook by
  replaying their ledger. This is the central calculation answering
  "how many points does this member have, and what is about to lapse?"

LOT MODEL:
  Every positive entry opens an earn LOT. Debits consume lots in FIFO
  order: the oldest lot that is still unexpired at the debit's timestamp
  is drawn down first. Expiration entries are different - they retire the
  remainder of exactly the lot they reference (SourceEntryID), never FIFO.

  EXAMPLE:
    +50 (expires day 10), +30 (expires day 40), redeem 20 on day 5
    -> lot one has 30 left, lot two has 30 left
    -> "expiring within 30 days" reports 30 (lot one's remainder)

LAZY MATERIALIZATION:
  When an earn lot's ExpiresAt has passed with points unconsumed, an
  expiration entry for the remainder is synthesized so subsequent reads
  stay O(entries). Materialization is idempotent: each candidate entry
  carries the key "expire-<lotID>" and the store enforces one expiration
  entry per source lot, so concurrent reads cannot double-insert.

ERROR CONDITIONS:
  Unknown user -> ErrUserNotFound. An empty ledger is NOT an error: the
  summary comes back zeroed.

SEE ALSO:
  - ledger.go: the write side
  - api/sweeper.go: periodic materialization across all users
*/
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DefaultLookahead is the "expiring soon" window when none is configured.
const DefaultLookahead = 30 * 24 * time.Hour

// =============================================================================
// SUMMARY - What the balance endpoint returns
// =============================================================================

// Summary is a user's derived point position.
type Summary struct {
	UserID UserID
	AsOf   time.Time

	// Sum of all entry points. The conservation invariant.
	Balance Amount

	// Sum of positive entries.
	TotalEarned Amount

	// Absolute sum of negative entries with Source == redemption.
	TotalRedeemed Amount

	// Unconsumed lot points whose ExpiresAt falls within the lookahead.
	Expiring Amount

	// Earliest ExpiresAt among lots with unconsumed points, nil if none.
	NextExpirationDate *time.Time
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator derives summaries from the ledger on demand.
type Aggregator struct {
	Ledger *Ledger
	Users  UserStore

	// Lookahead is the "expiring soon" window. Zero means DefaultLookahead.
	Lookahead time.Duration
}

func NewAggregator(l *Ledger, users UserStore, lookahead time.Duration) *Aggregator {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Aggregator{Ledger: l, Users: users, Lookahead: lookahead}
}

// Summary computes the user's position as of asOf. It first materializes any
// overdue expirations so the reported balance already reflects them.
func (a *Aggregator) Summary(ctx context.Context, userID UserID, asOf time.Time) (Summary, error) {
	if err := a.requireUser(ctx, userID); err != nil {
		return Summary{}, err
	}

	if _, err := a.MaterializeExpirations(ctx, userID, asOf); err != nil {
		return Summary{}, err
	}

	entries, err := a.Ledger.Entries(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		UserID:        userID,
		AsOf:          asOf,
		Balance:       ZeroPoints(),
		TotalEarned:   ZeroPoints(),
		TotalRedeemed: ZeroPoints(),
		Expiring:      ZeroPoints(),
	}

	for _, e := range entries {
		s.Balance = s.Balance.Add(e.Points)
		if e.Points.IsPositive() {
			s.TotalEarned = s.TotalEarned.Add(e.Points)
		} else if e.Source == SourceRedemption {
			s.TotalRedeemed = s.TotalRedeemed.Add(e.Points.Abs())
		}
	}

	horizon := asOf.Add(a.Lookahead)
	for _, lot := range replayLots(entries) {
		if !lot.Remaining.IsPositive() || lot.ExpiresAt == nil {
			continue
		}
		exp := *lot.ExpiresAt
		if !exp.After(asOf) {
			continue // lapsed; materialization already accounted for it
		}
		if !exp.After(horizon) {
			s.Expiring = s.Expiring.Add(lot.Remaining)
		}
		if s.NextExpirationDate == nil || exp.Before(*s.NextExpirationDate) {
			next := exp
			s.NextExpirationDate = &next
		}
	}

	return s, nil
}

// MaterializeExpirations appends expiration entries for every earn lot whose
// ExpiresAt is at or before asOf and which still has unconsumed points.
// Returns the number of entries written. Safe to call concurrently: the
// per-lot idempotency key collapses racing writers to a single row.
func (a *Aggregator) MaterializeExpirations(ctx context.Context, userID UserID, asOf time.Time) (int, error) {
	entries, err := a.Ledger.Entries(ctx, userID)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, lot := range replayLots(entries) {
		if lot.ExpiresAt == nil || lot.ExpiresAt.After(asOf) || !lot.Remaining.IsPositive() {
			continue
		}
		exp := Entry{
			ID:             NewEntryID(),
			UserID:         userID,
			Points:         lot.Remaining.Neg(),
			Source:         SourceExpiration,
			Reason:         "points expired",
			SourceEntryID:  lot.EntryID,
			IdempotencyKey: "expire-" + string(lot.EntryID),
			CreatedAt:      *lot.ExpiresAt,
			CreatedBy:      "system",
		}
		switch err := a.Ledger.Append(ctx, exp); {
		case err == nil:
			written++
		case errors.Is(err, ErrDuplicateEntry):
			// Another reader got there first. Fine.
		default:
			return written, err
		}
	}
	return written, nil
}

func (a *Aggregator) requireUser(ctx context.Context, userID UserID) error {
	u, err := a.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}
	return nil
}

// EffectiveBalance sums entries net of lapsed lot remainders that have not
// yet been materialized as expiration entries. The redemption workflow uses
// this inside its transaction, where writes to other users' races don't
// matter but an unmaterialized expiry must not inflate spendable balance.
func EffectiveBalance(entries []Entry, asOf time.Time) Amount {
	balance := ZeroPoints()
	for _, e := range entries {
		balance = balance.Add(e.Points)
	}
	for _, lot := range replayLots(entries) {
		if lot.ExpiresAt != nil && !lot.ExpiresAt.After(asOf) && lot.Remaining.IsPositive() {
			balance = balance.Sub(lot.Remaining)
		}
	}
	return balance
}

// =============================================================================
// LOT REPLAY
// =============================================================================

// Lot is an earn entry's unconsumed remainder after replaying the ledger.
type Lot struct {
	EntryID   EntryID
	Earned    Amount
	Remaining Amount
	EarnedAt  time.Time
	ExpiresAt *time.Time
}

// replayLots rebuilds earn lots from a user's entries (oldest first) and
// applies every debit to them.
//
// Rules, in replay order:
//   - A positive entry opens a lot (ExpiresAt nil = never lapses).
//   - An expiration entry draws down exactly its source lot.
//   - Any other negative entry consumes FIFO across lots that still have
//     points and had not yet expired at the debit's timestamp.
//
// A debit larger than all live lots (possible via negative admin adjustments)
// simply exhausts them; the conservation invariant lives in the entry sums,
// lots only attribute consumption for expiry purposes.
func replayLots(entries []Entry) []Lot {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var lots []Lot
	index := make(map[EntryID]int)

	for _, e := range sorted {
		switch {
		case e.Points.IsPositive():
			lots = append(lots, Lot{
				EntryID:   e.ID,
				Earned:    e.Points,
				Remaining: e.Points,
				EarnedAt:  e.CreatedAt,
				ExpiresAt: e.ExpiresAt,
			})
			index[e.ID] = len(lots) - 1

		case e.Source == SourceExpiration:
			if i, ok := index[e.SourceEntryID]; ok {
				lots[i].Remaining = lots[i].Remaining.Sub(e.Points.Abs())
				if lots[i].Remaining.IsNegative() {
					lots[i].Remaining = ZeroPoints()
				}
			}

		case e.Points.IsNegative():
			remaining := e.Points.Abs()
			for i := range lots {
				if !remaining.IsPositive() {
					break
				}
				if !lots[i].Remaining.IsPositive() {
					continue
				}
				if lots[i].ExpiresAt != nil && !lots[i].ExpiresAt.After(e.CreatedAt) {
					continue // lot had already lapsed when this debit happened
				}
				take := lots[i].Remaining.Min(remaining)
				lots[i].Remaining = lots[i].Remaining.Sub(take)
				remaining = remaining.Sub(take)
			}
		}
	}

	return lots
}
