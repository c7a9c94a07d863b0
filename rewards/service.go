/*
service.go - Redemption workflow

PURPOSE:
  Spend points on products without ever leaving the system in a half-spent
  state. The contract, step by step:

  1. Pre-check: product exists, is purchasable, and the member's balance
     covers the cost. Cheap rejection path; also materializes any overdue
     point expirations so the balance is honest.
  2. Transaction: conditional stock decrement (UPDATE ... WHERE quantity
     covers it), balance RE-computed from the ledger inside the tx, debit
     entry appended, redemption row inserted. Any failure rolls back all
     three writes.
  3. Contended writes (driver-level busy/conflict) retry up to MaxRetries,
     then surface ErrConflict.

  Fulfill and Cancel are compare-and-swap status transitions; Cancel also
  refunds PointsSpent (a positive redemption-source entry that never
  expires) and restores stock, in the same transaction.

SEE ALSO:
  - ledger/balance.go: EffectiveBalance used for the in-tx check
  - store/sqlite: the transactional store view
*/
package rewards

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// DefaultMaxRetries bounds optimistic retries on contended redemptions.
const DefaultMaxRetries = 3

// =============================================================================
// STORE - What the workflow needs from persistence
// =============================================================================

type Store interface {
	// GetProduct returns the product or nil if absent.
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
	SaveProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id string) error

	GetRedemption(ctx context.Context, id string) (*Redemption, error)
	RedemptionsByUser(ctx context.Context, userID ledger.UserID) ([]Redemption, error)

	// WithRedemptionTx executes fn against a transactional view. If fn
	// returns an error every write in the view is rolled back. A write
	// conflict is reported as ledger.ErrConflict.
	WithRedemptionTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional store view the workflow operates on.
type Tx interface {
	// DecrementStock atomically takes qty units. Fails with ErrNotFound if
	// the product is absent, ErrUnavailable if it is inactive, flagged
	// unavailable, or short on stock. The check and the decrement are one
	// statement - this is the re-validation the pre-check cannot provide.
	DecrementStock(ctx context.Context, productID string, qty int64) error

	// RestoreStock returns qty units (redemption cancel).
	RestoreStock(ctx context.Context, productID string, qty int64) error

	UserEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error)
	AppendEntry(ctx context.Context, e ledger.Entry) error

	InsertRedemption(ctx context.Context, r Redemption) error
	GetRedemption(ctx context.Context, id string) (*Redemption, error)

	// SetRedemptionStatus is a compare-and-swap: it fails with
	// ErrInvalidTransition when the stored status is no longer `from`.
	SetRedemptionStatus(ctx context.Context, id string, from, to RedemptionStatus, at time.Time) error
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      Store
	Aggregator *ledger.Aggregator
	MaxRetries int
}

func NewService(store Store, agg *ledger.Aggregator) *Service {
	return &Service{Store: store, Aggregator: agg, MaxRetries: DefaultMaxRetries}
}

// Redeem spends points on a product. See the file header for the contract.
func (s *Service) Redeem(ctx context.Context, userID ledger.UserID, productID string, qty int64) (Redemption, error) {
	if qty <= 0 {
		return Redemption{}, &ledger.ValidationError{Field: "quantity", Message: "must be at least 1"}
	}

	// Pre-checks outside the transaction: fast rejection for the common
	// failure modes, and a NotFound for unknown users/products before any
	// lock is taken. Everything is re-validated inside.
	product, err := s.Store.GetProduct(ctx, productID)
	if err != nil {
		return Redemption{}, err
	}
	if product == nil {
		return Redemption{}, ledger.ErrNotFound
	}
	if !product.Purchasable(qty) {
		return Redemption{}, ledger.ErrUnavailable
	}

	cost := product.PointsCost * qty

	summary, err := s.Aggregator.Summary(ctx, userID, time.Now().UTC())
	if err != nil {
		return Redemption{}, err
	}
	if summary.Balance.LessThan(ledger.PointsFromInt(cost)) {
		return Redemption{}, &ledger.InsufficientBalanceError{
			UserID:    userID,
			Available: summary.Balance,
			Requested: ledger.PointsFromInt(cost),
		}
	}

	redemption := Redemption{
		ID:          "red-" + uuid.NewString(),
		UserID:      userID,
		ProductID:   productID,
		Quantity:    qty,
		PointsSpent: cost,
		Status:      RedemptionPending,
	}

	retries := s.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		err := s.Store.WithRedemptionTx(ctx, func(tx Tx) error {
			now := time.Now().UTC()

			if err := tx.DecrementStock(ctx, productID, qty); err != nil {
				return err
			}

			// Re-validate balance against the tx's view of the ledger;
			// the pre-check snapshot may be stale by now.
			entries, err := tx.UserEntries(ctx, userID)
			if err != nil {
				return err
			}
			balance := ledger.EffectiveBalance(entries, now)
			if balance.LessThan(ledger.PointsFromInt(cost)) {
				return &ledger.InsufficientBalanceError{
					UserID:    userID,
					Available: balance,
					Requested: ledger.PointsFromInt(cost),
				}
			}

			if err := tx.AppendEntry(ctx, ledger.Entry{
				ID:             ledger.NewEntryID(),
				UserID:         userID,
				Points:         ledger.PointsFromInt(-cost),
				Source:         ledger.SourceRedemption,
				Reason:         "redeemed " + product.Name,
				ReferenceID:    redemption.ID,
				IdempotencyKey: "redemption-" + redemption.ID,
				CreatedAt:      now,
				CreatedBy:      string(userID),
			}); err != nil {
				return err
			}

			redemption.CreatedAt = now
			redemption.UpdatedAt = now
			return tx.InsertRedemption(ctx, redemption)
		})
		if err == nil {
			return redemption, nil
		}
		if !ledger.IsRetryable(err) {
			return Redemption{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ledger.ErrConflict
	}
	return Redemption{}, lastErr
}

// Fulfill marks a pending redemption as handed over.
func (s *Service) Fulfill(ctx context.Context, redemptionID string) (Redemption, error) {
	var out Redemption
	err := s.Store.WithRedemptionTx(ctx, func(tx Tx) error {
		r, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrNotFound
		}
		now := time.Now().UTC()
		if err := tx.SetRedemptionStatus(ctx, redemptionID, RedemptionPending, RedemptionFulfilled, now); err != nil {
			return err
		}
		out = *r
		out.Status = RedemptionFulfilled
		out.UpdatedAt = now
		return nil
	})
	return out, err
}

// Cancel voids a pending redemption: status flips, the spent points come
// back as a non-expiring refund entry, and stock is restored. One
// transaction, same rollback rules as Redeem.
func (s *Service) Cancel(ctx context.Context, redemptionID, actor string) (Redemption, error) {
	var out Redemption
	err := s.Store.WithRedemptionTx(ctx, func(tx Tx) error {
		r, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrNotFound
		}
		now := time.Now().UTC()
		if err := tx.SetRedemptionStatus(ctx, redemptionID, RedemptionPending, RedemptionCancelled, now); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, ledger.Entry{
			ID:             ledger.NewEntryID(),
			UserID:         r.UserID,
			Points:         ledger.PointsFromInt(r.PointsSpent),
			Source:         ledger.SourceRedemption,
			Reason:         "redemption cancelled",
			ReferenceID:    r.ID,
			IdempotencyKey: "redemption-cancel-" + r.ID,
			CreatedAt:      now,
			CreatedBy:      actor,
		}); err != nil {
			return err
		}
		if err := tx.RestoreStock(ctx, r.ProductID, r.Quantity); err != nil {
			return err
		}
		out = *r
		out.Status = RedemptionCancelled
		out.UpdatedAt = now
		return nil
	})
	return out, err
}
