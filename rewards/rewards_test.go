package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store *sqlite.Store
	led   *ledger.Ledger
	agg   *ledger.Aggregator
	svc   *rewards.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	led := ledger.New(store)
	agg := ledger.NewAggregator(led, store, 30*24*time.Hour)
	svc := rewards.NewService(store, agg)

	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, ledger.User{
		ID: "usr-1", Name: "Ana", Email: "ana@pacecrew.run", JoinedAt: time.Now(),
	}))

	return &fixture{store: store, led: led, agg: agg, svc: svc}
}

func (f *fixture) credit(t *testing.T, points int64) {
	t.Helper()
	_, err := f.led.Adjust(context.Background(), "usr-1", ledger.PointsFromInt(points), "test fixture balance", "adm-1")
	require.NoError(t, err)
}

func (f *fixture) product(t *testing.T, cost, stock int64) rewards.Product {
	t.Helper()
	now := time.Now().UTC()
	p := rewards.Product{
		ID:             rewards.NewProductID(),
		Name:           "PaceCrew Cap",
		PointsCost:     cost,
		StockQuantity:  stock,
		StockAvailable: true,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.store.SaveProduct(context.Background(), p))
	return p
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	s, err := f.agg.Summary(context.Background(), "usr-1", time.Now().UTC())
	require.NoError(t, err)
	return s.Balance.Int64()
}

func (f *fixture) stock(t *testing.T, productID string) int64 {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.StockQuantity
}

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_DebitsBalanceAndStock(t *testing.T) {
	// GIVEN: 100 points and a 40 point product with 3 in stock
	// WHEN: Redeeming one
	// THEN: Pending redemption, balance 60, stock 2

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 40, 3)

	rd, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, rewards.RedemptionPending, rd.Status)
	assert.Equal(t, int64(40), rd.PointsSpent)

	assert.Equal(t, int64(60), f.balance(t))
	assert.Equal(t, int64(2), f.stock(t, p.ID))
}

func TestRedeem_QuantityMultipliesCost(t *testing.T) {
	f := newFixture(t)
	f.credit(t, 100)
	p := f.product(t, 30, 5)

	rd, err := f.svc.Redeem(context.Background(), "usr-1", p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(90), rd.PointsSpent)
	assert.Equal(t, int64(10), f.balance(t))
	assert.Equal(t, int64(2), f.stock(t, p.ID))
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	// GIVEN: 30 points against a 40 point product
	// THEN: InsufficientBalance; stock untouched, no redemption recorded

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 30)
	p := f.product(t, 40, 3)

	_, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, int64(30), f.balance(t))
	assert.Equal(t, int64(3), f.stock(t, p.ID))

	rds, err := f.store.RedemptionsByUser(ctx, "usr-1")
	require.NoError(t, err)
	assert.Empty(t, rds)
}

func TestRedeem_ExpiredPointsNotSpendable(t *testing.T) {
	// GIVEN: 100 points that lapsed yesterday and 50 fresh ones
	// WHEN: Redeeming a 60 point product
	// THEN: InsufficientBalance; only the live 50 count

	f := newFixture(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	lastMonth := time.Now().UTC().Add(-30 * 24 * time.Hour)
	require.NoError(t, f.led.Append(ctx, ledger.Entry{
		ID: ledger.NewEntryID(), UserID: "usr-1",
		Points: ledger.PointsFromInt(100), Source: ledger.SourceWorkout,
		CreatedAt: lastMonth, ExpiresAt: &yesterday,
	}))
	f.credit(t, 50)

	p := f.product(t, 60, 3)
	_, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRedeem_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.credit(t, 100)

	_, err := f.svc.Redeem(context.Background(), "usr-1", "prd-missing", 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRedeem_OutOfStock(t *testing.T) {
	f := newFixture(t)
	f.credit(t, 100)
	p := f.product(t, 10, 1)

	_, err := f.svc.Redeem(context.Background(), "usr-1", p.ID, 2)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestRedeem_InactiveProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)

	p := f.product(t, 10, 5)
	p.Active = false
	require.NoError(t, f.store.SaveProduct(ctx, p))

	_, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestRedeem_StockKillSwitch(t *testing.T) {
	// StockAvailable=false blocks redemption even with units on hand.

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)

	p := f.product(t, 10, 5)
	p.StockAvailable = false
	require.NoError(t, f.store.SaveProduct(ctx, p))

	_, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestRedeem_LastUnitSequential(t *testing.T) {
	// Two redemptions for a single remaining unit: first wins, second
	// gets Unavailable.

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 10, 1)

	_, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Equal(t, int64(0), f.stock(t, p.ID))
}

// =============================================================================
// FULFILL / CANCEL
// =============================================================================

func TestFulfill_PendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 40, 3)

	rd, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)

	got, err := f.svc.Fulfill(ctx, rd.ID)
	require.NoError(t, err)
	assert.Equal(t, rewards.RedemptionFulfilled, got.Status)

	_, err = f.svc.Fulfill(ctx, rd.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestFulfill_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Fulfill(context.Background(), "red-missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCancel_RefundsPointsAndStock(t *testing.T) {
	// GIVEN: A pending redemption of 40 points
	// WHEN: Cancelling
	// THEN: Balance and stock return to their pre-redemption values and
	//       the ledger shows both the debit and the refund

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 40, 3)

	rd, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(60), f.balance(t))

	got, err := f.svc.Cancel(ctx, rd.ID, "adm-1")
	require.NoError(t, err)
	assert.Equal(t, rewards.RedemptionCancelled, got.Status)

	assert.Equal(t, int64(100), f.balance(t))
	assert.Equal(t, int64(3), f.stock(t, p.ID))

	entries, err := f.store.Entries(ctx, "usr-1")
	require.NoError(t, err)
	// fixture credit + debit + refund
	require.Len(t, entries, 3)
}

func TestCancel_FulfilledFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 40, 3)

	rd, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.Fulfill(ctx, rd.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, rd.ID, "adm-1")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	assert.Equal(t, int64(60), f.balance(t), "no refund for fulfilled redemptions")
}

func TestCancel_TwiceFails(t *testing.T) {
	// The refund must not double-apply.

	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, 100)
	p := f.product(t, 40, 3)

	rd, err := f.svc.Redeem(ctx, "usr-1", p.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, rd.ID, "adm-1")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, rd.ID, "adm-1")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	assert.Equal(t, int64(100), f.balance(t))
	assert.Equal(t, int64(3), f.stock(t, p.ID))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRedeem_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	f.credit(t, 100)
	p := f.product(t, 10, 5)

	_, err := f.svc.Redeem(context.Background(), "usr-1", p.ID, 0)
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.Redeem(context.Background(), "usr-1", p.ID, -1)
	require.ErrorIs(t, err, ledger.ErrValidation)
}
