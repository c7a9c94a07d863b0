package workout_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/store/sqlite"
	"github.com/pacecrew/hpoints-engine/workout"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.SaveUser(context.Background(), ledger.User{
		ID: "usr-1", Name: "Ana", Email: "ana@pacecrew.run", JoinedAt: time.Now(),
	})
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, store *sqlite.Store) *workout.Service {
	t.Helper()
	policy := workout.TablePolicy(map[workout.Zone]int64{
		workout.ZoneBase:     2,
		workout.ZoneLongRun:  3,
		workout.ZoneStrength: 10,
	}, 5)
	return workout.NewService(store, policy, 180*24*time.Hour)
}

func validWorkout() workout.Workout {
	return workout.Workout{
		UserID:          "usr-1",
		Date:            time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		Zone:            workout.ZoneBase,
		DistanceKm:      decimal.NewFromFloat(5.2),
		DurationSeconds: 1800,
		PhotoRef:        "photos/2026-03-10-run.jpg",
	}
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_PendingWithGeneratedID(t *testing.T) {
	// GIVEN: A valid workout
	// WHEN: Submitting
	// THEN: It lands in the queue as pending with no points yet

	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, workout.StatusPending, w.Status)
	assert.Zero(t, w.HPointsEarned)

	queue, err := svc.PendingQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, w.ID, queue[0].ID)
}

func TestSubmit_RequiresPhoto(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	w := validWorkout()
	w.PhotoRef = ""

	_, err := svc.Submit(context.Background(), w)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSubmit_RejectsNonPositiveDistance(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	w := validWorkout()
	w.DistanceKm = decimal.Zero

	_, err := svc.Submit(context.Background(), w)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSubmit_RejectsUnknownZone(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	w := validWorkout()
	w.Zone = "swimming"

	_, err := svc.Submit(context.Background(), w)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSubmit_CannotPreloadStatus(t *testing.T) {
	// A submission claiming to be approved is stored pending anyway.

	store := newTestStore(t)
	svc := newTestService(t, store)

	w := validWorkout()
	w.Status = workout.StatusApproved
	w.HPointsEarned = 9999

	got, err := svc.Submit(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, workout.StatusPending, got.Status)
	assert.Zero(t, got.HPointsEarned)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprove_CreditsLedgerOnce(t *testing.T) {
	// GIVEN: A pending 5.2km base workout (2/km + 5 bonus = 15 points)
	// WHEN: Approving
	// THEN: Status approved, one earn entry with an expiry date

	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, w.ID, "adm-1")
	require.NoError(t, err)
	assert.Equal(t, workout.StatusApproved, approved.Status)
	assert.Equal(t, int64(15), approved.HPointsEarned)
	assert.Equal(t, "adm-1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	entries, err := store.Entries(ctx, "usr-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(15), entries[0].Points.Int64())
	assert.Equal(t, ledger.SourceWorkout, entries[0].Source)
	assert.Equal(t, w.ID, entries[0].ReferenceID)
	require.NotNil(t, entries[0].ExpiresAt)
}

func TestApprove_TwiceFails(t *testing.T) {
	// GIVEN: An approved workout
	// WHEN: Approving again
	// THEN: ErrInvalidTransition; still exactly one earn entry

	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, w.ID, "adm-1")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, w.ID, "adm-2")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	entries, err := store.Entries(ctx, "usr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApprove_RejectedWorkoutFails(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	_, err = svc.Reject(ctx, w.ID, "adm-1", "photo does not show a run")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, w.ID, "adm-1")
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	entries, err := store.Entries(ctx, "usr-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected workouts never mint points")
}

func TestApprove_UnknownWorkout(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	_, err := svc.Approve(context.Background(), "wrk-missing", "adm-1")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestApprove_ZeroPointPolicyStillApproves(t *testing.T) {
	// GIVEN: A policy awarding nothing for this zone
	// THEN: The approval sticks but no entry is written

	store := newTestStore(t)
	svc := workout.NewService(store, workout.FixedPolicy(0), 0)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, w.ID, "adm-1")
	require.NoError(t, err)
	assert.Equal(t, workout.StatusApproved, approved.Status)
	assert.Zero(t, approved.HPointsEarned)

	entries, err := store.Entries(ctx, "usr-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// REJECTION
// =============================================================================

func TestReject_RequiresReason(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	_, err = svc.Reject(ctx, w.ID, "adm-1", "")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReject_StoresReason(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	w, err := svc.Submit(ctx, validWorkout())
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, w.ID, "adm-1", "screenshot is from a previous week")
	require.NoError(t, err)
	assert.Equal(t, workout.StatusRejected, rejected.Status)
	assert.Equal(t, "screenshot is from a previous week", rejected.RejectionReason)

	queue, err := svc.PendingQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

// =============================================================================
// POLICY
// =============================================================================

func TestTablePolicy_FloorsDistance(t *testing.T) {
	policy := workout.TablePolicy(map[workout.Zone]int64{workout.ZoneBase: 2}, 5)

	w := validWorkout() // 5.2 km base
	assert.Equal(t, int64(15), policy(w))

	w.DistanceKm = decimal.NewFromFloat(5.9)
	assert.Equal(t, int64(15), policy(w), "partial kilometers do not count")
}

func TestTablePolicy_UnknownZoneGetsBonusOnly(t *testing.T) {
	policy := workout.TablePolicy(map[workout.Zone]int64{workout.ZoneBase: 2}, 5)

	w := validWorkout()
	w.Zone = workout.ZoneRecovery
	assert.Equal(t, int64(5), policy(w))
}
