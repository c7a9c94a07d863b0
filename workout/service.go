/*
service.go - Workout validation state machine

PURPOSE:
  Submit, approve and reject workouts. Approval is the only place in the
  system that mints workout points, so the transition must be exactly-once:
  a compare-and-swap on status inside the store transaction, plus the earn
  entry's idempotency key, guarantee a raced double-approve credits once
  and errors once.

TRANSITIONS:
  submit  -> pending     (validates photo, distance, duration)
  approve -> approved    (pending only; computes points; appends earn entry)
  reject  -> rejected    (pending only; requires a reason; no entry)

  Re-approving or re-rejecting a terminal workout fails with
  ErrInvalidTransition. Silent no-ops would hide double-credit bugs.

SEE ALSO:
  - types.go: the model
  - store/sqlite: FinalizeWorkout implementation (the CAS + atomic append)
*/
package workout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// DefaultExpiryWindow is how long workout points live when the caller does
// not configure a policy window.
const DefaultExpiryWindow = 180 * 24 * time.Hour

// =============================================================================
// STORE - What the state machine needs from persistence
// =============================================================================

type Store interface {
	SaveWorkout(ctx context.Context, w Workout) error

	// GetWorkout returns the workout or nil if absent.
	GetWorkout(ctx context.Context, id string) (*Workout, error)

	// PendingWorkouts returns the validation queue, oldest first.
	PendingWorkouts(ctx context.Context) ([]Workout, error)

	WorkoutsByUser(ctx context.Context, userID ledger.UserID) ([]Workout, error)

	// FinalizeWorkout persists a terminal transition and, if entry is
	// non-nil, appends it - all in one transaction. The update must be a
	// compare-and-swap: it fails with ErrInvalidTransition when the stored
	// status is no longer `from`, and nothing is written.
	FinalizeWorkout(ctx context.Context, w Workout, from Status, entry *ledger.Entry) error
}

// PointsPolicy computes the award for an approved workout. The rules engine
// that owns the actual per-zone rates lives outside this package; the server
// binary wires in a table-driven default.
type PointsPolicy func(Workout) int64

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store  Store
	Policy PointsPolicy

	// ExpiryWindow is added to the approval time to produce the earn
	// entry's ExpiresAt. Zero means DefaultExpiryWindow.
	ExpiryWindow time.Duration
}

func NewService(store Store, policy PointsPolicy, expiryWindow time.Duration) *Service {
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	return &Service{Store: store, Policy: policy, ExpiryWindow: expiryWindow}
}

// Submit validates and stores a new workout in pending status.
func (s *Service) Submit(ctx context.Context, w Workout) (Workout, error) {
	if w.UserID == "" {
		return Workout{}, &ledger.ValidationError{Field: "user_id", Message: "is required"}
	}
	if w.PhotoRef == "" {
		return Workout{}, &ledger.ValidationError{Field: "photo_ref", Message: "is required for validation"}
	}
	if !w.DistanceKm.IsPositive() {
		return Workout{}, &ledger.ValidationError{Field: "distance_km", Message: "must be greater than zero"}
	}
	if w.DurationSeconds <= 0 {
		return Workout{}, &ledger.ValidationError{Field: "duration_seconds", Message: "must be greater than zero"}
	}
	if !ValidZone(w.Zone) {
		return Workout{}, &ledger.ValidationError{Field: "zone", Message: "unknown training zone"}
	}

	now := time.Now().UTC()
	w.ID = "wrk-" + uuid.NewString()
	w.Status = StatusPending
	w.HPointsEarned = 0
	w.RejectionReason = ""
	if w.Date.IsZero() {
		w.Date = now
	}
	w.CreatedAt = now
	w.UpdatedAt = now

	if err := s.Store.SaveWorkout(ctx, w); err != nil {
		return Workout{}, err
	}
	return w, nil
}

// Approve transitions a pending workout to approved and credits the ledger.
func (s *Service) Approve(ctx context.Context, workoutID, adminID string) (Workout, error) {
	w, err := s.load(ctx, workoutID)
	if err != nil {
		return Workout{}, err
	}
	if w.Status != StatusPending {
		return Workout{}, &ledger.InvalidTransitionError{
			Kind: "workout", ID: workoutID, From: string(w.Status), Attempt: "approve",
		}
	}

	now := time.Now().UTC()
	points := s.Policy(*w)
	expiresAt := now.Add(s.ExpiryWindow)

	approved := *w
	approved.Status = StatusApproved
	approved.HPointsEarned = points
	approved.ReviewedBy = adminID
	approved.ReviewedAt = &now
	approved.UpdatedAt = now

	entry := &ledger.Entry{
		ID:             ledger.NewEntryID(),
		UserID:         w.UserID,
		Points:         ledger.PointsFromInt(points),
		Source:         ledger.SourceWorkout,
		Reason:         "workout approved",
		ReferenceID:    w.ID,
		IdempotencyKey: "workout-" + w.ID,
		CreatedAt:      now,
		ExpiresAt:      &expiresAt,
		CreatedBy:      adminID,
	}
	if points <= 0 {
		// Policy awarded nothing; still a valid approval, just no credit.
		entry = nil
		approved.HPointsEarned = 0
	}

	if err := s.Store.FinalizeWorkout(ctx, approved, StatusPending, entry); err != nil {
		return Workout{}, err
	}
	return approved, nil
}

// Reject transitions a pending workout to rejected. No points move.
func (s *Service) Reject(ctx context.Context, workoutID, adminID, reason string) (Workout, error) {
	if reason == "" {
		return Workout{}, &ledger.ValidationError{Field: "reason", Message: "is required"}
	}

	w, err := s.load(ctx, workoutID)
	if err != nil {
		return Workout{}, err
	}
	if w.Status != StatusPending {
		return Workout{}, &ledger.InvalidTransitionError{
			Kind: "workout", ID: workoutID, From: string(w.Status), Attempt: "reject",
		}
	}

	now := time.Now().UTC()
	rejected := *w
	rejected.Status = StatusRejected
	rejected.RejectionReason = reason
	rejected.ReviewedBy = adminID
	rejected.ReviewedAt = &now
	rejected.UpdatedAt = now

	if err := s.Store.FinalizeWorkout(ctx, rejected, StatusPending, nil); err != nil {
		return Workout{}, err
	}
	return rejected, nil
}

// PendingQueue returns the validation queue, oldest submissions first.
func (s *Service) PendingQueue(ctx context.Context) ([]Workout, error) {
	return s.Store.PendingWorkouts(ctx)
}

func (s *Service) load(ctx context.Context, id string) (*Workout, error) {
	w, err := s.Store.GetWorkout(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ledger.ErrNotFound
	}
	return w, nil
}
