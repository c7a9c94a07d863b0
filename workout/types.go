/*
Package workout implements workout submission and the validation workflow.

PURPOSE:
  Members submit workouts with photo proof; admins review them. A workout's
  lifecycle is a small state machine:

      pending ──▶ approved   (terminal, credits the ledger exactly once)
         │
         └─────▶ rejected   (terminal, no ledger entry)

  Approval computes the point award through an injected PointsPolicy and
  commits the status change and the earn entry in one store transaction,
  guarded by a compare-and-swap on status so two concurrent approvals of
  the same workout cannot both succeed.

KEY TYPES:
  Workout:      The submitted session (zone, distance, duration, photo)
  Zone:         Training zone taxonomy (base, pace, interval, ...)
  PointsPolicy: workout -> points function, owned by the caller
  Service:      Orchestrates submit / approve / reject

SEE ALSO:
  - service.go: the state machine
  - ledger/: where approvals land
*/
package workout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pacecrew/hpoints-engine/ledger"
)

// =============================================================================
// TRAINING ZONES
// =============================================================================

// Zone classifies the training intent of a workout.
type Zone string

const (
	ZoneBase     Zone = "base"
	ZonePace     Zone = "pace"
	ZoneInterval Zone = "interval"
	ZoneLongRun  Zone = "long_run"
	ZoneRecovery Zone = "recovery"
	ZoneStrength Zone = "strength"
)

// Zones lists every valid zone, for validation and API documentation.
var Zones = []Zone{ZoneBase, ZonePace, ZoneInterval, ZoneLongRun, ZoneRecovery, ZoneStrength}

func ValidZone(z Zone) bool {
	for _, v := range Zones {
		if v == z {
			return true
		}
	}
	return false
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// =============================================================================
// WORKOUT
// =============================================================================

// Workout is a member-submitted training session awaiting validation.
//
// INVARIANTS:
//   - PhotoRef is required before the workout can enter the queue
//   - HPointsEarned is set exactly once, when status becomes approved;
//     pending and rejected workouts always carry zero
//   - RejectionReason is set only when status is rejected
type Workout struct {
	ID     string
	UserID ledger.UserID

	Date            time.Time
	Zone            Zone
	DistanceKm      decimal.Decimal
	DurationSeconds int

	// Photo proof reference (object key or URL). Required.
	PhotoRef string

	// Optional share link, kept for community features.
	InstagramStoryLink string

	Status          Status
	RejectionReason string
	HPointsEarned   int64

	ReviewedBy string
	ReviewedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
