/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

ENVELOPE:
  Every response is wrapped:
    {"success": true,  "data": {...}}
    {"success": false, "error": {"code": "...", "message": "..."}}
  Clients branch on "success" and surface error.message verbatim.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route definitions
*/
package api

import (
	"time"

	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/workout"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the uniform response wrapper.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ErrorDTO `json:"error,omitempty"`
}

// ErrorDTO is the error half of the envelope.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a member in API responses.
type UserDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// CreateUserRequest is the request to register a member.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// =============================================================================
// BALANCE AND HISTORY
// =============================================================================

// BalanceDTO is the balance summary for a member.
type BalanceDTO struct {
	UserID             string  `json:"user_id"`
	Balance            int64   `json:"balance"`
	TotalEarned        int64   `json:"total_earned"`
	TotalRedeemed      int64   `json:"total_redeemed"`
	ExpiringSoon       int64   `json:"expiring_soon"`
	NextExpirationDate *string `json:"next_expiration_date,omitempty"`
	AsOf               string  `json:"as_of"`
}

// EntryDTO represents one ledger entry in history responses.
type EntryDTO struct {
	ID          string  `json:"id"`
	Points      int64   `json:"points"`
	Source      string  `json:"source"`
	Reason      string  `json:"reason,omitempty"`
	ReferenceID string  `json:"reference_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

// HistoryDTO is a paginated slice of ledger entries, newest first.
type HistoryDTO struct {
	UserID  string     `json:"user_id"`
	Entries []EntryDTO `json:"entries"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

// =============================================================================
// WORKOUTS AND VALIDATION
// =============================================================================

// SubmitWorkoutRequest is the member-facing workout submission.
type SubmitWorkoutRequest struct {
	Date               string  `json:"date"`
	Zone               string  `json:"zone"`
	DistanceKm         float64 `json:"distance_km"`
	DurationSeconds    int     `json:"duration_seconds"`
	PhotoRef           string  `json:"photo_ref"`
	InstagramStoryLink string  `json:"instagram_story_link,omitempty"`
}

// WorkoutDTO represents a workout in API responses.
type WorkoutDTO struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	Date               string  `json:"date"`
	Zone               string  `json:"zone"`
	DistanceKm         float64 `json:"distance_km"`
	DurationSeconds    int     `json:"duration_seconds"`
	PhotoRef           string  `json:"photo_ref"`
	InstagramStoryLink string  `json:"instagram_story_link,omitempty"`
	Status             string  `json:"status"`
	RejectionReason    string  `json:"rejection_reason,omitempty"`
	HPointsEarned      int64   `json:"hpoints_earned,omitempty"`
	ReviewedBy         string  `json:"reviewed_by,omitempty"`
	ReviewedAt         *string `json:"reviewed_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

// RejectWorkoutRequest carries the mandatory rejection reason.
type RejectWorkoutRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// ADMIN LEDGER OPERATIONS
// =============================================================================

// AdjustmentRequest is a manual admin balance adjustment.
type AdjustmentRequest struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

// CreditRequest is an admin-issued credit (challenge rewards etc).
type CreditRequest struct {
	UserID      string `json:"user_id"`
	Points      int64  `json:"points"`
	Source      string `json:"source"`
	Reason      string `json:"reason,omitempty"`
	ReferenceID string `json:"reference_id"`
}

// =============================================================================
// PRODUCTS AND REDEMPTIONS
// =============================================================================

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PointsCost     int64  `json:"points_cost"`
	StockQuantity  int64  `json:"stock_quantity"`
	StockAvailable bool   `json:"stock_available"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// SaveProductRequest creates or updates a product.
type SaveProductRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PointsCost     int64  `json:"points_cost"`
	StockQuantity  int64  `json:"stock_quantity"`
	StockAvailable *bool  `json:"stock_available,omitempty"`
	Active         *bool  `json:"active,omitempty"`
}

// RedeemRequest is a member redemption request.
type RedeemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// RedemptionDTO represents a redemption in API responses.
type RedemptionDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	Quantity    int64  `json:"quantity"`
	PointsSpent int64  `json:"points_spent"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:       string(u.ID),
		Name:     u.Name,
		Email:    u.Email,
		JoinedAt: u.JoinedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(s ledger.Summary) BalanceDTO {
	dto := BalanceDTO{
		UserID:        string(s.UserID),
		Balance:       s.Balance.Int64(),
		TotalEarned:   s.TotalEarned.Int64(),
		TotalRedeemed: s.TotalRedeemed.Int64(),
		ExpiringSoon:  s.Expiring.Int64(),
		AsOf:          s.AsOf.Format(time.RFC3339),
	}
	if s.NextExpirationDate != nil {
		dto.NextExpirationDate = strPtr(s.NextExpirationDate.Format(time.RFC3339))
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          string(e.ID),
		Points:      e.Points.Int64(),
		Source:      string(e.Source),
		Reason:      e.Reason,
		ReferenceID: e.ReferenceID,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiresAt != nil {
		dto.ExpiresAt = strPtr(e.ExpiresAt.Format(time.RFC3339))
	}
	return dto
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toWorkoutDTO(w workout.Workout) WorkoutDTO {
	km, _ := w.DistanceKm.Float64()
	dto := WorkoutDTO{
		ID:                 w.ID,
		UserID:             string(w.UserID),
		Date:               w.Date.Format("2006-01-02"),
		Zone:               string(w.Zone),
		DistanceKm:         km,
		DurationSeconds:    w.DurationSeconds,
		PhotoRef:           w.PhotoRef,
		InstagramStoryLink: w.InstagramStoryLink,
		Status:             string(w.Status),
		RejectionReason:    w.RejectionReason,
		HPointsEarned:      w.HPointsEarned,
		ReviewedBy:         w.ReviewedBy,
		CreatedAt:          w.CreatedAt.Format(time.RFC3339),
	}
	if w.ReviewedAt != nil {
		dto.ReviewedAt = strPtr(w.ReviewedAt.Format(time.RFC3339))
	}
	return dto
}

func toWorkoutDTOs(workouts []workout.Workout) []WorkoutDTO {
	dtos := make([]WorkoutDTO, len(workouts))
	for i, w := range workouts {
		dtos[i] = toWorkoutDTO(w)
	}
	return dtos
}

func toProductDTO(p rewards.Product) ProductDTO {
	return ProductDTO{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		PointsCost:     p.PointsCost,
		StockQuantity:  p.StockQuantity,
		StockAvailable: p.StockAvailable,
		Active:         p.Active,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

func toRedemptionDTO(rd rewards.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:          rd.ID,
		UserID:      string(rd.UserID),
		ProductID:   rd.ProductID,
		Quantity:    rd.Quantity,
		PointsSpent: rd.PointsSpent,
		Status:      string(rd.Status),
		CreatedAt:   rd.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   rd.UpdatedAt.Format(time.RFC3339),
	}
}

func strPtr(s string) *string {
	return &s
}
