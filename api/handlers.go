/*
handlers.go - HTTP API handlers for the HPoints engine

PURPOSE:
  Exposes the ledger, workout validation, and redemption services via
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Points:
    GET    /api/hpoints/balance          Balance summary for caller
    GET    /api/hpoints/history          Paginated ledger history

  Workouts:
    POST   /api/workouts                 Submit workout for validation
    GET    /api/workouts                 Caller's workouts

  Admin validation:
    GET    /api/admin/validation/queue         Pending workouts, oldest first
    POST   /api/admin/validation/{id}/approve  Approve and credit
    POST   /api/admin/validation/{id}/reject   Reject with reason

  Admin ledger:
    POST   /api/admin/adjustments        Manual balance adjustment
    POST   /api/admin/credits            Credit points (challenges etc)

  Redemptions:
    POST   /api/redemptions              Redeem a product
    GET    /api/redemptions              Caller's redemptions
    POST   /api/admin/redemptions/{id}/fulfill
    POST   /api/admin/redemptions/{id}/cancel

  Products:
    GET    /api/products                 Active catalog
    GET    /api/products/{id}
    POST   /api/admin/products           Create
    PUT    /api/admin/products/{id}      Update
    DELETE /api/admin/products/{id}      Retire

  Users:
    GET    /api/users
    POST   /api/users
    GET    /api/users/{id}

IDENTITY:
  The caller is identified by the X-User-ID header; admin endpoints read
  X-Admin-ID. There is no authentication layer here: the service sits
  behind a gateway that validates sessions and injects these headers.

ERROR HANDLING:
  Domain errors map onto HTTP status via their sentinel:
  - 400: validation errors, malformed input
  - 404: unknown user, workout, product, redemption
  - 409: invalid state transition, write conflict, duplicate operation
  - 422: insufficient balance, product unavailable
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/workout"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *ledger.Ledger
	Aggregator *ledger.Aggregator
	Workouts   *workout.Service
	Rewards    *rewards.Service
	Users      ledger.UserStore
	Log        *slog.Logger
}

// NewHandler wires the domain services into an HTTP handler set.
func NewHandler(l *ledger.Ledger, agg *ledger.Aggregator, ws *workout.Service, rs *rewards.Service, users ledger.UserStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Ledger:     l,
		Aggregator: agg,
		Workouts:   ws,
		Rewards:    rs,
		Users:      users,
		Log:        log,
	}
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// GetBalance returns the balance summary for the calling member.
// GET /api/hpoints/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	summary, err := h.Aggregator.Summary(r.Context(), userID, time.Now())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(summary))
}

// GetHistory returns the caller's ledger history, newest first.
// GET /api/hpoints/history?limit=20&offset=0
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	// Materialize any lapsed lots first so expiration debits show up in
	// the history the member sees.
	if _, err := h.Aggregator.MaterializeExpirations(r.Context(), userID, time.Now()); err != nil {
		h.writeErr(w, r, err)
		return
	}

	entries, total, err := h.Ledger.Store.EntriesPage(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryDTO{
		UserID:  string(userID),
		Entries: toEntryDTOs(entries),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// =============================================================================
// WORKOUT HANDLERS
// =============================================================================

// SubmitWorkout accepts a workout for validation.
// POST /api/workouts
func (h *Handler) SubmitWorkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req SubmitWorkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
		return
	}

	wk, err := h.Workouts.Submit(r.Context(), workout.Workout{
		UserID:             userID,
		Date:               date,
		Zone:               workout.Zone(req.Zone),
		DistanceKm:         decimal.NewFromFloat(req.DistanceKm),
		DurationSeconds:    req.DurationSeconds,
		PhotoRef:           req.PhotoRef,
		InstagramStoryLink: req.InstagramStoryLink,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("workout submitted", "workout_id", wk.ID, "user_id", userID, "zone", wk.Zone)
	writeJSON(w, http.StatusCreated, toWorkoutDTO(wk))
}

// ListWorkouts returns the caller's workouts, newest first.
// GET /api/workouts
func (h *Handler) ListWorkouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	workouts, err := h.Workouts.Store.WorkoutsByUser(r.Context(), userID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkoutDTOs(workouts))
}

// ValidationQueue returns pending workouts, oldest first.
// GET /api/admin/validation/queue
func (h *Handler) ValidationQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.adminID(w, r); !ok {
		return
	}

	workouts, err := h.Workouts.PendingQueue(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toWorkoutDTOs(workouts))
}

// ApproveWorkout approves a pending workout and credits points.
// POST /api/admin/validation/{id}/approve
func (h *Handler) ApproveWorkout(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.adminID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	wk, err := h.Workouts.Approve(r.Context(), id, adminID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("workout approved", "workout_id", id, "admin_id", adminID, "points", wk.HPointsEarned)
	workoutDecisions.WithLabelValues("approved").Inc()
	writeJSON(w, http.StatusOK, toWorkoutDTO(wk))
}

// RejectWorkout rejects a pending workout with a reason.
// POST /api/admin/validation/{id}/reject
func (h *Handler) RejectWorkout(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.adminID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req RejectWorkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	wk, err := h.Workouts.Reject(r.Context(), id, adminID, req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("workout rejected", "workout_id", id, "admin_id", adminID)
	workoutDecisions.WithLabelValues("rejected").Inc()
	writeJSON(w, http.StatusOK, toWorkoutDTO(wk))
}

// =============================================================================
// ADMIN LEDGER HANDLERS
// =============================================================================

// CreateAdjustment applies a manual balance adjustment.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.adminID(w, r)
	if !ok {
		return
	}

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	if err := h.requireUser(r, ledger.UserID(req.UserID)); err != nil {
		h.writeErr(w, r, err)
		return
	}

	entry, err := h.Ledger.Adjust(r.Context(), ledger.UserID(req.UserID), ledger.PointsFromInt(req.Points), req.Reason, adminID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("manual adjustment", "user_id", req.UserID, "points", req.Points, "admin_id", adminID)
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// CreateCredit credits points from an external source such as a challenge.
// POST /api/admin/credits
func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.adminID(w, r)
	if !ok {
		return
	}

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Points <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "points must be positive")
		return
	}
	if req.ReferenceID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "reference_id is required")
		return
	}

	if err := h.requireUser(r, ledger.UserID(req.UserID)); err != nil {
		h.writeErr(w, r, err)
		return
	}

	source := ledger.Source(req.Source)
	if source == "" {
		source = ledger.SourceChallenge
	}

	expiresAt := time.Now().Add(h.Workouts.ExpiryWindow)
	entry, err := h.Ledger.Credit(r.Context(), ledger.UserID(req.UserID), ledger.PointsFromInt(req.Points),
		source, req.Reason, req.ReferenceID, adminID, &expiresAt)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem exchanges points for a product.
// POST /api/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	rd, err := h.Rewards.Redeem(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("redemption created", "redemption_id", rd.ID, "user_id", userID,
		"product_id", rd.ProductID, "points_spent", rd.PointsSpent)
	redemptionsTotal.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, toRedemptionDTO(rd))
}

// ListRedemptions returns the caller's redemptions, newest first.
// GET /api/redemptions
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	rds, err := h.Rewards.Store.RedemptionsByUser(r.Context(), userID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	dtos := make([]RedemptionDTO, len(rds))
	for i, rd := range rds {
		dtos[i] = toRedemptionDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// FulfillRedemption marks a pending redemption as handed over.
// POST /api/admin/redemptions/{id}/fulfill
func (h *Handler) FulfillRedemption(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.adminID(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rd, err := h.Rewards.Fulfill(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	redemptionsTotal.WithLabelValues("fulfilled").Inc()
	writeJSON(w, http.StatusOK, toRedemptionDTO(rd))
}

// CancelRedemption cancels a pending redemption, refunding points and stock.
// POST /api/admin/redemptions/{id}/cancel
func (h *Handler) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.adminID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rd, err := h.Rewards.Cancel(r.Context(), id, adminID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.Log.Info("redemption cancelled", "redemption_id", id, "admin_id", adminID, "refund", rd.PointsSpent)
	redemptionsTotal.WithLabelValues("cancelled").Inc()
	writeJSON(w, http.StatusOK, toRedemptionDTO(rd))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the active catalog. Admins can pass ?all=true.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	products, err := h.Rewards.Store.ListProducts(r.Context(), activeOnly)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Rewards.Store.GetProduct(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}

	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// CreateProduct adds a product to the catalog.
// POST /api/admin/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.adminID(w, r); !ok {
		return
	}

	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	p, err := productFromRequest(req, nil)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if err := h.Rewards.Store.SaveProduct(r.Context(), p); err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// UpdateProduct modifies an existing product.
// PUT /api/admin/products/{id}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.adminID(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	existing, err := h.Rewards.Store.GetProduct(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}

	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	req.ID = id

	p, err := productFromRequest(req, existing)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if err := h.Rewards.Store.SaveProduct(r.Context(), p); err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// DeleteProduct removes a product from the catalog. Existing redemptions
// keep their snapshot of the cost.
// DELETE /api/admin/products/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.adminID(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.Rewards.Store.DeleteProduct(r.Context(), id); err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func productFromRequest(req SaveProductRequest, existing *rewards.Product) (rewards.Product, error) {
	if req.Name == "" {
		return rewards.Product{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}
	if req.PointsCost <= 0 {
		return rewards.Product{}, &ledger.ValidationError{Field: "points_cost", Message: "must be positive"}
	}
	if req.StockQuantity < 0 {
		return rewards.Product{}, &ledger.ValidationError{Field: "stock_quantity", Message: "cannot be negative"}
	}

	now := time.Now()
	p := rewards.Product{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		PointsCost:     req.PointsCost,
		StockQuantity:  req.StockQuantity,
		StockAvailable: true,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		p.StockAvailable = existing.StockAvailable
		p.Active = existing.Active
		p.CreatedAt = existing.CreatedAt
	}
	if p.ID == "" {
		p.ID = rewards.NewProductID()
	}
	if req.StockAvailable != nil {
		p.StockAvailable = *req.StockAvailable
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	return p, nil
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all registered members.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single member.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	u, err := h.Users.GetUser(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// CreateUser registers a member.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "id and name are required")
		return
	}

	u := ledger.User{
		ID:       ledger.UserID(req.ID),
		Name:     req.Name,
		Email:    req.Email,
		JoinedAt: time.Now(),
	}
	if err := h.Users.SaveUser(r.Context(), u); err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// =============================================================================
// IDENTITY AND RESPONSE HELPERS
// =============================================================================

func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "X-User-ID header is required")
		return "", false
	}
	return ledger.UserID(id), true
}

func (h *Handler) adminID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Admin-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "X-Admin-ID header is required")
		return "", false
	}
	return id, true
}

func (h *Handler) requireUser(r *http.Request, userID ledger.UserID) error {
	u, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		return err
	}
	if u == nil {
		return ledger.ErrUserNotFound
	}
	return nil
}

// writeErr maps a domain error onto the HTTP status taxonomy.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "unavailable", err.Error())
	default:
		h.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error:   &ErrorDTO{Code: code, Message: message},
	})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
