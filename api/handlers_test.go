package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacecrew/hpoints-engine/api"
	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/store/sqlite"
	"github.com/pacecrew/hpoints-engine/workout"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type env struct {
	store  *sqlite.Store
	led    *ledger.Ledger
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	led := ledger.New(store)
	agg := ledger.NewAggregator(led, store, 30*24*time.Hour)
	workouts := workout.NewService(store, workout.TablePolicy(map[workout.Zone]int64{
		workout.ZoneBase: 2,
	}, 5), 180*24*time.Hour)
	rewardsSvc := rewards.NewService(store, agg)

	h := api.NewHandler(led, agg, workouts, rewardsSvc, store, nil)
	router := api.NewRouter(h, []string{"http://localhost:3000"})

	require.NoError(t, store.SaveUser(context.Background(), ledger.User{
		ID: "usr-1", Name: "Ana", Email: "ana@pacecrew.run", JoinedAt: time.Now(),
	}))

	return &env{store: store, led: led, router: router}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func asUser(id string) map[string]string  { return map[string]string{"X-User-ID": id} }
func asAdmin(id string) map[string]string { return map[string]string{"X-Admin-ID": id} }

// =============================================================================
// BALANCE AND HISTORY
// =============================================================================

func TestAPI_Balance(t *testing.T) {
	e := newEnv(t)
	_, err := e.led.Adjust(context.Background(), "usr-1", ledger.PointsFromInt(75), "welcome challenge bonus", "adm-1")
	require.NoError(t, err)

	rec, env := e.do(t, "GET", "/api/hpoints/balance", nil, asUser("usr-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var dto struct {
		Balance     int64 `json:"balance"`
		TotalEarned int64 `json:"total_earned"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, int64(75), dto.Balance)
	assert.Equal(t, int64(75), dto.TotalEarned)
}

func TestAPI_Balance_MissingHeader(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "GET", "/api/hpoints/balance", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestAPI_Balance_UnknownUser(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "GET", "/api/hpoints/balance", nil, asUser("usr-ghost"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestAPI_History_Paginated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.led.Adjust(ctx, "usr-1", ledger.PointsFromInt(10), "history seeding entry", "adm-1")
		require.NoError(t, err)
	}

	rec, env := e.do(t, "GET", "/api/hpoints/history?limit=2", nil, asUser("usr-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var dto struct {
		Entries []json.RawMessage `json:"entries"`
		Total   int               `json:"total"`
		Limit   int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, 3, dto.Total)
	assert.Equal(t, 2, dto.Limit)
	assert.Len(t, dto.Entries, 2)
}

// =============================================================================
// WORKOUT FLOW
// =============================================================================

func submitWorkout(t *testing.T, e *env) string {
	t.Helper()
	rec, env := e.do(t, "POST", "/api/workouts", map[string]any{
		"date":             "2026-03-10",
		"zone":             "base",
		"distance_km":      5.0,
		"duration_seconds": 1800,
		"photo_ref":        "photos/run.jpg",
	}, asUser("usr-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var dto struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	require.NotEmpty(t, dto.ID)
	return dto.ID
}

func TestAPI_WorkoutSubmitApproveCredits(t *testing.T) {
	// GIVEN: A submitted 5km base workout (2/km + 5 = 15 points)
	// WHEN: An admin approves it through the queue
	// THEN: The member's balance reflects the credit

	e := newEnv(t)
	id := submitWorkout(t, e)

	rec, env := e.do(t, "GET", "/api/admin/validation/queue", nil, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, id, queue[0].ID)
	assert.Equal(t, "pending", queue[0].Status)

	rec, env = e.do(t, "POST", "/api/admin/validation/"+id+"/approve", nil, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var approved struct {
		Status        string `json:"status"`
		HPointsEarned int64  `json:"hpoints_earned"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &approved))
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, int64(15), approved.HPointsEarned)

	rec, env = e.do(t, "GET", "/api/hpoints/balance", nil, asUser("usr-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(15), bal.Balance)
}

func TestAPI_ApproveTwiceConflicts(t *testing.T) {
	e := newEnv(t)
	id := submitWorkout(t, e)

	rec, _ := e.do(t, "POST", "/api/admin/validation/"+id+"/approve", nil, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := e.do(t, "POST", "/api/admin/validation/"+id+"/approve", nil, asAdmin("adm-2"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", env.Error.Code)
}

func TestAPI_RejectRequiresReason(t *testing.T) {
	e := newEnv(t)
	id := submitWorkout(t, e)

	rec, env := e.do(t, "POST", "/api/admin/validation/"+id+"/reject",
		map[string]any{"reason": ""}, asAdmin("adm-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestAPI_SubmitInvalidZone(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "POST", "/api/workouts", map[string]any{
		"date":             "2026-03-10",
		"zone":             "swimming",
		"distance_km":      5.0,
		"duration_seconds": 1800,
		"photo_ref":        "photos/run.jpg",
	}, asUser("usr-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestAPI_AdminEndpointNeedsAdminHeader(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "GET", "/api/admin/validation/queue", nil, asUser("usr-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

// =============================================================================
// REDEMPTION FLOW
// =============================================================================

func createProduct(t *testing.T, e *env, cost, stock int64) string {
	t.Helper()
	rec, env := e.do(t, "POST", "/api/admin/products", map[string]any{
		"name":           "PaceCrew Cap",
		"points_cost":    cost,
		"stock_quantity": stock,
	}, asAdmin("adm-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var dto struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	return dto.ID
}

func TestAPI_RedeemHappyPath(t *testing.T) {
	e := newEnv(t)
	_, err := e.led.Adjust(context.Background(), "usr-1", ledger.PointsFromInt(100), "challenge completion award", "adm-1")
	require.NoError(t, err)
	productID := createProduct(t, e, 40, 3)

	rec, env := e.do(t, "POST", "/api/redemptions",
		map[string]any{"product_id": productID, "quantity": 1}, asUser("usr-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var rd struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		PointsSpent int64  `json:"points_spent"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rd))
	assert.Equal(t, "pending", rd.Status)
	assert.Equal(t, int64(40), rd.PointsSpent)

	rec, env = e.do(t, "GET", "/api/hpoints/balance", nil, asUser("usr-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balance       int64 `json:"balance"`
		TotalRedeemed int64 `json:"total_redeemed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(60), bal.Balance)
	assert.Equal(t, int64(40), bal.TotalRedeemed)
}

func TestAPI_RedeemInsufficientBalance(t *testing.T) {
	e := newEnv(t)
	productID := createProduct(t, e, 40, 3)

	rec, env := e.do(t, "POST", "/api/redemptions",
		map[string]any{"product_id": productID}, asUser("usr-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_balance", env.Error.Code)
}

func TestAPI_RedeemOutOfStock(t *testing.T) {
	e := newEnv(t)
	_, err := e.led.Adjust(context.Background(), "usr-1", ledger.PointsFromInt(100), "challenge completion award", "adm-1")
	require.NoError(t, err)
	productID := createProduct(t, e, 10, 0)

	rec, env := e.do(t, "POST", "/api/redemptions",
		map[string]any{"product_id": productID}, asUser("usr-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unavailable", env.Error.Code)
}

func TestAPI_CancelRefunds(t *testing.T) {
	e := newEnv(t)
	_, err := e.led.Adjust(context.Background(), "usr-1", ledger.PointsFromInt(100), "challenge completion award", "adm-1")
	require.NoError(t, err)
	productID := createProduct(t, e, 40, 3)

	_, env := e.do(t, "POST", "/api/redemptions",
		map[string]any{"product_id": productID}, asUser("usr-1"))
	var rd struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rd))

	rec, _ := e.do(t, "POST", "/api/admin/redemptions/"+rd.ID+"/cancel", nil, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = e.do(t, "GET", "/api/hpoints/balance", nil, asUser("usr-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(100), bal.Balance)
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func TestAPI_ProductCRUD(t *testing.T) {
	e := newEnv(t)
	id := createProduct(t, e, 40, 3)

	rec, env := e.do(t, "GET", "/api/products/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "PaceCrew Cap", p.Name)
	assert.True(t, p.Active)

	inactive := false
	rec, env = e.do(t, "PUT", "/api/admin/products/"+id, map[string]any{
		"name":           "PaceCrew Cap v2",
		"points_cost":    50,
		"stock_quantity": 3,
		"active":         inactive,
	}, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Inactive products drop out of the public catalog.
	rec, env = e.do(t, "GET", "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	rec, _ = e.do(t, "DELETE", "/api/admin/products/"+id, nil, asAdmin("adm-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = e.do(t, "GET", "/api/products/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestAPI_CreateProductValidation(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "POST", "/api/admin/products", map[string]any{
		"name":        "Freebie",
		"points_cost": 0,
	}, asAdmin("adm-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

// =============================================================================
// ADMIN LEDGER
// =============================================================================

func TestAPI_AdjustmentRequiresReason(t *testing.T) {
	e := newEnv(t)

	rec, env := e.do(t, "POST", "/api/admin/adjustments", map[string]any{
		"user_id": "usr-1",
		"points":  50,
		"reason":  "oops",
	}, asAdmin("adm-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestAPI_CreditIdempotentByReference(t *testing.T) {
	e := newEnv(t)

	body := map[string]any{
		"user_id":      "usr-1",
		"points":       50,
		"source":       "challenge",
		"reference_id": "chal-42",
	}
	rec, _ := e.do(t, "POST", "/api/admin/credits", body, asAdmin("adm-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := e.do(t, "POST", "/api/admin/credits", body, asAdmin("adm-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Healthz(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
