package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-hub/internal/application/command"
	"github.com/alem-hub/progression-hub/internal/application/query"
	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-hub/internal/infrastructure/service"
)

const testSecret = "test-secret"

type apiFixture struct {
	t      *testing.T
	store  *memory.Store
	server *Server

	mu  sync.Mutex
	now time.Time
}

func (f *apiFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *apiFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newAPIFixture wires the full stack on the memory store. Student s1 has 240
// lifetime points, which is level 5 on the default curve.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	f := &apiFixture{t: t, store: memory.NewStore(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.store.SetClock(f.clock)

	items := []cosmetic.Item{
		cosmetic.Avatar{
			ItemBase: cosmetic.ItemBase{Key: "fox", Name: "Fox", UnlockLevel: 1, Enabled: true},
			Aura:     &cosmetic.AuraProfile{RuleKeeperMultiplier: 2, RuleBreakerMultiplier: 1, SkillPulseMultiplier: 1, SpotlightMultiplier: 1, DailyFreePoints: 10},
		},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "dragon", UnlockLevel: 5, UnlockPoints: 100, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "titan", UnlockLevel: 10, UnlockPoints: 50, Enabled: true}},
		cosmetic.Avatar{ItemBase: cosmetic.ItemBase{Key: "ghost", UnlockLevel: 1, Enabled: false}},
	}
	for _, it := range items {
		require.NoError(t, f.store.UpsertItem(ctx, it))
	}
	require.NoError(t, f.store.EnsureStudent(ctx, "s1"))
	_, err := f.store.AppendEntry(ctx, student.LedgerEntry{StudentID: "s1", Delta: 240, Reason: student.ReasonRuleKeeper})
	require.NoError(t, err)

	curve := service.NewCurveService(f.store, nil, 0, nil)
	loader := view.NewLoader(curve, f.store, f.store, f.store, f.store)
	clock := command.Clock(f.clock)

	f.server = NewServer(Config{JWTSecret: testSecret, BaseRulePoints: 1}, Dependencies{
		GetProgression:      query.NewGetProgressionHandler(loader, 24*time.Hour, f.clock),
		PurchaseUnlock:      command.NewPurchaseUnlockHandler(loader, f.store, f.store, nil, command.PurchaseUnlockHandlerConfig{Clock: clock}),
		SetAvatarSettings:   command.NewSetAvatarSettingsHandler(loader, f.store, nil, clock),
		ClaimDailyBonus:     command.NewClaimDailyBonusHandler(loader, f.store, f.store, nil, command.ClaimDailyBonusHandlerConfig{Clock: clock}),
		AwardRulePoints:     command.NewAwardRulePointsHandler(loader, f.store, f.store, nil, clock),
		UpdateLevelSettings: command.NewUpdateLevelSettingsHandler(f.store, nil, 0),
		CatalogItems:        command.NewCatalogItemHandler(f.store, nil),
		Curve:               curve,
		Catalog:             f.store,
		Unlocks:             f.store,
	})
	return f
}

func (f *apiFixture) token(studentID string, role student.Role) string {
	tok, err := f.server.Tokens().Issue(studentID, role, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path, token string, body any) (*httptest.ResponseRecorder, JSONResponse) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var resp JSONResponse
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t)
	student1 := f.token("s1", student.RoleStudent)

	rec, resp := f.do(http.MethodGet, "/api/v1/students/s1/progression", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/students/s1/progression", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := NewTokenIssuer("other-secret", "progression-hub").Issue("s1", student.RoleAdmin, time.Hour)
	require.NoError(t, err)
	rec, _ = f.do(http.MethodGet, "/api/v1/students/s1/progression", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = f.do(http.MethodGet, "/api/v1/students/s2/progression", student1, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "role_not_permitted", resp.Error.Code)

	rec, _ = f.do(http.MethodPut, "/api/v1/admin/levels/settings", student1, map[string]float64{"base_jump": 100, "difficulty_pct": 8})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/students/s1/progression", f.token("admin", student.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressionAndThresholds(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token("s1", student.RoleStudent)

	rec, resp := f.do(http.MethodGet, "/api/v1/students/s1/progression?catalog=true", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	level := data["level"].(map[string]any)
	assert.EqualValues(t, 5, level["level"])
	assert.NotEmpty(t, data["catalog"])

	rec, resp = f.do(http.MethodGet, "/api/v1/levels/thresholds", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thresholds := resp.Data.(map[string]any)["thresholds"].([]any)
	require.GreaterOrEqual(t, len(thresholds), 3)
	assert.EqualValues(t, 0, thresholds[0].(map[string]any)["min_lifetime_points"])
	assert.EqualValues(t, 50, thresholds[1].(map[string]any)["min_lifetime_points"])
	assert.EqualValues(t, 110, thresholds[2].(map[string]any)["min_lifetime_points"])

	rec, resp = f.do(http.MethodGet, "/api/v1/catalog/avatars", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, resp.Meta.TotalCount, "disabled items are hidden from students")

	rec, resp = f.do(http.MethodGet, "/api/v1/catalog/hats", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestPurchaseFlow(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token("s1", student.RoleStudent)

	rec, resp := f.do(http.MethodPost, "/api/v1/students/s1/unlocks", tok, purchaseRequest{Category: "avatar", ItemKey: "dragon"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 100, data["points_spent"])
	assert.EqualValues(t, 140, data["balance_after"])

	// buying again charges nothing
	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/unlocks", tok, purchaseRequest{Category: "avatar", ItemKey: "dragon"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["already_owned"])

	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/unlocks", tok, purchaseRequest{Category: "avatar", ItemKey: "titan"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "gate_denied", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "reach level 10")

	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/unlocks", tok, purchaseRequest{Category: "avatar", ItemKey: "unicorn"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = f.do(http.MethodGet, "/api/v1/students/s1/unlocks", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Meta.TotalCount)
}

func TestSelectionAndDailyBonus(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token("s1", student.RoleStudent)

	rec, resp := f.do(http.MethodPatch, "/api/v1/students/s1/selection", tok, selectionRequest{Changes: map[string]string{"avatar": "fox"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fox", resp.Data.(map[string]any)["avatar_id"])

	rec, resp = f.do(http.MethodPatch, "/api/v1/students/s1/selection", tok, selectionRequest{Changes: map[string]string{"avatar": "ghost"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, resp.Error.Message, "currently unavailable")

	stale := int64(0)
	rec, resp = f.do(http.MethodPatch, "/api/v1/students/s1/selection", tok, selectionRequest{Changes: map[string]string{"avatar": "none"}, ExpectedVersion: &stale})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", resp.Error.Code)

	// the first window opens one cooldown after the avatar was set
	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/daily-bonus", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_ready", resp.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	f.advance(24 * time.Hour)
	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/daily-bonus", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 10, resp.Data.(map[string]any)["points_awarded"])

	rec, _ = f.do(http.MethodPost, "/api/v1/students/s1/daily-bonus", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	viewer := f.token("s1", student.RoleViewer)
	f.advance(24 * time.Hour)
	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/daily-bonus", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "role_not_permitted", resp.Error.Code)
}

func TestAdminEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token("admin", student.RoleAdmin)

	rec, resp := f.do(http.MethodPut, "/api/v1/admin/levels/settings", admin, map[string]float64{"base_jump": 100, "difficulty_pct": 8})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	thresholds := resp.Data.(map[string]any)["thresholds"].([]any)
	assert.EqualValues(t, 110, thresholds[1].(map[string]any)["min_lifetime_points"])

	rec, resp = f.do(http.MethodPut, "/api/v1/admin/levels/settings", admin, map[string]float64{"base_jump": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", resp.Error.Code)

	rec, _ = f.do(http.MethodPut, "/api/v1/admin/catalog/effect/sparkle", admin, map[string]any{"unlock_level": 3, "enabled": true, "style": "sparkle"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item, err := f.store.GetItem(context.Background(), cosmetic.CategoryEffect, "sparkle")
	require.NoError(t, err)
	assert.Equal(t, 3, item.Base().UnlockLevel)

	rec, _ = f.do(http.MethodPut, "/api/v1/admin/catalog/effect/sparkle", admin, map[string]any{"unlock_level": 3, "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(http.MethodDelete, "/api/v1/admin/catalog/effect/sparkle", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, resp = f.do(http.MethodPost, "/api/v1/students/s1/rule-points", admin, rulePointsRequest{Outcome: "kept", BasePoints: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 5, resp.Data.(map[string]any)["delta"])

	rec, _ = f.do(http.MethodPost, "/api/v1/students/s1/rule-points", admin, rulePointsRequest{Outcome: "maybe", BasePoints: 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec, _ := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.server.deps.Health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, _ = f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)
}

func TestStatusFor(t *testing.T) {
	status, code := statusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)

	status, _ = statusFor(cosmetic.InsufficientBalance(100, 40))
	assert.Equal(t, http.StatusConflict, status)
}
