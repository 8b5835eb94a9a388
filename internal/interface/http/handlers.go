package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/progression-hub/internal/application/command"
	"github.com/alem-hub/progression-hub/internal/application/query"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// CURVE & CATALOG
// ══════════════════════════════════════════════════════════════════════════════

type thresholdsResponse struct {
	Settings   progression.Settings `json:"settings"`
	Thresholds progression.Table    `json:"thresholds"`
}

func (s *Server) handleGetThresholds(c *gin.Context) {
	settings, table, err := s.deps.Curve.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, thresholdsResponse{Settings: settings, Thresholds: table})
}

func (s *Server) handleGetCatalog(c *gin.Context) {
	category, err := cosmetic.ParseCategory(c.Param("category"))
	if err != nil {
		writeError(c, err)
		return
	}
	items, err := s.deps.Catalog.ListItems(c.Request.Context(), category)
	if err != nil {
		writeError(c, err)
		return
	}
	// Students only see enabled items.
	if !principal(c).Role.IsAdmin() {
		visible := items[:0:0]
		for _, it := range items {
			if it.Base().Enabled {
				visible = append(visible, it)
			}
		}
		items = visible
	}
	writeList(c, items)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetProgression(c *gin.Context) {
	q := query.GetProgressionQuery{
		StudentID:      c.Param("id"),
		BaseRulePoints: s.config.BaseRulePoints,
		IncludeCatalog: c.Query("catalog") == "true" || c.Query("catalog") == "1",
	}
	if raw := c.Query("base_rule_points"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(c, badRequest("base_rule_points must be a number"))
			return
		}
		q.BaseRulePoints = v
	}

	dto, err := s.deps.GetProgression.Handle(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto)
}

func (s *Server) handleGetUnlocks(c *gin.Context) {
	records, err := s.deps.Unlocks.ListUnlocks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeList(c, records)
}

type selectionRequest struct {
	// Changes maps a category name to the key to equip, "none" clears it.
	Changes         map[string]string `json:"changes"`
	ExpectedVersion *int64            `json:"expected_version"`
}

func (s *Server) handleSetSelection(c *gin.Context) {
	var req selectionRequest
	if !bindJSON(c, &req) {
		return
	}
	changes := make(map[cosmetic.Category]string, len(req.Changes))
	for name, key := range req.Changes {
		category, err := cosmetic.ParseCategory(name)
		if err != nil {
			writeError(c, err)
			return
		}
		changes[category] = key
	}

	res, err := s.deps.SetAvatarSettings.Handle(c.Request.Context(), command.SetAvatarSettingsCommand{
		StudentID:       c.Param("id"),
		Changes:         changes,
		ExpectedVersion: req.ExpectedVersion,
		CorrelationID:   requestID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res.Selection)
}

type purchaseRequest struct {
	Category string `json:"category"`
	ItemKey  string `json:"item_key"`
}

type purchaseResponse struct {
	AlreadyOwned bool               `json:"already_owned"`
	Free         bool               `json:"free"`
	PointsSpent  float64            `json:"points_spent"`
	BalanceAfter float64            `json:"balance_after"`
	Selection    cosmetic.Selection `json:"selection"`
}

func (s *Server) handlePurchaseUnlock(c *gin.Context) {
	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	category, err := cosmetic.ParseCategory(req.Category)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.deps.PurchaseUnlock.Handle(c.Request.Context(), command.PurchaseUnlockCommand{
		StudentID:      c.Param("id"),
		Category:       category,
		ItemKey:        req.ItemKey,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  requestID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyOwned || res.Free {
		status = http.StatusOK
	}
	writeJSON(c, status, purchaseResponse{
		AlreadyOwned: res.AlreadyOwned,
		Free:         res.Free,
		PointsSpent:  res.PointsSpent,
		BalanceAfter: res.BalanceAfter,
		Selection:    res.Selection,
	})
}

type dailyBonusResponse struct {
	PointsAwarded float64   `json:"points_awarded"`
	AvatarName    string    `json:"avatar_name"`
	BalanceAfter  float64   `json:"balance_after"`
	GrantedAt     time.Time `json:"granted_at"`
	NextReadyAt   time.Time `json:"next_ready_at"`
}

func (s *Server) handleClaimDailyBonus(c *gin.Context) {
	res, err := s.deps.ClaimDailyBonus.Handle(c.Request.Context(), command.ClaimDailyBonusCommand{
		StudentID:      c.Param("id"),
		Role:           principal(c).Role,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  requestID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dailyBonusResponse{
		PointsAwarded: res.PointsAwarded,
		AvatarName:    res.AvatarName,
		BalanceAfter:  res.BalanceAfter,
		GrantedAt:     res.GrantedAt,
		NextReadyAt:   res.NextReadyAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

type rulePointsRequest struct {
	Outcome    string  `json:"outcome"`
	BasePoints float64 `json:"base_points"`
	Note       string  `json:"note"`
}

type rulePointsResponse struct {
	Delta          float64 `json:"delta"`
	AuraApplied    bool    `json:"aura_applied"`
	Replayed       bool    `json:"replayed,omitempty"`
	BalanceAfter   float64 `json:"balance_after"`
	LifetimePoints float64 `json:"lifetime_points"`
	OldLevel       int     `json:"old_level"`
	NewLevel       int     `json:"new_level"`
}

func (s *Server) handleAwardRulePoints(c *gin.Context) {
	var req rulePointsRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.AwardRulePoints.Handle(c.Request.Context(), command.AwardRulePointsCommand{
		StudentID:      c.Param("id"),
		Outcome:        command.RuleOutcome(req.Outcome),
		BasePoints:     req.BasePoints,
		Note:           req.Note,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  requestID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rulePointsResponse{
		Delta:          res.Delta,
		AuraApplied:    res.AuraApplied,
		Replayed:       res.Replayed,
		BalanceAfter:   res.BalanceAfter,
		LifetimePoints: res.LifetimePoints,
		OldLevel:       res.OldLevel,
		NewLevel:       res.NewLevel,
	})
}

func (s *Server) handleUpdateLevelSettings(c *gin.Context) {
	var req progression.Settings
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.UpdateLevelSettings.Handle(c.Request.Context(), command.UpdateLevelSettingsCommand{
		BaseJump:      req.BaseJump,
		DifficultyPct: req.DifficultyPct,
		CorrelationID: requestID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, thresholdsResponse{Settings: res.Settings, Thresholds: res.Table})
}

func (s *Server) handleUpsertCatalogItem(c *gin.Context) {
	category, err := cosmetic.ParseCategory(c.Param("category"))
	if err != nil {
		writeError(c, err)
		return
	}
	item, err := decodeItem(c, category)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.deps.CatalogItems.Upsert(c.Request.Context(), command.UpsertCatalogItemCommand{
		Item:          item,
		CorrelationID: requestID(c),
	}); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, item)
}

func (s *Server) handleDeleteCatalogItem(c *gin.Context) {
	category, err := cosmetic.ParseCategory(c.Param("category"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.deps.CatalogItems.Delete(c.Request.Context(), command.DeleteCatalogItemCommand{
		Category:      category,
		ItemKey:       c.Param("key"),
		CorrelationID: requestID(c),
	}); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// decodeItem reads the body into the variant of category. The key always
// comes from the path.
func decodeItem(c *gin.Context, category cosmetic.Category) (cosmetic.Item, error) {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	key := c.Param("key")

	var (
		item cosmetic.Item
		err  error
	)
	switch category {
	case cosmetic.CategoryAvatar:
		var v cosmetic.Avatar
		err = dec.Decode(&v)
		v.Key = key
		item = v
	case cosmetic.CategoryEffect:
		var v cosmetic.Effect
		err = dec.Decode(&v)
		v.Key = key
		item = v
	case cosmetic.CategoryCornerBorder:
		var v cosmetic.CornerBorder
		err = dec.Decode(&v)
		v.Key = key
		item = v
	case cosmetic.CategoryCardPlate:
		var v cosmetic.CardPlate
		err = dec.Decode(&v)
		v.Key = key
		item = v
	default:
		return nil, shared.ErrUnknownCategory
	}
	if err != nil {
		return nil, badRequest("invalid item body: " + err.Error())
	}
	return item, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// bindJSON decodes the body and writes a 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, badRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func badRequest(msg string) error {
	return shared.NewDomainError("http", "Decode", shared.ErrValidation, msg)
}
