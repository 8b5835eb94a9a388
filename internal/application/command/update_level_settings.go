package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE LEVEL SETTINGS COMMAND
// Admin change of the threshold curve. Curve caches drop their tables on the
// settings_changed event and every level is re-derived from lifetime points.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateLevelSettingsCommand contains the new curve parameters.
type UpdateLevelSettingsCommand struct {
	BaseJump      float64
	DifficultyPct float64
	CorrelationID string
}

// Validate validates the command.
func (c UpdateLevelSettingsCommand) Validate() error {
	if err := (progression.Settings{BaseJump: c.BaseJump, DifficultyPct: c.DifficultyPct}).Validate(); err != nil {
		return shared.WrapError("command", "UpdateLevelSettings", shared.ErrValidation, shared.Message(err), err)
	}
	return nil
}

// UpdateLevelSettingsResult contains the stored settings and their table.
type UpdateLevelSettingsResult struct {
	Settings progression.Settings
	Table    progression.Table
	Events   []shared.Event
}

// UpdateLevelSettingsHandler handles the UpdateLevelSettingsCommand.
type UpdateLevelSettingsHandler struct {
	settings       progression.SettingsRepository
	eventPublisher shared.EventPublisher
	maxLevel       int
}

// NewUpdateLevelSettingsHandler creates a new UpdateLevelSettingsHandler.
func NewUpdateLevelSettingsHandler(settings progression.SettingsRepository, eventPublisher shared.EventPublisher, maxLevel int) *UpdateLevelSettingsHandler {
	if maxLevel <= 0 {
		maxLevel = progression.MaxLevel
	}
	return &UpdateLevelSettingsHandler{settings: settings, eventPublisher: eventPublisher, maxLevel: maxLevel}
}

// Handle executes the command.
func (h *UpdateLevelSettingsHandler) Handle(ctx context.Context, cmd UpdateLevelSettingsCommand) (*UpdateLevelSettingsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s := progression.Settings{BaseJump: cmd.BaseJump, DifficultyPct: cmd.DifficultyPct}
	if err := h.settings.SaveSettings(ctx, s); err != nil {
		return nil, fmt.Errorf("update_level_settings: failed to save: %w", err)
	}

	result := &UpdateLevelSettingsResult{
		Settings: s,
		Table:    progression.BuildThresholds(s, h.maxLevel),
		Events:   []shared.Event{shared.NewSettingsChangedEvent(s.BaseJump, s.DifficultyPct)},
	}
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, result.Events)
	return result, nil
}
