package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET AVATAR SETTINGS COMMAND
// Equips or clears cosmetics. Every non-empty key must pass its gate.
// ══════════════════════════════════════════════════════════════════════════════

// SetAvatarSettingsCommand contains the selection changes.
type SetAvatarSettingsCommand struct {
	// StudentID is the owner of the selection.
	StudentID string

	// Changes maps a category to the key to equip. "none" clears the category.
	Changes map[cosmetic.Category]string

	// ExpectedVersion, when set, rejects the write if the stored selection
	// changed since the caller read it.
	ExpectedVersion *int64

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SetAvatarSettingsCommand) Validate() error {
	if c.StudentID == "" {
		return shared.NewDomainError("command", "SetAvatarSettings", shared.ErrValidation, "student_id is required")
	}
	if len(c.Changes) == 0 {
		return shared.NewDomainError("command", "SetAvatarSettings", shared.ErrValidation, "at least one category must be set")
	}
	for cat := range c.Changes {
		if !cat.IsValid() {
			return shared.ErrUnknownCategory
		}
	}
	return nil
}

// SetAvatarSettingsResult contains the stored selection.
type SetAvatarSettingsResult struct {
	Selection cosmetic.Selection
	Events    []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SetAvatarSettingsHandler handles the SetAvatarSettingsCommand.
type SetAvatarSettingsHandler struct {
	loader         StudentLoader
	selections     cosmetic.SelectionRepository
	eventPublisher shared.EventPublisher
	clock          Clock
	retrier        *retry.Retrier
}

// NewSetAvatarSettingsHandler creates a new SetAvatarSettingsHandler.
func NewSetAvatarSettingsHandler(
	loader StudentLoader,
	selections cosmetic.SelectionRepository,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *SetAvatarSettingsHandler {
	return &SetAvatarSettingsHandler{
		loader:         loader,
		selections:     selections,
		eventPublisher: eventPublisher,
		clock:          clock,
		retrier:        retry.ConflictRetrier(shared.IsConflict),
	}
}

// Handle executes the command. Without ExpectedVersion a conflicting write is
// recomputed from fresh state; with it the conflict is returned to the caller.
func (h *SetAvatarSettingsHandler) Handle(ctx context.Context, cmd SetAvatarSettingsCommand) (*SetAvatarSettingsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.ExpectedVersion != nil {
		return h.apply(ctx, cmd)
	}
	return retry.Value(ctx, h.retrier, func(ctx context.Context) (*SetAvatarSettingsResult, error) {
		res, err := h.apply(ctx, cmd)
		if err != nil && !shared.IsConflict(err) {
			return nil, retry.Permanent(err)
		}
		return res, err
	})
}

func (h *SetAvatarSettingsHandler) apply(ctx context.Context, cmd SetAvatarSettingsCommand) (*SetAvatarSettingsResult, error) {
	st, err := h.loader.Load(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("set_avatar_settings: failed to load student: %w", err)
	}

	expected := st.Selection.Version
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != expected {
		return nil, shared.ErrSelectionStale
	}

	now := h.clock.now()
	sel := st.Selection
	var events []shared.Event
	for _, cat := range cosmetic.AllCategories {
		key, ok := cmd.Changes[cat]
		if !ok {
			continue
		}
		if cosmetic.IsNone(key) {
			key = cosmetic.None
		} else if d := st.Decide(cat, key); !d.Allowed {
			return nil, d.Err(cat, key)
		}
		if sel.Key(cat) == key {
			continue
		}
		sel = sel.With(cat, key, now)
		events = append(events, shared.NewSelectionChangedEvent(cmd.StudentID, string(cat), key))
	}

	if len(events) == 0 {
		return &SetAvatarSettingsResult{Selection: st.Selection}, nil
	}

	stored, err := h.selections.UpdateSelection(ctx, sel, expected)
	if err != nil {
		return nil, err
	}
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, events)
	return &SetAvatarSettingsResult{Selection: stored, Events: events}, nil
}
