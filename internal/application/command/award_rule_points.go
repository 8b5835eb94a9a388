package command

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD RULE POINTS COMMAND
// Applies a rule keeper reward or a rule breaker penalty through the aura of
// the student's equipped avatar and records it in the ledger.
// ══════════════════════════════════════════════════════════════════════════════

// RuleOutcome is the kind of rule event.
type RuleOutcome string

const (
	RuleKept   RuleOutcome = "kept"
	RuleBroken RuleOutcome = "broken"
)

// AwardRulePointsCommand contains the data to award rule points.
type AwardRulePointsCommand struct {
	// StudentID is the recipient.
	StudentID string

	// Outcome selects the keeper or breaker multiplier.
	Outcome RuleOutcome

	// BasePoints is the award before the aura is applied.
	BasePoints float64

	// Note is stored with the ledger entry.
	Note string

	// IdempotencyKey deduplicates retried requests (optional).
	IdempotencyKey string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardRulePointsCommand) Validate() error {
	if c.StudentID == "" {
		return shared.NewDomainError("command", "AwardRulePoints", shared.ErrValidation, "student_id is required")
	}
	if c.Outcome != RuleKept && c.Outcome != RuleBroken {
		return shared.Errorf("command", "AwardRulePoints", shared.ErrValidation, "outcome must be %q or %q", RuleKept, RuleBroken)
	}
	return student.ValidatePoints(c.BasePoints)
}

// AwardRulePointsResult contains the result of an award.
type AwardRulePointsResult struct {
	// Delta is the signed amount written to the ledger.
	Delta float64

	// AuraApplied is true when the equipped avatar changed the amount.
	AuraApplied bool

	// Replayed is true when the idempotency key was already recorded;
	// nothing was written and Delta is zero.
	Replayed bool

	BalanceAfter   float64
	LifetimePoints float64
	OldLevel       int
	NewLevel       int
	Events         []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardRulePointsHandler handles the AwardRulePointsCommand.
type AwardRulePointsHandler struct {
	loader         StudentLoader
	progress       student.ProgressRepository
	ledger         student.Ledger
	eventPublisher shared.EventPublisher
	clock          Clock
}

// NewAwardRulePointsHandler creates a new AwardRulePointsHandler.
func NewAwardRulePointsHandler(
	loader StudentLoader,
	progress student.ProgressRepository,
	ledger student.Ledger,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *AwardRulePointsHandler {
	return &AwardRulePointsHandler{
		loader:         loader,
		progress:       progress,
		ledger:         ledger,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// Handle executes the award. A penalty only lowers the spendable balance and
// never takes it below zero; lifetime points are untouched.
func (h *AwardRulePointsHandler) Handle(ctx context.Context, cmd AwardRulePointsCommand) (*AwardRulePointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := h.progress.EnsureStudent(ctx, cmd.StudentID); err != nil {
		return nil, fmt.Errorf("award_rule_points: failed to ensure student: %w", err)
	}

	st, err := h.loader.Load(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("award_rule_points: failed to load student: %w", err)
	}

	aura := st.Aura(cmd.BasePoints)
	var (
		delta  float64
		reason student.Reason
	)
	switch cmd.Outcome {
	case RuleKept:
		delta = float64(aura.RuleKeeperPoints)
		reason = student.ReasonRuleKeeper
	case RuleBroken:
		delta = -math.Min(float64(aura.RuleBreakerPoints), math.Max(0, st.Progress.PointsBalance))
		reason = student.ReasonRuleBreaker
	}

	idem := "rule:" + cmd.StudentID + ":" + uuid.NewString()
	if cmd.IdempotencyKey != "" {
		idem = clientKey("rule", cmd.StudentID, cmd.IdempotencyKey)
	}
	p, err := h.ledger.AppendEntry(ctx, student.LedgerEntry{
		StudentID:      cmd.StudentID,
		Delta:          delta,
		Reason:         reason,
		Note:           cmd.Note,
		IdempotencyKey: idem,
		CreatedAt:      h.clock.now(),
	})
	if errors.Is(err, shared.ErrDuplicateEntry) {
		logger.FromContext(ctx).Info("rule points already recorded", logger.StudentID(cmd.StudentID))
		return &AwardRulePointsResult{
			Replayed:       true,
			BalanceAfter:   p.PointsBalance,
			LifetimePoints: p.LifetimePoints,
			OldLevel:       st.Level.Level,
			NewLevel:       st.Table.ResolveLevel(p.LifetimePoints),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("award_rule_points: failed to append ledger entry: %w", err)
	}

	result := &AwardRulePointsResult{
		Delta:          delta,
		AuraApplied:    aura.HasModifier,
		BalanceAfter:   p.PointsBalance,
		LifetimePoints: p.LifetimePoints,
		OldLevel:       st.Level.Level,
		NewLevel:       st.Table.ResolveLevel(p.LifetimePoints),
	}
	if delta != 0 {
		result.Events = append(result.Events, shared.NewPointsAwardedEvent(cmd.StudentID, delta, string(reason)))
	}
	result.Events = append(result.Events, levelEvents(cmd.StudentID, result.OldLevel, result.NewLevel)...)

	logger.FromContext(ctx).Info("rule points recorded",
		logger.StudentID(cmd.StudentID),
		logger.String("reason", string(reason)),
		logger.Points(delta),
		logger.LevelValue(result.NewLevel),
	)
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, result.Events)
	return result, nil
}
