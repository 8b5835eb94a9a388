package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM DAILY BONUS COMMAND
// Credits the daily free points of the equipped avatar, at most once per
// cooldown window.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimDailyBonusCommand contains the data to claim the bonus.
type ClaimDailyBonusCommand struct {
	// StudentID is the claimer.
	StudentID string

	// Role is the caller's role. Only admin and student may claim.
	Role student.Role

	// IdempotencyKey deduplicates retried requests. Defaults to one key per
	// student and window.
	IdempotencyKey string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ClaimDailyBonusCommand) Validate() error {
	if c.StudentID == "" {
		return shared.NewDomainError("command", "ClaimDailyBonus", shared.ErrValidation, "student_id is required")
	}
	return nil
}

// ClaimDailyBonusResult contains the result of a claim.
type ClaimDailyBonusResult struct {
	PointsAwarded float64
	AvatarName    string
	BalanceAfter  float64
	GrantedAt     time.Time
	NextReadyAt   time.Time
	Events        []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ClaimDailyBonusHandler handles the ClaimDailyBonusCommand.
type ClaimDailyBonusHandler struct {
	loader         StudentLoader
	store          bonus.ClaimStore
	lock           bonus.ClaimLock
	eventPublisher shared.EventPublisher

	// Configuration
	enabled  FeatureToggle
	cooldown time.Duration
	lockTTL  time.Duration
	clock    Clock
}

// ClaimDailyBonusHandlerConfig contains configuration for the handler.
type ClaimDailyBonusHandlerConfig struct {
	Cooldown time.Duration // Window between two grants
	LockTTL  time.Duration // Lifetime of the per-student claim lock
	Enabled  FeatureToggle // progression.daily_bonus flag
	Clock    Clock
}

// DefaultClaimDailyBonusHandlerConfig returns default configuration.
func DefaultClaimDailyBonusHandlerConfig() ClaimDailyBonusHandlerConfig {
	return ClaimDailyBonusHandlerConfig{
		Cooldown: bonus.DefaultCooldown,
		LockTTL:  10 * time.Second,
	}
}

// NewClaimDailyBonusHandler creates a new ClaimDailyBonusHandler. lock may be nil.
func NewClaimDailyBonusHandler(
	loader StudentLoader,
	store bonus.ClaimStore,
	lock bonus.ClaimLock,
	eventPublisher shared.EventPublisher,
	config ClaimDailyBonusHandlerConfig,
) *ClaimDailyBonusHandler {
	def := DefaultClaimDailyBonusHandlerConfig()
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	return &ClaimDailyBonusHandler{
		loader:         loader,
		store:          store,
		lock:           lock,
		eventPublisher: eventPublisher,
		enabled:        config.Enabled,
		cooldown:       config.Cooldown,
		lockTTL:        config.LockTTL,
		clock:          config.Clock,
	}
}

// Handle executes the claim. Checks run in order: bonus configured, role,
// cooldown, claim lock; the store re-checks the window on the locked row.
func (h *ClaimDailyBonusHandler) Handle(ctx context.Context, cmd ClaimDailyBonusCommand) (*ClaimDailyBonusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !h.enabled.enabled(cmd.StudentID) {
		return nil, shared.NewDomainError("bonus", "Claim", shared.ErrNoBonusConfigured, "daily bonus is currently disabled")
	}

	st, err := h.loader.Load(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("claim_daily_bonus: failed to load student: %w", err)
	}

	avatar, ok := st.EquippedAvatar()
	points := st.Aura(0).DailyBonusPoints
	if !ok || points <= 0 {
		return nil, shared.NewDomainError("bonus", "Claim", shared.ErrNoBonusConfigured, "equipped avatar has no daily bonus")
	}
	if !cmd.Role.CanClaimDailyBonus() {
		return nil, shared.Errorf("bonus", "Claim", shared.ErrRoleNotPermitted, "role %q cannot claim the daily bonus", cmd.Role)
	}

	now := h.clock.now()
	window := bonus.WindowFor(st.Selection, h.cooldown)
	if !window.IsReady(now) {
		return nil, window.NotReadyErr(now)
	}

	log := logger.FromContext(ctx).With(logger.StudentID(cmd.StudentID), logger.ItemKey(avatar.Key))
	if h.lock != nil {
		release, acquired, err := h.lock.Acquire(ctx, cmd.StudentID, h.lockTTL)
		switch {
		case err != nil:
			// The store still enforces one grant per window.
			log.Warn("claim lock unavailable", logger.Err(err))
		case !acquired:
			return nil, shared.ErrClaimInProgress
		default:
			defer release()
		}
	}

	idem := fmt.Sprintf("daily:%s:%d", cmd.StudentID, window.ReadyAt().Unix())
	if cmd.IdempotencyKey != "" {
		idem = clientKey("daily", cmd.StudentID, cmd.IdempotencyKey)
	}
	res, err := h.store.ClaimDailyBonus(ctx, bonus.ClaimRequest{
		StudentID:      cmd.StudentID,
		AvatarID:       avatar.Key,
		Points:         float64(points),
		Cooldown:       h.cooldown,
		Now:            now,
		IdempotencyKey: idem,
	})
	if err != nil {
		return nil, err
	}

	oldLevel := st.Level.Level
	newLevel := st.Table.ResolveLevel(st.Progress.LifetimePoints + res.PointsAwarded)

	result := &ClaimDailyBonusResult{
		PointsAwarded: res.PointsAwarded,
		AvatarName:    avatar.DisplayName(),
		BalanceAfter:  res.BalanceAfter,
		GrantedAt:     res.GrantedAt,
		NextReadyAt:   res.GrantedAt.Add(h.cooldown),
	}
	result.Events = append(result.Events,
		shared.NewDailyBonusClaimedEvent(cmd.StudentID, res.PointsAwarded, result.AvatarName),
		shared.NewPointsAwardedEvent(cmd.StudentID, res.PointsAwarded, string(student.ReasonDailyBonus)),
	)
	result.Events = append(result.Events, levelEvents(cmd.StudentID, oldLevel, newLevel)...)

	log.Info("daily bonus claimed", logger.Points(res.PointsAwarded))
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, result.Events)
	return result, nil
}
