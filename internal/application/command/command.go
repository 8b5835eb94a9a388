// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/alem-hub/progression-hub/internal/application/view"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/logger"
	"github.com/alem-hub/progression-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StudentLoader reads the full state of one student.
type StudentLoader interface {
	Load(ctx context.Context, studentID string) (*view.Student, error)
}

// FeatureToggle reports whether a feature is enabled for a student.
// A nil toggle means enabled.
type FeatureToggle func(studentID string) bool

func (t FeatureToggle) enabled(studentID string) bool {
	return t == nil || t(studentID)
}

// Clock returns the current time.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// publishAll publishes events in order. A failed publish is logged and
// never fails the command: the write is already committed.
func publishAll(ctx context.Context, pub shared.EventPublisher, correlationID string, events []shared.Event) {
	if pub == nil {
		return
	}
	log := logger.FromContext(ctx)
	for _, e := range events {
		if correlationID != "" {
			e = withCorrelation(e, correlationID)
		}
		if err := pub.Publish(e); err != nil {
			log.Warn("failed to publish event", logger.EventType(string(e.EventType())), logger.Err(err))
		}
	}
}

func withCorrelation(e shared.Event, id string) shared.Event {
	switch ev := e.(type) {
	case shared.SettingsChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.CatalogChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.LevelChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.PointsAwardedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.UnlockRecordedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.SelectionChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.DailyBonusClaimedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	}
	return e
}

// clientKey scopes a caller supplied idempotency key to one operation and
// student, so a key reused elsewhere can never match this ledger entry.
func clientKey(op, studentID, key string) string {
	return op + ":" + studentID + ":client:" + key
}

// levelEvents returns a LevelChanged event when the level moved.
func levelEvents(studentID string, oldLevel, newLevel int) []shared.Event {
	if oldLevel == newLevel {
		return nil
	}
	return []shared.Event{shared.NewLevelChangedEvent(studentID, oldLevel, newLevel)}
}

// equip stores one category change on a freshly read selection, retrying when
// another writer bumped the version in between. The gate must already be checked.
func equip(ctx context.Context, selections cosmetic.SelectionRepository, studentID string, c cosmetic.Category, key string, now time.Time) (cosmetic.Selection, error) {
	return retry.Value(ctx, retry.ConflictRetrier(shared.IsConflict), func(ctx context.Context) (cosmetic.Selection, error) {
		cur, err := selections.GetSelection(ctx, studentID)
		if err != nil {
			return cosmetic.Selection{}, retry.Permanent(err)
		}
		if cur.Key(c) == key {
			return cur, nil
		}
		return selections.UpdateSelection(ctx, cur.With(c, key, now), cur.Version)
	})
}
