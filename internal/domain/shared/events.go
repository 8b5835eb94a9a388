// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Changes to level, unlock records or catalog drive the
// re-validation pipeline; the rest are informational for consuming surfaces.
const (
	// Progression events
	EventSettingsChanged EventType = "progression.settings_changed"
	EventLevelChanged    EventType = "progression.level_changed"
	EventPointsAwarded   EventType = "progression.points_awarded"

	// Cosmetic events
	EventUnlockRecorded   EventType = "cosmetic.unlock_recorded"
	EventCatalogChanged   EventType = "cosmetic.catalog_changed"
	EventSelectionChanged EventType = "cosmetic.selection_changed"
	EventSelectionRevoked EventType = "cosmetic.selection_revoked"

	// Bonus events
	EventDailyBonusClaimed EventType = "bonus.daily_claimed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// SettingsChangedEvent is emitted when an admin changes the level curve settings.
type SettingsChangedEvent struct {
	BaseEvent
	BaseJump      float64 `json:"base_jump"`
	DifficultyPct float64 `json:"difficulty_pct"`
}

// Payload implements Event interface.
func (e SettingsChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"base_jump":      e.BaseJump,
		"difficulty_pct": e.DifficultyPct,
	}
}

// NewSettingsChangedEvent creates a new SettingsChangedEvent.
func NewSettingsChangedEvent(baseJump, difficultyPct float64) SettingsChangedEvent {
	return SettingsChangedEvent{
		BaseEvent:     NewBaseEvent(EventSettingsChanged, "level_settings"),
		BaseJump:      baseJump,
		DifficultyPct: difficultyPct,
	}
}

// LevelChangedEvent is emitted when a student's effective level moves.
type LevelChangedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
	}
}

// NewLevelChangedEvent creates a new LevelChangedEvent.
func NewLevelChangedEvent(studentID string, oldLevel, newLevel int) LevelChangedEvent {
	return LevelChangedEvent{
		BaseEvent: NewBaseEvent(EventLevelChanged, studentID),
		StudentID: studentID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// PointsAwardedEvent is emitted after a ledger credit or debit outside the purchase flow.
type PointsAwardedEvent struct {
	BaseEvent
	StudentID string  `json:"student_id"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"reason"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"delta":      e.Delta,
		"reason":     e.Reason,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(studentID string, delta float64, reason string) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, studentID),
		StudentID: studentID,
		Delta:     delta,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Cosmetic Events
// ═══════════════════════════════════════════════════════════════════════════

// UnlockRecordedEvent is emitted after a purchase transaction commits.
type UnlockRecordedEvent struct {
	BaseEvent
	StudentID   string  `json:"student_id"`
	Category    string  `json:"category"`
	ItemKey     string  `json:"item_key"`
	PointsSpent float64 `json:"points_spent"`
}

// Payload implements Event interface.
func (e UnlockRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":   e.StudentID,
		"category":     e.Category,
		"item_key":     e.ItemKey,
		"points_spent": e.PointsSpent,
	}
}

// NewUnlockRecordedEvent creates a new UnlockRecordedEvent.
func NewUnlockRecordedEvent(studentID, category, itemKey string, pointsSpent float64) UnlockRecordedEvent {
	return UnlockRecordedEvent{
		BaseEvent:   NewBaseEvent(EventUnlockRecorded, studentID),
		StudentID:   studentID,
		Category:    category,
		ItemKey:     itemKey,
		PointsSpent: pointsSpent,
	}
}

// CatalogChangedEvent is emitted when an admin creates, edits, disables or removes an item.
type CatalogChangedEvent struct {
	BaseEvent
	Category string `json:"category"`
	ItemKey  string `json:"item_key"`
	Enabled  bool   `json:"enabled"`
	Removed  bool   `json:"removed"`
}

// Payload implements Event interface.
func (e CatalogChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"category": e.Category,
		"item_key": e.ItemKey,
		"enabled":  e.Enabled,
		"removed":  e.Removed,
	}
}

// NewCatalogChangedEvent creates a new CatalogChangedEvent.
func NewCatalogChangedEvent(category, itemKey string, enabled, removed bool) CatalogChangedEvent {
	return CatalogChangedEvent{
		BaseEvent: NewBaseEvent(EventCatalogChanged, category+":"+itemKey),
		Category:  category,
		ItemKey:   itemKey,
		Enabled:   enabled,
		Removed:   removed,
	}
}

// SelectionChangedEvent is emitted when a student equips an item.
type SelectionChangedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Category  string `json:"category"`
	ItemKey   string `json:"item_key"`
}

// Payload implements Event interface.
func (e SelectionChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"category":   e.Category,
		"item_key":   e.ItemKey,
	}
}

// NewSelectionChangedEvent creates a new SelectionChangedEvent.
func NewSelectionChangedEvent(studentID, category, itemKey string) SelectionChangedEvent {
	return SelectionChangedEvent{
		BaseEvent: NewBaseEvent(EventSelectionChanged, studentID),
		StudentID: studentID,
		Category:  category,
		ItemKey:   itemKey,
	}
}

// SelectionRevokedEvent tells consuming surfaces that an equipped item was reset to none.
type SelectionRevokedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Category  string `json:"category"`
	ItemKey   string `json:"item_key"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e SelectionRevokedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"category":   e.Category,
		"item_key":   e.ItemKey,
		"reason":     e.Reason,
	}
}

// NewSelectionRevokedEvent creates a new SelectionRevokedEvent.
func NewSelectionRevokedEvent(studentID, category, itemKey, reason string) SelectionRevokedEvent {
	return SelectionRevokedEvent{
		BaseEvent: NewBaseEvent(EventSelectionRevoked, studentID),
		StudentID: studentID,
		Category:  category,
		ItemKey:   itemKey,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bonus Events
// ═══════════════════════════════════════════════════════════════════════════

// DailyBonusClaimedEvent is emitted after a daily bonus claim commits.
type DailyBonusClaimedEvent struct {
	BaseEvent
	StudentID     string  `json:"student_id"`
	PointsAwarded float64 `json:"points_awarded"`
	AvatarName    string  `json:"avatar_name"`
}

// Payload implements Event interface.
func (e DailyBonusClaimedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"points_awarded": e.PointsAwarded,
		"avatar_name":    e.AvatarName,
	}
}

// NewDailyBonusClaimedEvent creates a new DailyBonusClaimedEvent.
func NewDailyBonusClaimedEvent(studentID string, points float64, avatarName string) DailyBonusClaimedEvent {
	return DailyBonusClaimedEvent{
		BaseEvent:     NewBaseEvent(EventDailyBonusClaimed, studentID),
		StudentID:     studentID,
		PointsAwarded: points,
		AvatarName:    avatarName,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PayloadString reads a string field from an event payload.
func PayloadString(e Event, key string) string {
	if v, ok := e.Payload()[key].(string); ok {
		return v
	}
	return ""
}

// PayloadBool reads a bool field from an event payload.
func PayloadBool(e Event, key string) bool {
	if v, ok := e.Payload()[key].(bool); ok {
		return v
	}
	return false
}
