package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progress_ledger",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_level_settings",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_cosmetics",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
		{
			Version: 4,
			Name:    "scope_ledger_keys_per_student",
			UpSQL:   migration004Up,
			DownSQL: migration004Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROGRESS & LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS student_progress (
    student_id TEXT PRIMARY KEY,
    lifetime_points DOUBLE PRECISION NOT NULL DEFAULT 0,
    points_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_lifetime CHECK (lifetime_points >= 0)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES student_progress(student_id) ON DELETE CASCADE,
    delta DOUBLE PRECISION NOT NULL,
    reason VARCHAR(30) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_reason CHECK (reason IN ('rule_keeper', 'rule_breaker', 'daily_bonus', 'unlock_purchase', 'adjustment'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_ledger_student_created ON ledger_entries(student_id, created_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS ledger_entries;
DROP TABLE IF EXISTS student_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEVEL SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Single row, id is always 1.
CREATE TABLE IF NOT EXISTS level_settings (
    id SMALLINT PRIMARY KEY DEFAULT 1,
    base_jump DOUBLE PRECISION NOT NULL,
    difficulty_pct DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT single_row CHECK (id = 1)
);
`

const migration002Down = `
DROP TABLE IF EXISTS level_settings;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: COSMETICS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS cosmetic_items (
    category VARCHAR(20) NOT NULL,
    key TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    unlock_level INTEGER NOT NULL DEFAULT 1,
    unlock_points DOUBLE PRECISION NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    sort_order INTEGER NOT NULL DEFAULT 0,
    -- image_url, style and aura, depending on the category
    attrs JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (category, key),
    CONSTRAINT valid_category CHECK (category IN ('avatar', 'effect', 'corner_border', 'card_plate')),
    CONSTRAINT valid_unlock_level CHECK (unlock_level >= 1),
    CONSTRAINT valid_unlock_points CHECK (unlock_points >= 0)
);

-- Append-only proof of purchase.
CREATE TABLE IF NOT EXISTS unlock_records (
    student_id TEXT NOT NULL REFERENCES student_progress(student_id) ON DELETE CASCADE,
    item_type VARCHAR(20) NOT NULL,
    item_key TEXT NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, item_type, item_key)
);

CREATE TABLE IF NOT EXISTS avatar_settings (
    student_id TEXT PRIMARY KEY,
    avatar_id TEXT NOT NULL DEFAULT 'none',
    particle_style TEXT NOT NULL DEFAULT 'none',
    corner_border_key TEXT NOT NULL DEFAULT 'none',
    card_plate_key TEXT NOT NULL DEFAULT 'none',
    avatar_set_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    avatar_daily_granted_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_avatar_settings_avatar ON avatar_settings(avatar_id) WHERE avatar_id <> 'none';
CREATE INDEX IF NOT EXISTS idx_avatar_settings_effect ON avatar_settings(particle_style) WHERE particle_style <> 'none';
CREATE INDEX IF NOT EXISTS idx_avatar_settings_border ON avatar_settings(corner_border_key) WHERE corner_border_key <> 'none';
CREATE INDEX IF NOT EXISTS idx_avatar_settings_plate ON avatar_settings(card_plate_key) WHERE card_plate_key <> 'none';
`

const migration003Down = `
DROP TABLE IF EXISTS avatar_settings;
DROP TABLE IF EXISTS unlock_records;
DROP TABLE IF EXISTS cosmetic_items;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: PER-STUDENT IDEMPOTENCY KEYS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
DROP INDEX IF EXISTS idx_ledger_idempotency;
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_student_idempotency
    ON ledger_entries(student_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
`

const migration004Down = `
DROP INDEX IF EXISTS idx_ledger_student_idempotency;
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;
`
