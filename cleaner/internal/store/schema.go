package store

// Schema contains the DDL for the webcleaner tables.
const Schema = `
-- Ordered rule sets: one selector list per (origin, kind)
CREATE TABLE IF NOT EXISTS rules (
    origin     TEXT NOT NULL,
    kind       TEXT NOT NULL CHECK(kind IN ('blur', 'enlarge')),
    selector   TEXT NOT NULL,
    position   INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (origin, kind, selector)
);
CREATE INDEX IF NOT EXISTS idx_rules_order ON rules(origin, kind, position);

-- Per-origin flags
CREATE TABLE IF NOT EXISTS sites (
    origin       TEXT PRIMARY KEY,
    disabled     INTEGER NOT NULL DEFAULT 0,
    edit_mode    INTEGER NOT NULL DEFAULT 0,
    enlarge_mode INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL
);

-- Counters
CREATE TABLE IF NOT EXISTS stats (
    key   TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);
`
