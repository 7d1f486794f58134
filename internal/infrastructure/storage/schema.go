package storage

// Each monthly partition carries its own schema plus a version marker that
// guards one-time upgrades. The items table is keyed by the dedup identity
// (platform_id, normalized_title); re-observation updates the row.

const schemaVersion = 1

const newsSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crawls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	crawl_date TEXT NOT NULL,
	crawl_time TEXT NOT NULL,
	UNIQUE (crawl_date, crawl_time)
);

CREATE TABLE IF NOT EXISTS platforms (
	platform_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS items (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	platform_id       TEXT NOT NULL,
	normalized_title  TEXT NOT NULL,
	title             TEXT NOT NULL,
	url               TEXT NOT NULL DEFAULT '',
	mobile_url        TEXT NOT NULL DEFAULT '',
	current_rank      INTEGER NOT NULL DEFAULT 0,
	rank_history      TEXT NOT NULL DEFAULT '[]',
	first_seen_date   TEXT NOT NULL,
	first_seen_time   TEXT NOT NULL,
	last_seen_date    TEXT NOT NULL,
	last_seen_time    TEXT NOT NULL,
	observation_count INTEGER NOT NULL DEFAULT 1,
	importance        TEXT NOT NULL DEFAULT '',
	UNIQUE (platform_id, normalized_title)
);

CREATE INDEX IF NOT EXISTS idx_items_seen ON items (first_seen_date, last_seen_date);

CREATE TABLE IF NOT EXISTS failed_platforms (
	crawl_id    INTEGER NOT NULL REFERENCES crawls (id) ON DELETE CASCADE,
	platform_id TEXT NOT NULL,
	UNIQUE (crawl_id, platform_id)
);

CREATE TABLE IF NOT EXISTS push_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	report_type TEXT NOT NULL,
	pushed_date TEXT NOT NULL,
	pushed_at   TEXT NOT NULL
);
`

const feedSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fetch_date TEXT NOT NULL,
	fetch_time TEXT NOT NULL,
	UNIQUE (fetch_date, fetch_time)
);

CREATE TABLE IF NOT EXISTS feeds (
	feed_id TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id         TEXT NOT NULL,
	entry_key       TEXT NOT NULL,
	title           TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	published       TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	first_seen_date TEXT NOT NULL,
	first_seen_time TEXT NOT NULL,
	last_seen_date  TEXT NOT NULL,
	last_seen_time  TEXT NOT NULL,
	UNIQUE (feed_id, entry_key)
);
`
