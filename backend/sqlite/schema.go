package sqlite

// Schema version for migration management
const SchemaVersion = 2

// ProgressQueueTableSQL creates the durable queue of progress events.
// Timestamps are unix nanoseconds; next_attempt_at is 0 when the event is
// immediately eligible. submitted is set once a row has been handed to the
// server and never cleared.
const ProgressQueueTableSQL = `
CREATE TABLE IF NOT EXISTS progress_queue (
    id TEXT PRIMARY KEY,
    action TEXT NOT NULL CHECK(action IN (
        'lesson_progress', 'lesson_complete', 'module_complete',
        'course_complete', 'quiz_submit', 'time_spent'
    )),
    course_id TEXT NOT NULL,
    module_id TEXT NOT NULL DEFAULT '',
    lesson_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL CHECK(status IN ('pending', 'in_flight', 'dead')),
    submitted INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    updated_at INTEGER NOT NULL
);
`

// SyncMetaTableSQL stores small key/value facts about the queue, such as the
// time of the last acknowledged delivery.
const SyncMetaTableSQL = `
CREATE TABLE IF NOT EXISTS sync_meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`

// SyncLeaseTableSQL holds the cross-process flush lease. A single row named
// 'flush' records the owning orchestrator and when its claim lapses.
const SyncLeaseTableSQL = `
CREATE TABLE IF NOT EXISTS sync_lease (
    name TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// ProgressQueueIndexesSQL creates indexes used by the scheduler and status queries
const ProgressQueueIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_progress_queue_status ON progress_queue(status);
CREATE INDEX IF NOT EXISTS idx_progress_queue_entity ON progress_queue(course_id, module_id, lesson_id);
CREATE INDEX IF NOT EXISTS idx_progress_queue_order ON progress_queue(priority DESC, created_at ASC);
`

// metaLastSaved is the sync_meta key holding the newest ack time
const metaLastSaved = "last_saved_at"

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		ProgressQueueTableSQL,
		SyncMetaTableSQL,
		SyncLeaseTableSQL,
	}
}

// upgradeSteps maps a schema version to the statements that bring a file
// from the previous version up to it
var upgradeSteps = map[int][]string{
	2: {
		`ALTER TABLE progress_queue ADD COLUMN submitted INTEGER NOT NULL DEFAULT 0`,
		`UPDATE progress_queue SET submitted = 1 WHERE attempts > 0 OR status = 'in_flight'`,
	},
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		ProgressQueueIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA busy_timeout = 5000",
	}
}
