package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gosyncprogress/internal/progress"
)

// ErrNotFound is returned when an event id is not in the queue
var ErrNotFound = errors.New("event not found")

// StoreError represents an error from a queue store operation
type StoreError struct {
	Op      string
	EventID string
	Err     error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("queue store %s (event: %s): %v", e.Op, e.EventID, e.Err)
	}
	return fmt.Sprintf("queue store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Patch lists the fields Update may change. Nil fields are left untouched.
type Patch struct {
	Status        *progress.Status
	Attempts      *int
	NextAttemptAt *time.Time
	LastError     *string
	Payload       *progress.Payload
}

// Counts summarizes the queue by status
type Counts struct {
	Pending  int
	InFlight int
	Dead     int
}

// Total is the number of events not yet acknowledged
func (c Counts) Total() int {
	return c.Pending + c.InFlight + c.Dead
}

// Store is the durable queue of progress events. Acked events are removed;
// pending, in-flight and dead events stay on disk until acked or cleared.
type Store struct {
	db  *Database
	now func() time.Time

	mu        sync.RWMutex
	listeners map[int]func()
	nextID    int
}

// Open opens the queue database at path (see DatabasePath for defaults)
func Open(path string) (*Store, error) {
	db, err := InitDatabase(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an initialized database
func NewStore(db *Database) *Store {
	return &Store{
		db:        db,
		now:       time.Now,
		listeners: make(map[int]func()),
	}
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.db.Path()
}

// OnChange registers fn to run after every successful mutation. The returned
// function removes the registration.
func (s *Store) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

const selectColumns = `
	SELECT id, action, course_id, module_id, lesson_id, payload, created_at,
	       attempts, priority, status, submitted, next_attempt_at, last_error, updated_at
	FROM progress_queue`

// Enqueue appends an event. It never looks at network state.
func (s *Store) Enqueue(ctx context.Context, e progress.Event) error {
	if e.Status == "" {
		e.Status = progress.StatusPending
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}
	if err := insertEvent(ctx, s.db, e); err != nil {
		return &StoreError{Op: "Enqueue", EventID: e.ID, Err: err}
	}
	s.notify()
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, e progress.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	status := e.Status
	if status == progress.StatusRequeued {
		status = progress.StatusPending
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO progress_queue (
			id, action, course_id, module_id, lesson_id, payload, created_at,
			attempts, priority, status, submitted, next_attempt_at, last_error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Action),
		e.EntityKey.CourseID,
		e.EntityKey.ModuleID,
		e.EntityKey.LessonID,
		string(payload),
		e.CreatedAt.UnixNano(),
		e.Attempts,
		int(e.Priority),
		string(status),
		e.Submitted,
		unixNanoOrZero(e.NextAttemptAt),
		nullString(e.LastError),
		e.UpdatedAt.UnixNano(),
	)
	return err
}

// Get returns a single event by id
func (s *Store) Get(ctx context.Context, id string) (progress.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return progress.Event{}, &StoreError{Op: "Get", EventID: id, Err: err}
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return progress.Event{}, &StoreError{Op: "Get", EventID: id, Err: err}
	}
	if len(events) == 0 {
		return progress.Event{}, &StoreError{Op: "Get", EventID: id, Err: ErrNotFound}
	}
	return events[0], nil
}

// ListPending returns pending events ordered by priority then age
func (s *Store) ListPending(ctx context.Context) ([]progress.Event, error) {
	return s.listWhere(ctx, "ListPending", progress.StatusPending)
}

// ListByStatus returns events in any of the given statuses
func (s *Store) ListByStatus(ctx context.Context, statuses ...progress.Status) ([]progress.Event, error) {
	return s.listWhere(ctx, "ListByStatus", statuses...)
}

// ListAll returns every queued event, including dead letters
func (s *Store) ListAll(ctx context.Context) ([]progress.Event, error) {
	return s.listWhere(ctx, "ListAll")
}

func (s *Store) listWhere(ctx context.Context, op string, statuses ...progress.Status) ([]progress.Event, error) {
	query := selectColumns
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	return events, nil
}

// Update applies patch to the event with the given id
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UnixNano()}

	if patch.Status != nil {
		status := *patch.Status
		if status == progress.StatusRequeued {
			status = progress.StatusPending
		}
		if status == progress.StatusAcked {
			return &StoreError{Op: "Update", EventID: id, Err: errors.New("acked events are removed, not updated")}
		}
		sets = append(sets, "status = ?")
		args = append(args, string(status))
	}
	if patch.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *patch.Attempts)
	}
	if patch.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, unixNanoOrZero(*patch.NextAttemptAt))
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullString(*patch.LastError))
	}
	if patch.Payload != nil {
		payload, err := json.Marshal(*patch.Payload)
		if err != nil {
			return &StoreError{Op: "Update", EventID: id, Err: err}
		}
		sets = append(sets, "payload = ?")
		args = append(args, string(payload))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE progress_queue SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return &StoreError{Op: "Update", EventID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StoreError{Op: "Update", EventID: id, Err: ErrNotFound}
	}
	s.notify()
	return nil
}

// Remove deletes an event. An unknown id yields ErrNotFound.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM progress_queue WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "Remove", EventID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StoreError{Op: "Remove", EventID: id, Err: ErrNotFound}
	}
	s.notify()
	return nil
}

// Clear deletes every queued event, dead letters included
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM progress_queue`); err != nil {
		return &StoreError{Op: "Clear", Err: err}
	}
	s.notify()
	return nil
}

// Compact reclaims file space left behind by deleted rows
func (s *Store) Compact() error {
	if err := s.db.Vacuum(); err != nil {
		return &StoreError{Op: "Compact", Err: err}
	}
	return nil
}

// ReplaceMerged atomically swaps the coalesced source rows for the merged
// event, stored as in-flight and marked submitted. When merged.ID is one of
// the sources the row is rewritten in place.
func (s *Store) ReplaceMerged(ctx context.Context, merged progress.Event, sourceIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "ReplaceMerged", EventID: merged.ID, Err: err}
	}
	defer tx.Rollback()

	for _, id := range sourceIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress_queue WHERE id = ?`, id); err != nil {
			return &StoreError{Op: "ReplaceMerged", EventID: id, Err: err}
		}
	}

	merged.Status = progress.StatusInFlight
	merged.Submitted = true
	merged.UpdatedAt = s.now()
	if err := insertEvent(ctx, tx, merged); err != nil {
		return &StoreError{Op: "ReplaceMerged", EventID: merged.ID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "ReplaceMerged", EventID: merged.ID, Err: err}
	}
	s.notify()
	return nil
}

// ResetInFlight returns in-flight events to pending. It is called by whoever
// takes over the flush lease: an in-flight row found then belongs to a cycle
// that never finished.
func (s *Store) ResetInFlight(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE progress_queue SET status = 'pending', updated_at = ?
		WHERE status = 'in_flight'
	`, s.now().UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "ResetInFlight", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return int(n), nil
}

// ReviveDead moves dead letters back to pending with a fresh attempt budget
func (s *Store) ReviveDead(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE progress_queue
		SET status = 'pending', attempts = 0, next_attempt_at = 0, last_error = NULL, updated_at = ?
		WHERE status = 'dead'
	`, s.now().UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "ReviveDead", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return int(n), nil
}

// ResetBackoff makes every pending event eligible immediately
func (s *Store) ResetBackoff(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE progress_queue SET next_attempt_at = 0, updated_at = ?
		WHERE status = 'pending' AND next_attempt_at > 0
	`, s.now().UnixNano())
	if err != nil {
		return 0, &StoreError{Op: "ResetBackoff", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return int(n), nil
}

// ClearDead deletes dead letters only
func (s *Store) ClearDead(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM progress_queue WHERE status = 'dead'`)
	if err != nil {
		return 0, &StoreError{Op: "ClearDead", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return int(n), nil
}

// EvictLowPriority deletes the oldest low-priority pending events beyond
// limit and returns their ids. Higher priorities are never evicted.
func (s *Store) EvictLowPriority(ctx context.Context, limit int) ([]string, error) {
	if limit < 0 {
		limit = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "EvictLowPriority", Err: err}
	}
	defer tx.Rollback()

	// Newest `limit` rows survive; everything older goes.
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM progress_queue
		WHERE status = 'pending' AND priority = ?
		ORDER BY created_at DESC
		LIMIT -1 OFFSET ?
	`, int(progress.PriorityLow), limit)
	if err != nil {
		return nil, &StoreError{Op: "EvictLowPriority", Err: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &StoreError{Op: "EvictLowPriority", Err: err}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "EvictLowPriority", Err: err}
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress_queue WHERE id = ?`, id); err != nil {
			return nil, &StoreError{Op: "EvictLowPriority", EventID: id, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Op: "EvictLowPriority", Err: err}
	}
	if len(ids) > 0 {
		s.notify()
	}
	return ids, nil
}

// Counts returns the number of events per status
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM progress_queue GROUP BY status`)
	if err != nil {
		return Counts{}, &StoreError{Op: "Counts", Err: err}
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, &StoreError{Op: "Counts", Err: err}
		}
		switch progress.Status(status) {
		case progress.StatusPending:
			c.Pending = n
		case progress.StatusInFlight:
			c.InFlight = n
		case progress.StatusDead:
			c.Dead = n
		}
	}
	return c, rows.Err()
}

// Ack removes acknowledged events and advances the last-saved timestamp
func (s *Store) Ack(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "Ack", Err: err}
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress_queue WHERE id = ?`, id); err != nil {
			return &StoreError{Op: "Ack", EventID: id, Err: err}
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = MAX(value, excluded.value)
	`, metaLastSaved, at.UnixNano())
	if err != nil {
		return &StoreError{Op: "Ack", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "Ack", Err: err}
	}
	s.notify()
	return nil
}

// LastSaved returns the newest ack time, or the zero time if nothing was
// ever acknowledged
func (s *Store) LastSaved(ctx context.Context) (time.Time, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, metaLastSaved).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &StoreError{Op: "LastSaved", Err: err}
	}
	return time.Unix(0, v), nil
}

func scanEvents(rows *sql.Rows) ([]progress.Event, error) {
	var events []progress.Event
	for rows.Next() {
		var (
			e                            progress.Event
			action, status, payload      string
			createdAt, nextAt, updatedAt int64
			priority                     int
			lastError                    sql.NullString
		)
		err := rows.Scan(
			&e.ID,
			&action,
			&e.EntityKey.CourseID,
			&e.EntityKey.ModuleID,
			&e.EntityKey.LessonID,
			&payload,
			&createdAt,
			&e.Attempts,
			&priority,
			&status,
			&e.Submitted,
			&nextAt,
			&lastError,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", e.ID, err)
		}

		e.Action = progress.Action(action)
		e.Status = progress.Status(status)
		e.Priority = progress.Priority(priority)
		e.CreatedAt = time.Unix(0, createdAt)
		e.UpdatedAt = time.Unix(0, updatedAt)
		if nextAt > 0 {
			e.NextAttemptAt = time.Unix(0, nextAt)
		}
		if lastError.Valid {
			e.LastError = lastError.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullString converts string to sql.NullString
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
