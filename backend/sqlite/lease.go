package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// flushLease names the sync_lease row guarding queue flushes
const flushLease = "flush"

// LeaseGrant is the outcome of AcquireLease
type LeaseGrant int

const (
	// LeaseDenied means another owner holds an unexpired lease
	LeaseDenied LeaseGrant = iota
	// LeaseRenewed means the caller already held the lease
	LeaseRenewed
	// LeaseAcquired means the lease was free or expired and is now the
	// caller's. Rows a previous owner left in flight are stale.
	LeaseAcquired
)

func (g LeaseGrant) String() string {
	switch g {
	case LeaseDenied:
		return "denied"
	case LeaseRenewed:
		return "renewed"
	case LeaseAcquired:
		return "acquired"
	default:
		return "unknown"
	}
}

// Held reports whether the caller owns the lease after the call
func (g LeaseGrant) Held() bool {
	return g == LeaseRenewed || g == LeaseAcquired
}

// AcquireLease takes or renews the flush lease for owner until now+ttl. The
// check and the write run under BEGIN IMMEDIATE, so two processes sharing
// the file cannot both win.
func (s *Store) AcquireLease(ctx context.Context, owner string, ttl time.Duration, now time.Time) (LeaseGrant, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return LeaseDenied, &StoreError{Op: "AcquireLease", Err: err}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return LeaseDenied, &StoreError{Op: "AcquireLease", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var (
		current   string
		expiresAt int64
	)
	grant := LeaseAcquired
	err = conn.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM sync_lease WHERE name = ?`, flushLease,
	).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return LeaseDenied, &StoreError{Op: "AcquireLease", Err: err}
	case current == owner:
		grant = LeaseRenewed
	case expiresAt > now.UnixNano():
		return LeaseDenied, nil
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO sync_lease (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
	`, flushLease, owner, now.Add(ttl).UnixNano()); err != nil {
		return LeaseDenied, &StoreError{Op: "AcquireLease", Err: err}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return LeaseDenied, &StoreError{Op: "AcquireLease", Err: err}
	}
	committed = true
	return grant, nil
}

// ReleaseLease gives up the flush lease if owner holds it
func (s *Store) ReleaseLease(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_lease WHERE name = ? AND owner = ?`, flushLease, owner,
	); err != nil {
		return &StoreError{Op: "ReleaseLease", Err: err}
	}
	return nil
}
