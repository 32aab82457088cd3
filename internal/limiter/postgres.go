package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool the limiter needs. postgres.PgxPool
// and pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG keeps counters in the auth_limiter table so every replica sees the same
// lockouts.
type PG struct {
	q      Querier
	policy Policy
	now    func() time.Time
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, p Policy) *PG {
	return &PG{q: q, policy: p.withDefaults(), now: time.Now}
}

// Allow implements Limiter.
func (l *PG) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, q, username, ipHash).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if now := l.now(); blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (l *PG) Success(ctx context.Context, username string, ipHash []byte) error {
	const q = `DELETE FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	_, err := l.q.Exec(ctx, q, username, ipHash)
	return err
}

// failureSQL counts the failure and sets the block in one statement, so two
// concurrent failures cannot both read the pre-block count.
const failureSQL = `
INSERT INTO auth_limiter AS l (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $3::int <= 1 THEN now() + $4::interval ELSE 'epoch'::timestamptz END, now())
ON CONFLICT (username, ip_hash) DO UPDATE
SET fail_count = CASE WHEN now() - l.updated_at > $5::interval THEN 1 ELSE l.fail_count + 1 END,
    blocked_until = CASE
        WHEN (CASE WHEN now() - l.updated_at > $5::interval THEN 1 ELSE l.fail_count + 1 END) >= $3::int
        THEN now() + $4::interval
        ELSE l.blocked_until END,
    updated_at = now()
RETURNING fail_count, blocked_until`

// Failure implements Limiter.
func (l *PG) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	var fails int
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, failureSQL, username, ipHash, l.policy.MaxFails, l.policy.BlockFor, l.policy.Window).
		Scan(&fails, &blockedUntil)
	if err != nil {
		return false, 0, err
	}
	if fails >= l.policy.MaxFails {
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}
