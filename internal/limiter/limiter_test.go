package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var pol = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func newPG(t *testing.T) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewPG(mock, pol), mock
}

func TestPG_Allow(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).WithArgs("u", ip).
		WillReturnError(pgx.ErrNoRows)
	ok, d, err := l.Allow(ctx, "u", ip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, d)

	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).WithArgs("u", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(time.Minute)))
	ok, d, err = l.Allow(ctx, "u", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, d)

	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).WithArgs("u", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Unix(0, 0)))
	ok, _, err = l.Allow(ctx, "u", ip)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).WithArgs("u", ip).
		WillReturnError(errors.New("db down"))
	ok, _, err = l.Allow(ctx, "u", ip)
	require.Error(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FailureAndSuccess(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	ctx := context.Background()
	ip := HashIP("10.0.0.1")
	cols := []string{"fail_count", "blocked_until"}

	mock.ExpectQuery(`INSERT INTO auth_limiter AS l`).
		WithArgs("u", ip, pol.MaxFails, pol.BlockFor, pol.Window).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(2, time.Unix(0, 0)))
	blocked, _, err := l.Failure(ctx, "u", ip)
	require.NoError(t, err)
	require.False(t, blocked)

	mock.ExpectQuery(`INSERT INTO auth_limiter AS l`).
		WithArgs("u", ip, pol.MaxFails, pol.BlockFor, pol.Window).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(3, time.Now().Add(pol.BlockFor)))
	blocked, d, err := l.Failure(ctx, "u", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, pol.BlockFor, d)

	mock.ExpectQuery(`INSERT INTO auth_limiter AS l`).
		WithArgs("u", ip, pol.MaxFails, pol.BlockFor, pol.Window).
		WillReturnError(errors.New("boom"))
	_, _, err = l.Failure(ctx, "u", ip)
	require.Error(t, err)

	mock.ExpectExec(`DELETE FROM auth_limiter WHERE username=\$1 AND ip_hash=\$2`).WithArgs("u", ip).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, l.Success(ctx, "u", ip))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_BlocksAfterMaxFailsAndExpires(t *testing.T) {
	m := NewMemory(pol)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.2")

	for i := 1; i < pol.MaxFails; i++ {
		blocked, _, err := m.Failure(ctx, "u", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, d, _ := m.Failure(ctx, "u", ip)
	require.True(t, blocked)
	require.Equal(t, pol.BlockFor, d)

	ok, _, _ := m.Allow(ctx, "u", ip)
	require.False(t, ok)
	ok, _, _ = m.Allow(ctx, "u", HashIP("10.0.0.3"))
	require.True(t, ok, "other address unaffected")

	now = now.Add(pol.BlockFor + time.Second)
	ok, _, _ = m.Allow(ctx, "u", ip)
	require.True(t, ok)
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	m := NewMemory(pol)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.2")

	_, _, _ = m.Failure(ctx, "u", ip)
	_, _, _ = m.Failure(ctx, "u", ip)
	now = now.Add(pol.Window + time.Second)
	blocked, _, _ := m.Failure(ctx, "u", ip)
	require.False(t, blocked, "old failures fall out of the window")

	_, _, _ = m.Failure(ctx, "u", ip)
	require.NoError(t, m.Success(ctx, "u", ip))
	blocked, _, _ = m.Failure(ctx, "u", ip)
	require.False(t, blocked)
}

func TestHashIP(t *testing.T) {
	require.Equal(t, HashIP("1.2.3.4"), HashIP("1.2.3.4"))
	require.NotEqual(t, HashIP("1.2.3.4"), HashIP("5.6.7.8"))
	require.Len(t, HashIP("x"), 32)
	require.Equal(t, Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}, Policy{}.withDefaults())
}
