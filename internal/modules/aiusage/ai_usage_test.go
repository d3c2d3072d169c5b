// README: AI-usage tests (monthly reset and allowance boundary).
package aiusage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roam/internal/infra"
)

func TestPeriod(t *testing.T) {
	assert.Equal(t, "2026-10", Period(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)))
	// Periods are UTC so every replica agrees on the boundary.
	phoenix := time.FixedZone("MST", -7*3600)
	assert.Equal(t, "2026-11", Period(time.Date(2026, 10, 31, 20, 0, 0, 0, phoenix)))
}

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	svc := NewService(b, 2, func() time.Time { return now })

	left, err := svc.Remaining(ctx, "uid_new")
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	require.NoError(t, svc.UseTurn(ctx, "uid_new"))
	require.NoError(t, svc.UseTurn(ctx, "uid_new"))
	assert.ErrorIs(t, svc.UseTurn(ctx, "uid_new"), ErrExhausted)

	left, err = svc.Remaining(ctx, "uid_new")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	// Other callers are unaffected.
	require.NoError(t, svc.UseTurn(ctx, "uid_other"))

	// A new month resets the allowance.
	now = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	left, err = svc.Remaining(ctx, "uid_new")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
	require.NoError(t, svc.UseTurn(ctx, "uid_new"))
	left, err = svc.Remaining(ctx, "uid_new")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestMemoryStore(t *testing.T) {
	exerciseBackend(t, NewMemoryStore())
}

func TestDefaultAllowance(t *testing.T) {
	svc := NewService(NewMemoryStore(), 0, nil)
	left, err := svc.Remaining(context.Background(), "anyone")
	require.NoError(t, err)
	assert.Equal(t, DefaultAllowance, left)
}

func TestStore(t *testing.T) {
	dsn := os.Getenv("ROAM_TEST_DSN")
	if dsn == "" {
		t.Skip("ROAM_TEST_DSN not set; skipping DB-backed usage tests")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, infra.Migrate(ctx, db))
	_, err = db.Exec(ctx, "TRUNCATE TABLE ai_usage")
	require.NoError(t, err)
	exerciseBackend(t, NewStore(db))
}
