package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsUTCAtSecondResolution(t *testing.T) {
	t.Parallel()
	now := Now()
	require.Equal(t, time.UTC, now.Location())
	require.Zero(t, now.Nanosecond())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))

	ctx := context.Background()
	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts(id, organization_id, account_number, name, type, created_at, updated_at)
		VALUES('a1', 'org1', '1000', 'Cash', 'ASSET', ?, ?)`, Now(), Now())
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count))
	require.Zero(t, count)
}
