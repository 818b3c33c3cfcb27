package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		err          error
		maxAttempts  int
		wantAttempts int
		wantErr      bool
	}{
		{name: "retries busy until success", failures: 2, err: errors.New("database is locked"), maxAttempts: 3, wantAttempts: 3},
		{name: "stops on non-busy", failures: 5, err: errors.New("boom"), maxAttempts: 3, wantAttempts: 1, wantErr: true},
		{name: "stops after max attempts", failures: 5, err: errors.New("SQLITE_BUSY"), maxAttempts: 2, wantAttempts: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := withRetry(context.Background(), tt.maxAttempts, time.Millisecond, func() error {
				attempts++
				if attempts <= tt.failures {
					return tt.err
				}
				return nil
			})
			require.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestWithRetry_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := withRetry(ctx, 3, time.Millisecond, func() error {
		attempts++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, attempts)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (id, display_name) VALUES (1, 'alice')`); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	_, err = NewUserRepository(db).Get(ctx, 1)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/opsdesk.db"
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewUserRepository(first).Upsert(context.Background(), userRef(1, "alice")))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	var versions int
	require.NoError(t, second.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	require.Equal(t, len(migrations), versions)

	user, err := NewUserRepository(second).Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "alice", user.DisplayName)

	var fk int
	require.NoError(t, second.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	require.Equal(t, 1, fk)
}
