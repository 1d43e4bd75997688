package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/sqlpred"
	"github.com/cyp0633/librecur/storage/storetest"
)

// LIBRECUR_TEST_PG_DSN points at a scratch database. The tests truncate the
// record table.
const dsnEnv = "LIBRECUR_TEST_PG_DSN"

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))

	storetest.Run(t, func(t *testing.T) storage.Store[storetest.Item] {
		_, err := pool.Exec(ctx, "TRUNCATE "+sqlpred.Table)
		require.NoError(t, err)
		return New(pool, storetest.Fields, zaptest.NewLogger(t))
	})
}
