package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIsIdempotent(t *testing.T) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	runner := NewRunner()
	require.NoError(t, runner.Run(context.Background(), db))
	require.NoError(t, runner.Run(context.Background(), db))

	var columns []string
	require.NoError(t, db.Select(&columns, "SELECT name FROM pragma_table_info('did_runs') ORDER BY cid"))
	assert.Equal(t, []string{
		"id", "fingerprint", "input_name", "outcome", "n_observations",
		"estimate", "p_value", "balanced", "n_failures", "report", "artifacts", "created_at",
	}, columns)
	assert.Equal(t, "1.0.0", runner.Version())
}
