package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRunCreatesSchema(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(db, zap.NewNop()))

	for _, table := range []string{"credit_accounts", "credit_events", "credit_transactions", "agent_quotas"} {
		require.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	// Re-running against an up-to-date schema is a no-op.
	require.NoError(t, Run(db, zap.NewNop()))
}
