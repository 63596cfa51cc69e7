package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&quotadomain.AgentQuota{}))
	return db
}

func seedQuota(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	require.NoError(t, db.Create(&quotadomain.AgentQuota{
		ID:                     id,
		MessageCountDaily:      5,
		MessageCountMonthly:    40,
		AutonomousCountMonthly: 12,
		FreeIncomeDaily:        decimal.NewFromInt(3),
		AvgActionCost:          decimal.NewFromInt(2),
		UpdatedAt:              time.Now().UTC(),
	}).Error)
}

func TestResetDailyQuotas(t *testing.T) {
	db := openDB(t)
	seedQuota(t, db, "agent-1")
	seedQuota(t, db, "agent-2")

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop()})
	require.NoError(t, svc.ResetDailyQuotas(context.Background()))

	var quotas []quotadomain.AgentQuota
	require.NoError(t, db.Find(&quotas).Error)
	require.Len(t, quotas, 2)
	for _, q := range quotas {
		require.Zero(t, q.MessageCountDaily)
		require.True(t, q.FreeIncomeDaily.IsZero())
		// Monthly counters and analytics are untouched.
		require.EqualValues(t, 40, q.MessageCountMonthly)
		require.EqualValues(t, 12, q.AutonomousCountMonthly)
		require.True(t, q.AvgActionCost.Equal(decimal.NewFromInt(2)))
	}
}

func TestResetMonthlyQuotas(t *testing.T) {
	db := openDB(t)
	seedQuota(t, db, "agent-1")

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop()})
	require.NoError(t, svc.ResetMonthlyQuotas(context.Background()))

	var q quotadomain.AgentQuota
	require.NoError(t, db.First(&q, "id = ?", "agent-1").Error)
	require.Zero(t, q.MessageCountMonthly)
	require.Zero(t, q.AutonomousCountMonthly)
	require.EqualValues(t, 5, q.MessageCountDaily)
	require.True(t, q.FreeIncomeDaily.Equal(decimal.NewFromInt(3)))
}

func TestResetOnEmptyTable(t *testing.T) {
	db := openDB(t)
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop()})
	require.NoError(t, svc.ResetDailyQuotas(context.Background()))
	require.NoError(t, svc.ResetMonthlyQuotas(context.Background()))
}
