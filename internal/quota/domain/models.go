// Package domain contains per-agent usage quota state. Quota counters
// share storage with the ledger but none of its invariants; resets touch a
// disjoint set of columns.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AgentQuota is one row per agent. Counters are zeroed on their cadence;
// the action-cost columns are refreshed hourly from ledger analytics.
type AgentQuota struct {
	ID                     string          `gorm:"primaryKey;type:text"`
	MessageCountDaily      int64           `gorm:"not null;default:0"`
	MessageCountMonthly    int64           `gorm:"not null;default:0"`
	AutonomousCountMonthly int64           `gorm:"not null;default:0"`
	FreeIncomeDaily        decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	AvgActionCost          decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	MinActionCost          decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	MaxActionCost          decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	LowActionCost          decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	MediumActionCost       decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	HighActionCost         decimal.Decimal `gorm:"type:numeric(22,4);not null;default:0"`
	UpdatedAt              time.Time       `gorm:"not null"`
}

func (AgentQuota) TableName() string { return "agent_quotas" }

type Service interface {
	ResetDailyQuotas(ctx context.Context) error
	ResetMonthlyQuotas(ctx context.Context) error
}
