// Package domain contains the persisted credit ledger entities.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreditType identifies which balance bucket an event or transaction affects.
type CreditType string

const (
	CreditTypeFree      CreditType = "free_credits"
	CreditTypeReward    CreditType = "reward_credits"
	CreditTypePermanent CreditType = "credits"
)

// OwnerType identifies the kind of entity an account belongs to.
type OwnerType string

const (
	OwnerTypeUser     OwnerType = "user"
	OwnerTypeAgent    OwnerType = "agent"
	OwnerTypePlatform OwnerType = "platform"
)

// EventType classifies a logical balance-changing occurrence.
type EventType string

const (
	EventTypeMessage   EventType = "message"
	EventTypeSkillCall EventType = "skill_call"
	EventTypeRefill    EventType = "refill"
	EventTypeReward    EventType = "reward"
)

// UpstreamType records who originated an event.
type UpstreamType string

const (
	UpstreamTypeExecutor  UpstreamType = "executor"
	UpstreamTypeAPI       UpstreamType = "api"
	UpstreamTypeScheduler UpstreamType = "scheduler"
)

// TxType classifies a single ledger entry within an event.
type TxType string

const (
	TxTypePay                TxType = "pay"
	TxTypeReceiveBase        TxType = "receive_base"
	TxTypeReceiveFeePlatform TxType = "receive_fee_platform"
	TxTypeReceiveFeeAgent    TxType = "receive_fee_agent"
	TxTypeRefill             TxType = "refill"
	TxTypeReward             TxType = "reward"
)

// CreditDebit carries the sign of a transaction; ChangeAmount is always a
// non-negative magnitude.
type CreditDebit string

const (
	CreditDebitCredit CreditDebit = "credit"
	CreditDebitDebit  CreditDebit = "debit"
)

// Well-known platform ledger accounts. They hold the counterparty side of
// every grant and charge so the whole ledger sums to zero.
const (
	PlatformOwnerRefill  = "refill_pool"
	PlatformOwnerReward  = "reward_pool"
	PlatformOwnerRevenue = "revenue"
	PlatformOwnerFees    = "fees"
)

// CreditAccount is one row per (owner_type, owner_id) pair. The three
// balance buckets are tracked independently; their sum must equal the
// signed sum of the account's transactions with created_at <= updated_at.
type CreditAccount struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	OwnerType     OwnerType       `gorm:"type:text;not null;uniqueIndex:ux_credit_accounts_owner,priority:1"`
	OwnerID       string          `gorm:"type:text;not null;uniqueIndex:ux_credit_accounts_owner,priority:2"`
	FreeCredits   decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	RewardCredits decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	Credits       decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null;index"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

// TotalBalance returns the sum of the three buckets, quantized.
func (a *CreditAccount) TotalBalance() decimal.Decimal {
	return Quantize(a.FreeCredits.Add(a.RewardCredits).Add(a.Credits))
}

// Bucket returns the balance for the given credit type.
func (a *CreditAccount) Bucket(ct CreditType) decimal.Decimal {
	switch ct {
	case CreditTypeFree:
		return a.FreeCredits
	case CreditTypeReward:
		return a.RewardCredits
	default:
		return a.Credits
	}
}

// SetBucket overwrites the balance for the given credit type.
func (a *CreditAccount) SetBucket(ct CreditType, v decimal.Decimal) {
	switch ct {
	case CreditTypeFree:
		a.FreeCredits = v
	case CreditTypeReward:
		a.RewardCredits = v
	default:
		a.Credits = v
	}
}

// CreditEvent is one row per logical balance-changing occurrence. It is
// created atomically with its transactions and immutable afterwards; the
// precision repair tool is the only permitted exception.
type CreditEvent struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	EventType         EventType       `gorm:"type:text;not null;index"`
	UpstreamType      UpstreamType    `gorm:"type:text;not null"`
	AccountID         snowflake.ID    `gorm:"not null;index"`
	AgentID           string          `gorm:"type:text;index:ix_credit_events_agent_created,priority:1"`
	CreditType        CreditType      `gorm:"type:text;not null"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	BalanceAfter      decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	BaseAmount        decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	FeePlatformAmount decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	FeeAgentAmount    decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	StartMessageID    *string         `gorm:"type:text;index"`
	CreatedAt         time.Time       `gorm:"not null;index:ix_credit_events_agent_created,priority:2"`
}

func (CreditEvent) TableName() string { return "credit_events" }

// CorrectTotal recomputes the event total from its components.
func (e *CreditEvent) CorrectTotal() decimal.Decimal {
	return Quantize(e.BaseAmount.Add(e.FeePlatformAmount).Add(e.FeeAgentAmount))
}

// CreditTransaction is one signed ledger entry. It belongs to exactly one
// event and references one account.
type CreditTransaction struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	AccountID    snowflake.ID    `gorm:"not null;index"`
	EventID      snowflake.ID    `gorm:"not null;index"`
	TxType       TxType          `gorm:"type:text;not null"`
	CreditDebit  CreditDebit     `gorm:"type:text;not null"`
	CreditType   CreditType      `gorm:"type:text;not null"`
	ChangeAmount decimal.Decimal `gorm:"type:numeric(22,4);not null"`
	CreatedAt    time.Time       `gorm:"not null;index"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// Signed returns the transaction amount with its credit/debit sign applied.
func (t *CreditTransaction) Signed() decimal.Decimal {
	if t.CreditDebit == CreditDebitDebit {
		return t.ChangeAmount.Neg()
	}
	return t.ChangeAmount
}
