package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnbalancedLegs      = errors.New("event legs do not net to zero")
)

// ChargeInput describes one charge against an owner's account. The three
// amount components are quantized and summed into the event total.
type ChargeInput struct {
	OwnerType         OwnerType
	OwnerID           string
	AgentID           string
	EventType         EventType
	UpstreamType      UpstreamType
	CreditType        CreditType
	BaseAmount        decimal.Decimal
	FeePlatformAmount decimal.Decimal
	FeeAgentAmount    decimal.Decimal
	StartMessageID    *string
}

// Service is the ledger write path. Every mutation records one event plus
// balanced transaction legs in a single database transaction.
type Service interface {
	GetOrCreateAccount(ctx context.Context, ownerType OwnerType, ownerID string) (*CreditAccount, error)
	Refill(ctx context.Context, ownerType OwnerType, ownerID string, amount decimal.Decimal, upstream UpstreamType) (*CreditEvent, error)
	Reward(ctx context.Context, ownerType OwnerType, ownerID string, amount decimal.Decimal, upstream UpstreamType) (*CreditEvent, error)
	Charge(ctx context.Context, input ChargeInput) (*CreditEvent, error)
	RefillAllFreeCredits(ctx context.Context) (int, error)
}
