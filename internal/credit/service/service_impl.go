package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	"github.com/creditlabs/creditd/pkg/db/batch"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type service struct {
	db    *gorm.DB
	node  *snowflake.Node
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
}

func NewService(p ServiceParam) creditdomain.Service {
	return &service{
		db:    p.DB,
		node:  p.Node,
		log:   p.Log.Named("credit.service"),
		clock: p.Clock,
		cfg:   p.Config,
	}
}

func (s *service) GetOrCreateAccount(ctx context.Context, ownerType creditdomain.OwnerType, ownerID string) (*creditdomain.CreditAccount, error) {
	return s.getOrCreateAccountTx(ctx, s.db, ownerType, ownerID)
}

func (s *service) getOrCreateAccountTx(ctx context.Context, tx *gorm.DB, ownerType creditdomain.OwnerType, ownerID string) (*creditdomain.CreditAccount, error) {
	var account creditdomain.CreditAccount
	err := tx.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock.Now(ctx)
	account = creditdomain.CreditAccount{
		ID:            s.node.Generate(),
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		FreeCredits:   decimal.Zero,
		RewardCredits: decimal.Zero,
		Credits:       decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("create account %s:%s: %w", ownerType, ownerID, err)
	}
	return &account, nil
}

// leg is one side of a double entry: one transaction row plus the matching
// bucket adjustment on its account.
type leg struct {
	ownerType   creditdomain.OwnerType
	ownerID     string
	txType      creditdomain.TxType
	creditDebit creditdomain.CreditDebit
	creditType  creditdomain.CreditType
	amount      decimal.Decimal
}

// post writes the event and its legs atomically. Legs must net to zero;
// that is what keeps the ledger closed. Returns the owner's balance in the
// event's bucket after posting.
func (s *service) post(ctx context.Context, event *creditdomain.CreditEvent, legs []leg) (decimal.Decimal, error) {
	net := decimal.Zero
	for _, l := range legs {
		net = net.Add(signed(l.creditDebit, l.amount))
	}
	if !net.IsZero() {
		return decimal.Zero, fmt.Errorf("post event %s: %w (net %s)", event.ID, creditdomain.ErrUnbalancedLegs, net)
	}

	var balanceAfter decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := event.CreatedAt

		for i, l := range legs {
			account, err := s.getOrCreateAccountTx(ctx, tx, l.ownerType, l.ownerID)
			if err != nil {
				return err
			}

			next := creditdomain.Quantize(account.Bucket(l.creditType).Add(signed(l.creditDebit, l.amount)))
			account.SetBucket(l.creditType, next)
			account.UpdatedAt = now
			if err := tx.WithContext(ctx).
				Model(&creditdomain.CreditAccount{}).
				Where("id = ?", account.ID).
				Updates(map[string]any{
					"free_credits":   account.FreeCredits,
					"reward_credits": account.RewardCredits,
					"credits":        account.Credits,
					"updated_at":     now,
				}).Error; err != nil {
				return fmt.Errorf("update account %s: %w", account.ID, err)
			}

			// The first leg is the event owner's.
			if i == 0 {
				event.AccountID = account.ID
				balanceAfter = next
			}

			txn := creditdomain.CreditTransaction{
				ID:           s.node.Generate(),
				AccountID:    account.ID,
				EventID:      event.ID,
				TxType:       l.txType,
				CreditDebit:  l.creditDebit,
				CreditType:   l.creditType,
				ChangeAmount: l.amount,
				CreatedAt:    now,
			}
			if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
				return fmt.Errorf("create transaction: %w", err)
			}
		}

		event.BalanceAfter = balanceAfter
		if err := tx.WithContext(ctx).Create(event).Error; err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balanceAfter, nil
}

func (s *service) Refill(ctx context.Context, ownerType creditdomain.OwnerType, ownerID string, amount decimal.Decimal, upstream creditdomain.UpstreamType) (*creditdomain.CreditEvent, error) {
	return s.grant(ctx, ownerType, ownerID, amount, upstream,
		creditdomain.EventTypeRefill, creditdomain.TxTypeRefill,
		creditdomain.CreditTypeFree, creditdomain.PlatformOwnerRefill)
}

func (s *service) Reward(ctx context.Context, ownerType creditdomain.OwnerType, ownerID string, amount decimal.Decimal, upstream creditdomain.UpstreamType) (*creditdomain.CreditEvent, error) {
	return s.grant(ctx, ownerType, ownerID, amount, upstream,
		creditdomain.EventTypeReward, creditdomain.TxTypeReward,
		creditdomain.CreditTypeReward, creditdomain.PlatformOwnerReward)
}

func (s *service) grant(
	ctx context.Context,
	ownerType creditdomain.OwnerType,
	ownerID string,
	amount decimal.Decimal,
	upstream creditdomain.UpstreamType,
	eventType creditdomain.EventType,
	txType creditdomain.TxType,
	creditType creditdomain.CreditType,
	poolOwner string,
) (*creditdomain.CreditEvent, error) {
	amount = creditdomain.Quantize(amount)
	if !amount.IsPositive() {
		return nil, creditdomain.ErrNonPositiveAmount
	}

	event := &creditdomain.CreditEvent{
		ID:                s.node.Generate(),
		EventType:         eventType,
		UpstreamType:      upstream,
		CreditType:        creditType,
		TotalAmount:       amount,
		BaseAmount:        amount,
		FeePlatformAmount: decimal.Zero,
		FeeAgentAmount:    decimal.Zero,
		CreatedAt:         s.clock.Now(ctx),
	}

	legs := []leg{
		{ownerType, ownerID, txType, creditdomain.CreditDebitCredit, creditType, amount},
		{creditdomain.OwnerTypePlatform, poolOwner, txType, creditdomain.CreditDebitDebit, creditdomain.CreditTypePermanent, amount},
	}
	if _, err := s.post(ctx, event, legs); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) Charge(ctx context.Context, input creditdomain.ChargeInput) (*creditdomain.CreditEvent, error) {
	base := creditdomain.Quantize(input.BaseAmount)
	feePlatform := creditdomain.Quantize(input.FeePlatformAmount)
	feeAgent := creditdomain.Quantize(input.FeeAgentAmount)
	total := creditdomain.Quantize(base.Add(feePlatform).Add(feeAgent))
	if !total.IsPositive() {
		return nil, creditdomain.ErrNonPositiveAmount
	}

	account, err := s.GetOrCreateAccount(ctx, input.OwnerType, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if account.Bucket(input.CreditType).LessThan(total) {
		return nil, creditdomain.ErrInsufficientBalance
	}

	event := &creditdomain.CreditEvent{
		ID:                s.node.Generate(),
		EventType:         input.EventType,
		UpstreamType:      input.UpstreamType,
		AgentID:           input.AgentID,
		CreditType:        input.CreditType,
		TotalAmount:       total,
		BaseAmount:        base,
		FeePlatformAmount: feePlatform,
		FeeAgentAmount:    feeAgent,
		StartMessageID:    input.StartMessageID,
		CreatedAt:         s.clock.Now(ctx),
	}

	legs := []leg{
		{input.OwnerType, input.OwnerID, creditdomain.TxTypePay, creditdomain.CreditDebitDebit, input.CreditType, total},
	}
	if base.IsPositive() {
		legs = append(legs, leg{creditdomain.OwnerTypePlatform, creditdomain.PlatformOwnerRevenue, creditdomain.TxTypeReceiveBase, creditdomain.CreditDebitCredit, creditdomain.CreditTypePermanent, base})
	}
	if feePlatform.IsPositive() {
		legs = append(legs, leg{creditdomain.OwnerTypePlatform, creditdomain.PlatformOwnerFees, creditdomain.TxTypeReceiveFeePlatform, creditdomain.CreditDebitCredit, creditdomain.CreditTypePermanent, feePlatform})
	}
	if feeAgent.IsPositive() {
		if input.AgentID != "" {
			legs = append(legs, leg{creditdomain.OwnerTypeAgent, input.AgentID, creditdomain.TxTypeReceiveFeeAgent, creditdomain.CreditDebitCredit, creditdomain.CreditTypeReward, feeAgent})
		} else {
			// No agent to pay; the fee falls to the platform fee pool so
			// the event still nets to zero.
			legs = append(legs, leg{creditdomain.OwnerTypePlatform, creditdomain.PlatformOwnerFees, creditdomain.TxTypeReceiveFeeAgent, creditdomain.CreditDebitCredit, creditdomain.CreditTypePermanent, feeAgent})
		}
	}

	if _, err := s.post(ctx, event, legs); err != nil {
		return nil, err
	}
	return event, nil
}

// RefillAllFreeCredits tops every user account's free bucket up to the
// configured daily level. Scans accounts in id order so the pass stays
// stable while grants land concurrently.
func (s *service) RefillAllFreeCredits(ctx context.Context) (int, error) {
	target, err := decimal.NewFromString(s.cfg.FreeRefillAmount)
	if err != nil {
		return 0, fmt.Errorf("parse free refill amount: %w", err)
	}

	refilled := 0
	_, err = batch.Scan(ctx, s.db, batch.Options{Name: "free_refill", PageSize: s.cfg.AccountBatchSize},
		func(a creditdomain.CreditAccount) snowflake.ID { return a.ID },
		func(ctx context.Context, tx *gorm.DB, page batch.Page[creditdomain.CreditAccount]) error {
			for _, account := range page.Rows {
				if account.OwnerType != creditdomain.OwnerTypeUser {
					continue
				}
				delta := creditdomain.Quantize(target.Sub(account.FreeCredits))
				if !delta.IsPositive() {
					continue
				}
				if _, err := s.Refill(ctx, account.OwnerType, account.OwnerID, delta, creditdomain.UpstreamTypeScheduler); err != nil {
					s.log.Error("free credit refill failed",
						zap.String("account_id", account.ID.String()),
						zap.Error(err))
					continue
				}
				refilled++
			}
			return nil
		})
	if err != nil {
		return refilled, err
	}

	s.log.Info("free credit refill completed", zap.Int("accounts", refilled))
	return refilled, nil
}

func signed(cd creditdomain.CreditDebit, amount decimal.Decimal) decimal.Decimal {
	if cd == creditdomain.CreditDebitDebit {
		return amount.Neg()
	}
	return amount
}
