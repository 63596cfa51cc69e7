// Package repair rewrites mis-quantized charge events. It is a one-shot,
// administratively invoked procedure: the only code allowed to mutate
// historical events and transactions.
package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
)

const pageSize = 500

// Summary reports one repair pass. A second pass right after a successful
// one finds zero candidates: the correction is recomputed from each
// event's own source fields, so the procedure is idempotent.
type Summary struct {
	Checked  int
	Repaired int
	Failed   int
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("repair.service"),
	}
}

// Run walks every charge event and repairs those whose stored total does
// not equal the quantized sum of base and fee components. Each event is
// repaired in its own transaction; a failing row is logged and skipped so
// one bad record cannot abort the pass.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	s.log.Info("starting credit precision repair")

	var (
		summary Summary
		lastID  snowflake.ID
	)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var events []creditdomain.CreditEvent
		err := s.db.WithContext(ctx).
			Where("event_type IN ?", []creditdomain.EventType{creditdomain.EventTypeMessage, creditdomain.EventTypeSkillCall}).
			Where("id > ?", lastID).
			Order("id").
			Limit(pageSize).
			Find(&events).Error
		if err != nil {
			return summary, fmt.Errorf("load charge events: %w", err)
		}
		if len(events) == 0 {
			break
		}
		lastID = events[len(events)-1].ID

		for _, event := range events {
			summary.Checked++

			correct := event.CorrectTotal()
			if event.TotalAmount.Equal(correct) {
				continue
			}

			if err := s.repairEvent(ctx, event); err != nil {
				summary.Failed++
				s.log.Error("failed to repair event",
					zap.String("event_id", event.ID.String()),
					zap.Error(err))
				continue
			}
			summary.Repaired++
		}
	}

	s.log.Info("completed credit precision repair",
		zap.Int("checked", summary.Checked),
		zap.Int("repaired", summary.Repaired),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// repairEvent rewrites the event total, its PAY transaction, and the
// owning account's bucket in one transaction. If the corrected total is
// higher than the stored one, the account balance decreases by the same
// amount, and vice versa, which preserves ledger closure.
func (s *Service) repairEvent(ctx context.Context, event creditdomain.CreditEvent) error {
	correct := event.CorrectTotal()
	difference := correct.Sub(event.TotalAmount)

	s.log.Info("repairing event",
		zap.String("event_id", event.ID.String()),
		zap.String("stored_total", event.TotalAmount.String()),
		zap.String("correct_total", correct.String()),
		zap.String("difference", difference.String()))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balanceAfter := creditdomain.Quantize(event.BalanceAfter.Sub(difference))
		if err := tx.Model(&creditdomain.CreditEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]any{
				"total_amount":  correct,
				"balance_after": balanceAfter,
			}).Error; err != nil {
			return fmt.Errorf("update event: %w", err)
		}

		var payTx creditdomain.CreditTransaction
		err := tx.Where("event_id = ? AND tx_type = ?", event.ID, creditdomain.TxTypePay).
			First(&payTx).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.log.Warn("no pay transaction found for event", zap.String("event_id", event.ID.String()))
		case err != nil:
			return fmt.Errorf("find pay transaction: %w", err)
		default:
			if err := tx.Model(&creditdomain.CreditTransaction{}).
				Where("id = ?", payTx.ID).
				Update("change_amount", correct).Error; err != nil {
				return fmt.Errorf("update pay transaction: %w", err)
			}
			s.log.Info("updated pay transaction",
				zap.String("transaction_id", payTx.ID.String()),
				zap.String("before", payTx.ChangeAmount.String()),
				zap.String("after", correct.String()))
		}

		var account creditdomain.CreditAccount
		err = tx.Where("id = ?", event.AccountID).First(&account).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.log.Warn("no account found for event",
				zap.String("event_id", event.ID.String()),
				zap.String("account_id", event.AccountID.String()))
			return nil
		case err != nil:
			return fmt.Errorf("find account: %w", err)
		}

		before := account.Bucket(event.CreditType)
		after := creditdomain.Quantize(before.Sub(difference))
		account.SetBucket(event.CreditType, after)
		if err := tx.Model(&creditdomain.CreditAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"free_credits":   account.FreeCredits,
				"reward_credits": account.RewardCredits,
				"credits":        account.Credits,
			}).Error; err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		s.log.Info("updated account balance",
			zap.String("account_id", account.ID.String()),
			zap.String("credit_type", string(event.CreditType)),
			zap.String("before", before.String()),
			zap.String("after", after.String()))
		return nil
	})
}
