package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/creditlabs/creditd/internal/alert"
	checkerdomain "github.com/creditlabs/creditd/internal/checker/domain"
	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	"github.com/creditlabs/creditd/pkg/db/batch"
)

// orphanDetailLimit caps how many orphan rows a report carries; the count
// is always exact.
const orphanDetailLimit = 100

var findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditd_checker_findings_total",
	Help: "Consistency check results by check and status.",
}, []string{"check", "status"})

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Notifier alert.Notifier
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	notifier alert.Notifier
	limiter  *rate.Limiter
}

func NewService(p ServiceParam) checkerdomain.Service {
	rps := p.Config.RowsPerSecond
	if rps <= 0 {
		rps = 100
	}
	return &service{
		db:       p.DB,
		log:      p.Log.Named("checker.service"),
		clock:    p.Clock,
		cfg:      p.Config,
		notifier: p.Notifier,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (s *service) record(results []checkerdomain.Result, r checkerdomain.Result) []checkerdomain.Result {
	findingsTotal.WithLabelValues(string(r.CheckType), string(r.Status)).Inc()
	return append(results, r)
}

type sideSums struct {
	Credits decimal.NullDecimal `gorm:"column:credits"`
	Debits  decimal.NullDecimal `gorm:"column:debits"`
}

func (ss sideSums) credits() decimal.Decimal {
	if !ss.Credits.Valid {
		return decimal.Zero
	}
	return ss.Credits.Decimal
}

func (ss sideSums) debits() decimal.Decimal {
	if !ss.Debits.Valid {
		return decimal.Zero
	}
	return ss.Debits.Decimal
}

// CheckAccountBalances verifies each account's stored balance against the
// signed sum of its transactions. Accounts are scanned in batches, and
// transaction sums are bounded by the newest updated_at in each batch: the
// latest instant at which every account in the batch is known stable.
// Transactions inserted after that snapshot cannot produce false
// mismatches, while drift that existed at snapshot time is still caught.
func (s *service) CheckAccountBalances(ctx context.Context) ([]checkerdomain.Result, error) {
	var results []checkerdomain.Result

	total, err := batch.Scan(ctx, s.db,
		batch.Options{Name: "account_balance", PageSize: s.cfg.AccountBatchSize},
		func(a creditdomain.CreditAccount) snowflake.ID { return a.ID },
		func(ctx context.Context, tx *gorm.DB, page batch.Page[creditdomain.CreditAccount]) error {
			s.log.Info("processing account balance batch",
				zap.Int("batch", page.Index),
				zap.Int("accounts", len(page.Rows)))

			var batchMaxUpdatedAt time.Time
			for _, account := range page.Rows {
				if account.UpdatedAt.After(batchMaxUpdatedAt) {
					batchMaxUpdatedAt = account.UpdatedAt
				}
			}
			if batchMaxUpdatedAt.IsZero() {
				return nil
			}

			return page.Each(ctx, s.limiter, func(account creditdomain.CreditAccount) error {
				var sums sideSums
				err := tx.Raw(`
					SELECT
						SUM(CASE WHEN credit_debit = 'credit' THEN change_amount ELSE 0 END) AS credits,
						SUM(CASE WHEN credit_debit = 'debit' THEN change_amount ELSE 0 END) AS debits
					FROM credit_transactions
					WHERE account_id = ? AND created_at <= ?`,
					account.ID, batchMaxUpdatedAt,
				).Scan(&sums).Error
				if err != nil {
					return fmt.Errorf("sum transactions for account %s: %w", account.ID, err)
				}

				totalBalance := account.TotalBalance()
				expected := creditdomain.Quantize(sums.credits().Sub(sums.debits()))

				status := checkerdomain.StatusPassed
				if !totalBalance.Equal(expected) {
					status = checkerdomain.StatusFailed
					s.log.Warn("account total balance inconsistency detected",
						zap.String("account_id", account.ID.String()),
						zap.String("owner", string(account.OwnerType)+":"+account.OwnerID),
						zap.String("current_total", totalBalance.String()),
						zap.String("expected", expected.String()))
				}

				results = s.record(results, checkerdomain.Result{
					CheckType: checkerdomain.CheckAccountBalance,
					Status:    status,
					Timestamp: s.clock.Now(ctx),
					Details: map[string]any{
						"account_id":            account.ID.String(),
						"owner_type":            account.OwnerType,
						"owner_id":              account.OwnerID,
						"current_total_balance": totalBalance.String(),
						"free_credits":          account.FreeCredits.String(),
						"reward_credits":        account.RewardCredits.String(),
						"credits":               account.Credits.String(),
						"expected_balance":      expected.String(),
						"total_credits":         sums.credits().String(),
						"total_debits":          sums.debits().String(),
						"difference":            totalBalance.Sub(expected).String(),
						"max_updated_at":        batchMaxUpdatedAt.Format(time.RFC3339Nano),
						"batch":                 page.Index,
					},
				})
				return nil
			})
		})
	if err != nil {
		return results, err
	}

	s.log.Info("completed account balance consistency check", zap.Int("accounts", total))
	return results, nil
}

// CheckEventBalances verifies that each recent event's transactions net to
// zero: credits equal debits, the double-entry invariant. The window is
// bounded because full-history scans are expensive and stale imbalances
// are already caught by the account and global checks.
func (s *service) CheckEventBalances(ctx context.Context) ([]checkerdomain.Result, error) {
	var results []checkerdomain.Result

	windowStart := s.clock.Now(ctx).AddDate(0, 0, -s.cfg.EventWindowDays)
	total, err := batch.Scan(ctx, s.db,
		batch.Options{Name: "transaction_balance", PageSize: s.cfg.EventBatchSize, CreatedAfter: &windowStart},
		func(e creditdomain.CreditEvent) snowflake.ID { return e.ID },
		func(ctx context.Context, tx *gorm.DB, page batch.Page[creditdomain.CreditEvent]) error {
			s.log.Info("processing transaction balance batch",
				zap.Int("batch", page.Index),
				zap.Int("events", len(page.Rows)))

			return page.Each(ctx, s.limiter, func(event creditdomain.CreditEvent) error {
				var txs []creditdomain.CreditTransaction
				if err := tx.Where("event_id = ?", event.ID).Find(&txs).Error; err != nil {
					return fmt.Errorf("load transactions for event %s: %w", event.ID, err)
				}

				creditSum, debitSum := decimal.Zero, decimal.Zero
				for _, t := range txs {
					if t.CreditDebit == creditdomain.CreditDebitCredit {
						creditSum = creditSum.Add(t.ChangeAmount)
					} else {
						debitSum = debitSum.Add(t.ChangeAmount)
					}
				}
				creditSum = creditdomain.Quantize(creditSum)
				debitSum = creditdomain.Quantize(debitSum)

				status := checkerdomain.StatusPassed
				if !creditSum.Equal(debitSum) {
					status = checkerdomain.StatusFailed
					s.log.Warn("transaction imbalance detected",
						zap.String("event_id", event.ID.String()),
						zap.String("event_type", string(event.EventType)),
						zap.String("credit_sum", creditSum.String()),
						zap.String("debit_sum", debitSum.String()))
				}

				results = s.record(results, checkerdomain.Result{
					CheckType: checkerdomain.CheckTransactionBalance,
					Status:    status,
					Timestamp: s.clock.Now(ctx),
					Details: map[string]any{
						"event_id":   event.ID.String(),
						"event_type": event.EventType,
						"credit_sum": creditSum.String(),
						"debit_sum":  debitSum.String(),
						"difference": creditSum.Sub(debitSum).String(),
						"created_at": event.CreatedAt.Format(time.RFC3339Nano),
						"batch":      page.Index,
					},
				})
				return nil
			})
		})
	if err != nil {
		return results, err
	}

	s.log.Info("completed transaction balance check", zap.Int("events", total))
	return results, nil
}

// CheckOrphanedTransactions finds transactions whose event no longer
// exists. Any hit means an atomic-write guarantee was broken upstream.
func (s *service) CheckOrphanedTransactions(ctx context.Context) ([]checkerdomain.Result, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM credit_transactions t
		LEFT JOIN credit_events e ON t.event_id = e.id
		WHERE e.id IS NULL`,
	).Scan(&count).Error
	if err != nil {
		return nil, fmt.Errorf("count orphaned transactions: %w", err)
	}

	var orphans []creditdomain.CreditTransaction
	if count > 0 {
		err = s.db.WithContext(ctx).Raw(`
			SELECT t.*
			FROM credit_transactions t
			LEFT JOIN credit_events e ON t.event_id = e.id
			WHERE e.id IS NULL
			ORDER BY t.id
			LIMIT ?`, orphanDetailLimit,
		).Scan(&orphans).Error
		if err != nil {
			return nil, fmt.Errorf("load orphaned transactions: %w", err)
		}

		s.log.Warn("found orphaned transactions without corresponding events", zap.Int64("count", count))
	}

	details := make([]map[string]any, 0, len(orphans))
	for _, t := range orphans {
		details = append(details, map[string]any{
			"id":            t.ID.String(),
			"account_id":    t.AccountID.String(),
			"event_id":      t.EventID.String(),
			"tx_type":       t.TxType,
			"credit_debit":  t.CreditDebit,
			"credit_type":   t.CreditType,
			"change_amount": t.ChangeAmount.String(),
			"created_at":    t.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	status := checkerdomain.StatusPassed
	if count > 0 {
		status = checkerdomain.StatusFailed
	}
	result := checkerdomain.Result{
		CheckType: checkerdomain.CheckOrphanedTransactions,
		Status:    status,
		Timestamp: s.clock.Now(ctx),
		Details: map[string]any{
			"orphaned_count":        count,
			"orphaned_transactions": details,
		},
	}
	return s.record(nil, result), nil
}

// CheckOrphanedEvents finds events with no transactions at all.
func (s *service) CheckOrphanedEvents(ctx context.Context) ([]checkerdomain.Result, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM credit_events e
		LEFT JOIN credit_transactions t ON e.id = t.event_id
		WHERE t.id IS NULL`,
	).Scan(&count).Error
	if err != nil {
		return nil, fmt.Errorf("count orphaned events: %w", err)
	}

	var orphans []creditdomain.CreditEvent
	if count > 0 {
		err = s.db.WithContext(ctx).Raw(`
			SELECT e.*
			FROM credit_events e
			LEFT JOIN credit_transactions t ON e.id = t.event_id
			WHERE t.id IS NULL
			ORDER BY e.id
			LIMIT ?`, orphanDetailLimit,
		).Scan(&orphans).Error
		if err != nil {
			return nil, fmt.Errorf("load orphaned events: %w", err)
		}

		s.log.Warn("found orphaned events with no transactions", zap.Int64("count", count))
	}

	details := make([]map[string]any, 0, len(orphans))
	for _, e := range orphans {
		details = append(details, map[string]any{
			"event_id":     e.ID.String(),
			"event_type":   e.EventType,
			"account_id":   e.AccountID.String(),
			"total_amount": e.TotalAmount.String(),
			"credit_type":  e.CreditType,
			"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	status := checkerdomain.StatusPassed
	if count > 0 {
		status = checkerdomain.StatusFailed
	}
	result := checkerdomain.Result{
		CheckType: checkerdomain.CheckOrphanedEvents,
		Status:    status,
		Timestamp: s.clock.Now(ctx),
		Details: map[string]any{
			"orphaned_count":  count,
			"orphaned_events": details,
		},
	}
	return s.record(nil, result), nil
}

// CheckTotalCreditBalance verifies the ledger is closed: the sum of every
// bucket across all accounts must quantize to zero. Drift below the
// epsilon is reported as tolerated (rounding artifact), not failed.
func (s *service) CheckTotalCreditBalance(ctx context.Context) ([]checkerdomain.Result, error) {
	var sums struct {
		TotalFree      decimal.NullDecimal `gorm:"column:total_free"`
		TotalReward    decimal.NullDecimal `gorm:"column:total_reward"`
		TotalPermanent decimal.NullDecimal `gorm:"column:total_permanent"`
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			SUM(free_credits) AS total_free,
			SUM(reward_credits) AS total_reward,
			SUM(credits) AS total_permanent
		FROM credit_accounts`,
	).Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("sum account balances: %w", err)
	}

	totalFree := nullToZero(sums.TotalFree)
	totalReward := nullToZero(sums.TotalReward)
	totalPermanent := nullToZero(sums.TotalPermanent)
	grandTotal := creditdomain.Quantize(totalFree.Add(totalReward).Add(totalPermanent))

	status := checkerdomain.StatusPassed
	switch {
	case grandTotal.IsZero():
	case creditdomain.WithinEpsilon(grandTotal):
		status = checkerdomain.StatusTolerated
		s.log.Warn("total credit balance close to zero but not exact, likely rounding",
			zap.String("grand_total", grandTotal.String()))
	default:
		status = checkerdomain.StatusFailed
		s.log.Warn("total credit balance inconsistency detected",
			zap.String("grand_total", grandTotal.String()),
			zap.String("free", totalFree.String()),
			zap.String("reward", totalReward.String()),
			zap.String("permanent", totalPermanent.String()))
	}

	result := checkerdomain.Result{
		CheckType: checkerdomain.CheckTotalCreditBalance,
		Status:    status,
		Timestamp: s.clock.Now(ctx),
		Details: map[string]any{
			"total_free_credits":      totalFree.String(),
			"total_reward_credits":    totalReward.String(),
			"total_permanent_credits": totalPermanent.String(),
			"grand_total":             grandTotal.String(),
		},
	}
	return s.record(nil, result), nil
}

// CheckTransactionTotalBalance verifies that system-wide transaction
// credits equal debits, with the same epsilon leniency as the account
// aggregate.
func (s *service) CheckTransactionTotalBalance(ctx context.Context) ([]checkerdomain.Result, error) {
	var sums sideSums
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			SUM(CASE WHEN credit_debit = 'credit' THEN change_amount ELSE 0 END) AS credits,
			SUM(CASE WHEN credit_debit = 'debit' THEN change_amount ELSE 0 END) AS debits
		FROM credit_transactions`,
	).Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}

	totalCredits := sums.credits()
	totalDebits := sums.debits()
	difference := creditdomain.Quantize(totalCredits.Sub(totalDebits))

	status := checkerdomain.StatusPassed
	switch {
	case difference.IsZero():
	case creditdomain.WithinEpsilon(difference):
		status = checkerdomain.StatusTolerated
		s.log.Warn("transaction total balance close to zero but not exact, likely rounding",
			zap.String("difference", difference.String()))
	default:
		status = checkerdomain.StatusFailed
		s.log.Warn("transaction total balance inconsistency detected",
			zap.String("credits", totalCredits.String()),
			zap.String("debits", totalDebits.String()),
			zap.String("difference", difference.String()))
	}

	result := checkerdomain.Result{
		CheckType: checkerdomain.CheckTransactionTotalBalance,
		Status:    status,
		Timestamp: s.clock.Now(ctx),
		Details: map[string]any{
			"total_credits": totalCredits.String(),
			"total_debits":  totalDebits.String(),
			"difference":    difference.String(),
		},
	}
	return s.record(nil, result), nil
}

func nullToZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
