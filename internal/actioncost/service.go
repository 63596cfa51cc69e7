// Package actioncost computes per-agent cost statistics over a trailing
// window of charge events. An action is the set of charge events sharing a
// start_message_id; its cost is the sum of their totals. The tri-band
// low/medium/high summary feeds quota and throttling decisions without
// shipping the full distribution around.
package actioncost

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
	"github.com/creditlabs/creditd/pkg/db/batch"
)

const rollupBatchSize = 100

// defaultCost is returned for every statistic when an agent has too few
// actions in the window for the numbers to mean anything.
var defaultCost = decimal.NewFromInt(1)

// Costs are the per-agent statistics, all quantized to storage scale.
type Costs struct {
	Avg    decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
	Low    decimal.Decimal
	Medium decimal.Decimal
	High   decimal.Decimal
}

func defaultCosts() Costs {
	return Costs{
		Avg:    defaultCost,
		Min:    defaultCost,
		Max:    defaultCost,
		Low:    defaultCost,
		Medium: defaultCost,
		High:   defaultCost,
	}
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("actioncost.service"),
		clock: p.Clock,
		cfg:   p.Config,
	}
}

func (s *Service) windowStart(ctx context.Context) time.Time {
	days := s.cfg.ActionCostWindowDays
	if days <= 0 {
		days = 3
	}
	return s.clock.Now(ctx).AddDate(0, 0, -days)
}

func (s *Service) minActions() int64 {
	if s.cfg.ActionCostMinActions <= 0 {
		return 10
	}
	return int64(s.cfg.ActionCostMinActions)
}

// AgentActionCost computes the statistics for one agent. Fewer than the
// minimum number of distinct actions in the window yields the fixed
// defaults rather than a statistically meaningless estimate.
func (s *Service) AgentActionCost(ctx context.Context, agentID string) (Costs, error) {
	start := time.Now()
	windowStart := s.windowStart(ctx)
	chargeTypes := []creditdomain.EventType{creditdomain.EventTypeMessage, creditdomain.EventTypeSkillCall}

	var actionCount int64
	err := s.db.WithContext(ctx).
		Model(&creditdomain.CreditEvent{}).
		Where("agent_id = ?", agentID).
		Where("created_at >= ?", windowStart).
		Where("upstream_type = ?", creditdomain.UpstreamTypeExecutor).
		Where("event_type IN ?", chargeTypes).
		Where("start_message_id IS NOT NULL").
		Distinct("start_message_id").
		Count(&actionCount).Error
	if err != nil {
		return Costs{}, fmt.Errorf("count actions for agent %s: %w", agentID, err)
	}

	if actionCount < s.minActions() {
		s.log.Info("action cost defaulted, insufficient actions",
			zap.String("agent_id", agentID),
			zap.Int64("actions", actionCount),
			zap.Duration("time_cost", time.Since(start)))
		return defaultCosts(), nil
	}

	var rows []struct {
		Cost decimal.Decimal `gorm:"column:cost"`
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT SUM(total_amount) AS cost
		FROM credit_events
		WHERE agent_id = ?
		  AND created_at >= ?
		  AND upstream_type = ?
		  AND event_type IN ?
		  AND start_message_id IS NOT NULL
		GROUP BY start_message_id
		ORDER BY cost`,
		agentID, windowStart, creditdomain.UpstreamTypeExecutor, chargeTypes,
	).Scan(&rows).Error
	if err != nil {
		return Costs{}, fmt.Errorf("sum action costs for agent %s: %w", agentID, err)
	}

	costs := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		costs = append(costs, row.Cost)
	}

	result := computeCosts(costs)
	s.log.Info("action cost computed",
		zap.String("agent_id", agentID),
		zap.Int64("actions", actionCount),
		zap.String("avg", result.Avg.String()),
		zap.Duration("time_cost", time.Since(start)))
	return result, nil
}

// computeCosts derives avg/min/max plus the quintile tri-band summary from
// action costs. Quintile assignment is rank based, ceil(rank*5/count), so
// it is portable across storage engines. Empty bands fall back to the
// defaults used for sparse data.
func computeCosts(costs []decimal.Decimal) Costs {
	if len(costs) == 0 {
		return defaultCosts()
	}

	sorted := make([]decimal.Decimal, len(costs))
	copy(sorted, costs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	sum := decimal.Zero
	var low, medium, high []decimal.Decimal
	for i, cost := range sorted {
		sum = sum.Add(cost)

		rank := i + 1
		quintile := (rank*5 + n - 1) / n
		switch {
		case quintile <= 1:
			low = append(low, cost)
		case quintile >= 5:
			high = append(high, cost)
		default:
			medium = append(medium, cost)
		}
	}

	return Costs{
		Avg:    creditdomain.Quantize(sum.Div(decimal.NewFromInt(int64(n)))),
		Min:    creditdomain.Quantize(sorted[0]),
		Max:    creditdomain.Quantize(sorted[n-1]),
		Low:    bandAvg(low),
		Medium: bandAvg(medium),
		High:   bandAvg(high),
	}
}

func bandAvg(band []decimal.Decimal) decimal.Decimal {
	if len(band) == 0 {
		return defaultCost
	}
	sum := decimal.Zero
	for _, cost := range band {
		sum = sum.Add(cost)
	}
	return creditdomain.Quantize(sum.Div(decimal.NewFromInt(int64(len(band)))))
}

// UpdateAllAgentActionCosts refreshes the action-cost columns on every
// agent's quota row. Agents are discovered from their ledger accounts and
// processed in keyset batches; a failure on one agent is logged and does
// not stop the pass.
func (s *Service) UpdateAllAgentActionCosts(ctx context.Context) (int, error) {
	s.log.Info("starting update of agent action costs")
	start := time.Now()

	updated := 0
	_, err := batch.Scan(ctx, s.db, batch.Options{Name: "action_cost", PageSize: rollupBatchSize},
		func(a creditdomain.CreditAccount) snowflake.ID { return a.ID },
		func(ctx context.Context, tx *gorm.DB, page batch.Page[creditdomain.CreditAccount]) error {
			for _, account := range page.Rows {
				if account.OwnerType != creditdomain.OwnerTypeAgent {
					continue
				}

				costs, err := s.AgentActionCost(ctx, account.OwnerID)
				if err != nil {
					s.log.Error("failed to compute action costs",
						zap.String("agent_id", account.OwnerID),
						zap.Error(err))
					continue
				}

				quota := quotadomain.AgentQuota{
					ID:               account.OwnerID,
					AvgActionCost:    costs.Avg,
					MinActionCost:    costs.Min,
					MaxActionCost:    costs.Max,
					LowActionCost:    costs.Low,
					MediumActionCost: costs.Medium,
					HighActionCost:   costs.High,
					UpdatedAt:        s.clock.Now(ctx),
				}
				err = tx.Clauses(clause.OnConflict{
					Columns: []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"avg_action_cost", "min_action_cost", "max_action_cost",
						"low_action_cost", "medium_action_cost", "high_action_cost",
						"updated_at",
					}),
				}).Create(&quota).Error
				if err != nil {
					s.log.Error("failed to update agent quota",
						zap.String("agent_id", account.OwnerID),
						zap.Error(err))
					continue
				}
				updated++
			}
			return nil
		})
	if err != nil {
		return updated, err
	}

	s.log.Info("finished updating agent action costs",
		zap.Int("agents", updated),
		zap.Duration("time_cost", time.Since(start)))
	return updated, nil
}
