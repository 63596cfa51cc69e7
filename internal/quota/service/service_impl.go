package service

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) quotadomain.Service {
	return &service{
		db:  p.DB,
		log: p.Log.Named("quota.service"),
	}
}

// ResetDailyQuotas zeroes the daily counters for every agent at UTC 00:00.
func (s *service) ResetDailyQuotas(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&quotadomain.AgentQuota{}).
		Updates(map[string]any{
			"message_count_daily": 0,
			"free_income_daily":   0,
		})
	if result.Error != nil {
		return result.Error
	}
	s.log.Info("daily quotas reset", zap.Int64("agents", result.RowsAffected))
	return nil
}

// ResetMonthlyQuotas zeroes the monthly counters on the first of the month.
func (s *service) ResetMonthlyQuotas(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&quotadomain.AgentQuota{}).
		Updates(map[string]any{
			"message_count_monthly":    0,
			"autonomous_count_monthly": 0,
		})
	if result.Error != nil {
		return result.Error
	}
	s.log.Info("monthly quotas reset", zap.Int64("agents", result.RowsAffected))
	return nil
}
