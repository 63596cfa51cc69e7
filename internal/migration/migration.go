// Package migration applies the ledger schema. Schema changes are plain
// gorm auto-migrations serialized by a Postgres advisory lock, so several
// replicas can race at startup and only one applies DDL.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
)

const advisoryLockKey int64 = 6_102_443_987

// Models is every table the engine owns, in creation order.
func Models() []any {
	return []any{
		&creditdomain.CreditAccount{},
		&creditdomain.CreditEvent{},
		&creditdomain.CreditTransaction{},
		&quotadomain.AgentQuota{},
	}
}

// Run migrates the schema under the advisory lock.
func Run(db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Warn("failed to release advisory lock", zap.Error(err))
		}
	}()

	start := time.Now()
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("schema migrated", zap.Duration("time_cost", time.Since(start)))
	return nil
}

type unlockFunc func(ctx context.Context) error

func acquireAdvisoryLock(ctx context.Context, db *gorm.DB) (unlockFunc, error) {
	// Advisory locks are a Postgres feature; other dialects (sqlite in
	// tests) migrate unguarded.
	if db.Dialector.Name() != "postgres" {
		return func(context.Context) error { return nil }, nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// The lock is session-scoped, so it must be taken and released on one
	// pinned connection; going through the pool could land each statement
	// on a different session.
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, errors.New("another migration process holds the advisory lock")
	}

	return func(unlockCtx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", advisoryLockKey).Scan(&released); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		if !released {
			return errors.New("advisory lock was not held by this session")
		}
		return nil
	}, nil
}
