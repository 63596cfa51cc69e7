// Package config loads environment-driven runtime configuration.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config carries every tunable the ledger engine reads at startup.
type Config struct {
	Env         string `mapstructure:"APP_ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns int `mapstructure:"DB_MAX_IDLE_CONNS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	SlackWebhookURL string `mapstructure:"SLACK_WEBHOOK_URL"`

	// Checker tuning. Epsilon lives in the credit domain; window and batch
	// sizes are load trade-offs, not correctness requirements.
	AccountBatchSize int     `mapstructure:"CHECKER_ACCOUNT_BATCH_SIZE"`
	EventBatchSize   int     `mapstructure:"CHECKER_EVENT_BATCH_SIZE"`
	EventWindowDays  int     `mapstructure:"CHECKER_EVENT_WINDOW_DAYS"`
	RowsPerSecond    float64 `mapstructure:"CHECKER_ROWS_PER_SECOND"`

	// Cron specs, robfig/cron format.
	QuickCheckCron   string `mapstructure:"QUICK_CHECK_CRON"`
	SlowCheckCron    string `mapstructure:"SLOW_CHECK_CRON"`
	ActionCostCron   string `mapstructure:"ACTION_COST_CRON"`
	FreeRefillCron   string `mapstructure:"FREE_REFILL_CRON"`
	DailyResetCron   string `mapstructure:"DAILY_RESET_CRON"`
	MonthlyResetCron string `mapstructure:"MONTHLY_RESET_CRON"`

	// Action-cost analytics.
	ActionCostWindowDays int `mapstructure:"ACTION_COST_WINDOW_DAYS"`
	ActionCostMinActions int `mapstructure:"ACTION_COST_MIN_ACTIONS"`

	// Free-credit refill target per account per day.
	FreeRefillAmount string `mapstructure:"FREE_REFILL_AMOUNT"`
}

func Load() (Config, error) {
	// Optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CHECKER_ACCOUNT_BATCH_SIZE", 1000)
	v.SetDefault("CHECKER_EVENT_BATCH_SIZE", 1000)
	v.SetDefault("CHECKER_EVENT_WINDOW_DAYS", 3)
	v.SetDefault("CHECKER_ROWS_PER_SECOND", 100)
	v.SetDefault("QUICK_CHECK_CRON", "15 * * * *")
	v.SetDefault("SLOW_CHECK_CRON", "30 2 * * *")
	v.SetDefault("ACTION_COST_CRON", "40 * * * *")
	v.SetDefault("FREE_REFILL_CRON", "20 * * * *")
	v.SetDefault("DAILY_RESET_CRON", "0 0 * * *")
	v.SetDefault("MONTHLY_RESET_CRON", "0 0 1 * *")
	v.SetDefault("ACTION_COST_WINDOW_DAYS", 3)
	v.SetDefault("ACTION_COST_MIN_ACTIONS", 10)
	v.SetDefault("FREE_REFILL_AMOUNT", "100")

	keys := []string{
		"APP_ENV", "DATABASE_URL", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SLACK_WEBHOOK_URL",
		"CHECKER_ACCOUNT_BATCH_SIZE", "CHECKER_EVENT_BATCH_SIZE",
		"CHECKER_EVENT_WINDOW_DAYS", "CHECKER_ROWS_PER_SECOND",
		"QUICK_CHECK_CRON", "SLOW_CHECK_CRON", "ACTION_COST_CRON",
		"FREE_REFILL_CRON", "DAILY_RESET_CRON", "MONTHLY_RESET_CRON",
		"ACTION_COST_WINDOW_DAYS", "ACTION_COST_MIN_ACTIONS",
		"FREE_REFILL_AMOUNT",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
