package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/creditlabs/creditd/internal/actioncost"
	"github.com/creditlabs/creditd/internal/alert"
	"github.com/creditlabs/creditd/internal/checker"
	checkerdomain "github.com/creditlabs/creditd/internal/checker/domain"
	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	"github.com/creditlabs/creditd/internal/credit"
	"github.com/creditlabs/creditd/internal/migration"
	"github.com/creditlabs/creditd/internal/observability"
	"github.com/creditlabs/creditd/internal/quota"
	"github.com/creditlabs/creditd/internal/redis"
	"github.com/creditlabs/creditd/internal/repair"
	"github.com/creditlabs/creditd/internal/scheduler"
	"github.com/creditlabs/creditd/pkg/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "creditd",
		Short:   "Credit ledger consistency engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newCheckCmd(), newSchedulerCmd(), newFixPrecisionCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newCheckCmd() *cobra.Command {
	var slow bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the consistency checks once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(slow)
		},
	}
	cmd.Flags().BoolVar(&slow, "slow", false, "run the slow full-scan checks instead of the quick set")
	return cmd
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the periodic maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newFixPrecisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix-precision",
		Short: "Repair charge events whose stored totals drop sub-cent fee precision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixPrecision()
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return app.Stop(context.Background())
}

func runCheck(slow bool) error {
	var svc checkerdomain.Service
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		alert.Module,
		checker.Module,
		fx.Populate(&svc),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("check startup failed: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	run := svc.RunQuickChecks
	if slow {
		run = svc.RunSlowChecks
	}
	report, err := run(ctx)
	if err != nil {
		return err
	}
	if !report.Passed() {
		return fmt.Errorf("%s: %d of %d checks failed", report.Name, report.FailedCount(), report.TotalChecks())
	}
	return nil
}

func runScheduler() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		alert.Module,
		credit.Module,
		quota.Module,
		actioncost.Module,
		checker.Module,
		scheduler.Module,
		fx.Invoke(scheduler.Run),
	)
	app.Run()
}

func runFixPrecision() error {
	var svc *repair.Service
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		repair.Module,
		fx.Populate(&svc),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("repair startup failed: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	summary, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("checked=%d repaired=%d failed=%d\n", summary.Checked, summary.Repaired, summary.Failed)
	return nil
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
