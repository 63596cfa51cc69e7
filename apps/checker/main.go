package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/creditlabs/creditd/internal/alert"
	"github.com/creditlabs/creditd/internal/checker"
	checkerdomain "github.com/creditlabs/creditd/internal/checker/domain"
	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	"github.com/creditlabs/creditd/internal/observability"
	"github.com/creditlabs/creditd/pkg/db"
)

// One-shot checker run, suited to cron or a Kubernetes Job. Exit code 1
// means at least one check found an inconsistency.
func main() {
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
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	report, err := svc.RunQuickChecks(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !report.Passed() {
		os.Exit(1)
	}
}
