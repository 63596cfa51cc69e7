package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/creditlabs/creditd/internal/alert"
	checkerdomain "github.com/creditlabs/creditd/internal/checker/domain"
)

type namedCheck struct {
	checkType checkerdomain.CheckType
	run       func(ctx context.Context) ([]checkerdomain.Result, error)
}

// RunQuickChecks runs the bounded-cost checks: per-event transaction
// balance, both orphan directions, and the two global aggregates.
func (s *service) RunQuickChecks(ctx context.Context) (*checkerdomain.Report, error) {
	return s.runChecks(ctx, "quick", []namedCheck{
		{checkerdomain.CheckTransactionBalance, s.CheckEventBalances},
		{checkerdomain.CheckOrphanedTransactions, s.CheckOrphanedTransactions},
		{checkerdomain.CheckOrphanedEvents, s.CheckOrphanedEvents},
		{checkerdomain.CheckTotalCreditBalance, s.CheckTotalCreditBalance},
		{checkerdomain.CheckTransactionTotalBalance, s.CheckTransactionTotalBalance},
	})
}

// RunSlowChecks runs the O(accounts) snapshot-windowed balance check.
func (s *service) RunSlowChecks(ctx context.Context) (*checkerdomain.Report, error) {
	return s.runChecks(ctx, "slow", []namedCheck{
		{checkerdomain.CheckAccountBalance, s.CheckAccountBalances},
	})
}

func (s *service) runChecks(ctx context.Context, name string, checks []namedCheck) (*checkerdomain.Report, error) {
	s.log.Info("starting account checking procedures", zap.String("run", name))
	report := checkerdomain.NewReport(name, s.clock.Now(ctx))

	for _, check := range checks {
		results, err := check.run(ctx)
		report.Results[check.checkType] = results
		if err != nil {
			// The check could not complete its coverage; that is a run
			// fault, not an inconsistency finding.
			report.Errors[check.checkType] = err
			s.log.Error("check aborted with error",
				zap.String("run", name),
				zap.String("check", string(check.checkType)),
				zap.Error(err))
			continue
		}

		failed := report.FailedCountFor(check.checkType)
		if failed > 0 {
			s.log.Warn("check finished with failures",
				zap.String("check", string(check.checkType)),
				zap.Int("failed", failed),
				zap.Int("total", len(results)))
		} else {
			s.log.Info("check passed",
				zap.String("check", string(check.checkType)),
				zap.Int("total", len(results)))
		}
	}

	report.FinishedAt = s.clock.Now(ctx)
	if report.Passed() {
		s.log.Info("all account checks passed", zap.String("run", name))
	} else {
		s.log.Warn("account checking found issues",
			zap.String("run", name),
			zap.Int("failed", report.FailedCount()),
			zap.Int("errors", len(report.Errors)))
	}

	s.notify(ctx, report)
	return report, nil
}

// notify delivers the run summary. Delivery failures are logged and
// swallowed; a run never fails because reporting did.
func (s *service) notify(ctx context.Context, report *checkerdomain.Report) {
	if err := s.notifier.Send(ctx, buildSummary(report)); err != nil {
		s.log.Warn("failed to deliver check report", zap.String("run", report.Name), zap.Error(err))
	}
}

func buildSummary(report *checkerdomain.Report) alert.Message {
	runTitle := titleize(report.Name) + " Account Checking"
	total := report.TotalChecks()
	failed := report.FailedCount()

	msg := alert.Message{
		Text:  runTitle + " Results",
		Color: alert.ColorGood,
		Title: "✅ " + runTitle + " Completed Successfully",
		Body:  fmt.Sprintf("All %d account checks passed.", total),
	}
	if failed > 0 || len(report.Errors) > 0 {
		msg.Notify = true
		msg.Color = alert.ColorDanger
		msg.Title = "❌ " + runTitle + " Found Issues"
		msg.Body = fmt.Sprintf("%d issues out of %d checks, %d checks errored.", failed, total, len(report.Errors))
	}
	if tolerated := report.ToleratedCount(); tolerated > 0 {
		msg.Body += fmt.Sprintf(" %d results tolerated within rounding epsilon.", tolerated)
	}

	checkTypes := make([]checkerdomain.CheckType, 0, len(report.Results))
	for checkType := range report.Results {
		checkTypes = append(checkTypes, checkType)
	}
	sort.Slice(checkTypes, func(i, j int) bool { return checkTypes[i] < checkTypes[j] })

	for _, checkType := range checkTypes {
		results := report.Results[checkType]
		value := fmt.Sprintf("✅ Passed (%d checks)", len(results))
		if n := report.FailedCountFor(checkType); n > 0 {
			value = fmt.Sprintf("❌ Failed (%d issues)", n)
		}
		if err, ok := report.Errors[checkType]; ok {
			value = "⚠️ Error: " + err.Error()
		}
		msg.Fields = append(msg.Fields, alert.Field{
			Title: titleize(string(checkType)),
			Value: value,
			Short: true,
		})
	}
	return msg
}

func titleize(snake string) string {
	words := strings.Split(snake, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
