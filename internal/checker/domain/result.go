// Package domain defines the structured outcomes of consistency checks.
package domain

import (
	"context"
	"fmt"
	"time"
)

// CheckType names one consistency check.
type CheckType string

const (
	CheckAccountBalance          CheckType = "account_total_balance"
	CheckTransactionBalance      CheckType = "transaction_balance"
	CheckOrphanedTransactions    CheckType = "orphaned_transactions"
	CheckOrphanedEvents          CheckType = "orphaned_events"
	CheckTotalCreditBalance      CheckType = "total_credit_balance"
	CheckTransactionTotalBalance CheckType = "transaction_total_balance"
)

// Status is the outcome of a single check. Tolerated marks an aggregate
// whose drift stayed under the rounding epsilon: counted as passing, but
// kept distinct so operators can trend it over time.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusTolerated Status = "tolerated"
	StatusFailed    Status = "failed"
)

// Result is one finding. Details carries enough ids, amounts and
// timestamps to act on a failure without re-querying the database.
type Result struct {
	CheckType CheckType
	Status    Status
	Details   map[string]any
	Timestamp time.Time
}

// OK reports whether the result counts as passing.
func (r Result) OK() bool { return r.Status != StatusFailed }

func (r Result) String() string {
	return fmt.Sprintf("[%s] %s: %s - %v", r.Timestamp.Format(time.RFC3339), r.CheckType, r.Status, r.Details)
}

// Report summarizes one checker run.
type Report struct {
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    map[CheckType][]Result
	// Errors records checks that could not complete their coverage. This
	// is distinct from finding inconsistencies.
	Errors map[CheckType]error
}

func NewReport(name string, startedAt time.Time) *Report {
	return &Report{
		Name:      name,
		StartedAt: startedAt,
		Results:   make(map[CheckType][]Result),
		Errors:    make(map[CheckType]error),
	}
}

// TotalChecks counts every recorded result.
func (r *Report) TotalChecks() int {
	n := 0
	for _, results := range r.Results {
		n += len(results)
	}
	return n
}

// FailedCount counts results whose status is failed.
func (r *Report) FailedCount() int {
	n := 0
	for _, results := range r.Results {
		for _, result := range results {
			if !result.OK() {
				n++
			}
		}
	}
	return n
}

// FailedCountFor counts failed results of one check.
func (r *Report) FailedCountFor(ct CheckType) int {
	n := 0
	for _, result := range r.Results[ct] {
		if !result.OK() {
			n++
		}
	}
	return n
}

// ToleratedCount counts soft-passed results.
func (r *Report) ToleratedCount() int {
	n := 0
	for _, results := range r.Results {
		for _, result := range results {
			if result.Status == StatusTolerated {
				n++
			}
		}
	}
	return n
}

// Passed reports whether the run found no failures and completed every
// check.
func (r *Report) Passed() bool {
	return r.FailedCount() == 0 && len(r.Errors) == 0
}

// Service runs the consistency checks. RunQuickChecks and RunSlowChecks
// are self-contained and safe to invoke repeatedly or concurrently.
type Service interface {
	CheckAccountBalances(ctx context.Context) ([]Result, error)
	CheckEventBalances(ctx context.Context) ([]Result, error)
	CheckOrphanedTransactions(ctx context.Context) ([]Result, error)
	CheckOrphanedEvents(ctx context.Context) ([]Result, error)
	CheckTotalCreditBalance(ctx context.Context) ([]Result, error)
	CheckTransactionTotalBalance(ctx context.Context) ([]Result, error)

	RunQuickChecks(ctx context.Context) (*Report, error)
	RunSlowChecks(ctx context.Context) (*Report, error)
}
