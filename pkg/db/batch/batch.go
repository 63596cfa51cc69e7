// Package batch provides keyset-paginated table scans. Each page runs in
// its own short-lived session so no transaction or lock spans the whole
// scan, and row-level work can be paced with a shared token bucket.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const DefaultPageSize = 1000

var (
	pagesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditd_batch_pages_scanned_total",
		Help: "Pages fetched by batched table scans.",
	}, []string{"scan"})
	rowsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditd_batch_rows_scanned_total",
		Help: "Rows visited by batched table scans.",
	}, []string{"scan"})
)

// Options bounds one scan.
type Options struct {
	// Name labels progress counters and errors.
	Name string
	// PageSize is the number of rows fetched per page.
	PageSize int
	// CreatedAfter, when set, restricts the scan to rows with
	// created_at >= CreatedAfter.
	CreatedAfter *time.Time
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return DefaultPageSize
	}
	return o.PageSize
}

// Page is one fetched batch of rows.
type Page[T any] struct {
	Index int
	Rows  []T
}

// Each runs fn for every row in the page, waiting on the scan's limiter
// between rows. Pacing trades latency for reduced load on shared storage;
// it is not a correctness requirement.
func (p Page[T]) Each(ctx context.Context, lim *rate.Limiter, fn func(row T) error) error {
	for _, row := range p.Rows {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Handler processes one page inside its own session.
type Handler[T any] func(ctx context.Context, tx *gorm.DB, page Page[T]) error

// Scan walks the table backing T in primary-key order. Pages after the
// first start strictly after the last key seen, so the scan stays stable
// under concurrent inserts. It stops on the first empty page and returns
// the number of rows visited.
func Scan[T any](ctx context.Context, db *gorm.DB, opts Options, key func(T) snowflake.ID, handle Handler[T]) (int, error) {
	var (
		lastID snowflake.ID
		page   int
		total  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		// Fresh session per page; released before the next fetch.
		tx := db.Session(&gorm.Session{NewDB: true}).WithContext(ctx)

		q := tx.Model(new(T)).Order("id").Limit(opts.pageSize())
		if lastID != 0 {
			q = q.Where("id > ?", lastID)
		}
		if opts.CreatedAfter != nil {
			q = q.Where("created_at >= ?", *opts.CreatedAfter)
		}

		var rows []T
		if err := q.Find(&rows).Error; err != nil {
			return total, fmt.Errorf("scan %s page %d: %w", opts.Name, page+1, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		page++
		total += len(rows)
		lastID = key(rows[len(rows)-1])
		pagesScanned.WithLabelValues(opts.Name).Inc()
		rowsScanned.WithLabelValues(opts.Name).Add(float64(len(rows)))

		if err := handle(ctx, tx, Page[T]{Index: page, Rows: rows}); err != nil {
			return total, fmt.Errorf("scan %s page %d: %w", opts.Name, page, err)
		}
	}
}
