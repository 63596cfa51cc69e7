package batch

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type scanRow struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (scanRow) TableName() string { return "scan_rows" }

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&scanRow{}))
	return db
}

func seedRows(t *testing.T, db *gorm.DB, n int) []snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ids := make([]snowflake.ID, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		row := scanRow{ID: node.Generate(), CreatedAt: now.Add(time.Duration(i) * time.Second)}
		require.NoError(t, db.Create(&row).Error)
		ids = append(ids, row.ID)
	}
	return ids
}

func TestScanVisitsEachRowOnce(t *testing.T) {
	const n = 8
	db := openDB(t)
	ids := seedRows(t, db, n)

	for _, pageSize := range []int{1, n / 2, n, n + 1} {
		seen := make(map[snowflake.ID]int)
		total, err := Scan(context.Background(), db, Options{Name: "test", PageSize: pageSize},
			func(r scanRow) snowflake.ID { return r.ID },
			func(ctx context.Context, tx *gorm.DB, page Page[scanRow]) error {
				for _, row := range page.Rows {
					seen[row.ID]++
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, n, total, "page size %d", pageSize)
		for _, id := range ids {
			require.Equal(t, 1, seen[id], "page size %d id %s", pageSize, id)
		}
	}
}

func TestScanEmptyTable(t *testing.T) {
	db := openDB(t)

	calls := 0
	total, err := Scan(context.Background(), db, Options{Name: "test", PageSize: 10},
		func(r scanRow) snowflake.ID { return r.ID },
		func(ctx context.Context, tx *gorm.DB, page Page[scanRow]) error {
			calls++
			return nil
		})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, calls)
}

func TestScanCreatedAfterBound(t *testing.T) {
	db := openDB(t)
	seedRows(t, db, 6)

	cutoff := time.Now().UTC().Add(3500 * time.Millisecond)
	var visited int
	_, err := Scan(context.Background(), db, Options{Name: "test", PageSize: 2, CreatedAfter: &cutoff},
		func(r scanRow) snowflake.ID { return r.ID },
		func(ctx context.Context, tx *gorm.DB, page Page[scanRow]) error {
			visited += len(page.Rows)
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, visited)
}

func TestScanCancelledBetweenPages(t *testing.T) {
	db := openDB(t)
	seedRows(t, db, 4)

	ctx, cancel := context.WithCancel(context.Background())
	total, err := Scan(ctx, db, Options{Name: "test", PageSize: 2},
		func(r scanRow) snowflake.ID { return r.ID },
		func(ctx context.Context, tx *gorm.DB, page Page[scanRow]) error {
			cancel()
			return nil
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, total)
}

func TestPageEachPacesRows(t *testing.T) {
	page := Page[scanRow]{Index: 1, Rows: []scanRow{{ID: 1}, {ID: 2}, {ID: 3}}}

	var order []snowflake.ID
	err := page.Each(context.Background(), rate.NewLimiter(rate.Inf, 1), func(row scanRow) error {
		order = append(order, row.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{1, 2, 3}, order)
}
