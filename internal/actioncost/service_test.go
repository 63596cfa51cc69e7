package actioncost

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	creditdomain "github.com/creditlabs/creditd/internal/credit/domain"
	quotadomain "github.com/creditlabs/creditd/internal/quota/domain"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&creditdomain.CreditAccount{},
		&creditdomain.CreditEvent{},
		&quotadomain.AgentQuota{},
	))
	return db
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.SystemClock{},
		Config: config.Config{
			ActionCostWindowDays: 3,
			ActionCostMinActions: 10,
		},
	})
}

// seedActions inserts one charge event per cost, each its own action.
func seedActions(t *testing.T, db *gorm.DB, node *snowflake.Node, agentID string, costs []string) {
	t.Helper()
	now := time.Now().UTC()
	for i, cost := range costs {
		startMessage := fmt.Sprintf("%s-m%d", agentID, i)
		event := creditdomain.CreditEvent{
			ID:             node.Generate(),
			EventType:      creditdomain.EventTypeMessage,
			UpstreamType:   creditdomain.UpstreamTypeExecutor,
			AgentID:        agentID,
			CreditType:     creditdomain.CreditTypeFree,
			TotalAmount:    dec(t, cost),
			BaseAmount:     dec(t, cost),
			StartMessageID: &startMessage,
			CreatedAt:      now.Add(-time.Hour),
		}
		require.NoError(t, db.Create(&event).Error)
	}
}

func TestAgentActionCostDefaultsBelowThreshold(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	// 9 actions, one short of the minimum.
	costs := make([]string, 9)
	for i := range costs {
		costs[i] = "5"
	}
	seedActions(t, db, node, "agent-1", costs)

	got, err := newTestService(t, db).AgentActionCost(context.Background(), "agent-1")
	require.NoError(t, err)
	one := dec(t, "1")
	require.True(t, got.Avg.Equal(one))
	require.True(t, got.Min.Equal(one))
	require.True(t, got.Max.Equal(one))
	require.True(t, got.Low.Equal(one))
	require.True(t, got.Medium.Equal(one))
	require.True(t, got.High.Equal(one))
}

func TestAgentActionCostAtThreshold(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	costs := make([]string, 10)
	for i := range costs {
		costs[i] = "5"
	}
	seedActions(t, db, node, "agent-1", costs)

	got, err := newTestService(t, db).AgentActionCost(context.Background(), "agent-1")
	require.NoError(t, err)
	require.True(t, got.Avg.Equal(dec(t, "5")), "avg %s", got.Avg)
	require.True(t, got.Low.Equal(dec(t, "5")))
	require.True(t, got.High.Equal(dec(t, "5")))
}

func TestAgentActionCostQuintileBands(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	// 12 actions, assigned to quintiles by ceil(rank*5/12).
	seedActions(t, db, node, "agent-1",
		[]string{"1", "1", "1", "1", "2", "2", "2", "3", "3", "4", "5", "10"})

	got, err := newTestService(t, db).AgentActionCost(context.Background(), "agent-1")
	require.NoError(t, err)

	// sum=35, avg=35/12=2.9167 at four places.
	require.True(t, got.Avg.Equal(dec(t, "2.9167")), "avg %s", got.Avg)
	require.True(t, got.Min.Equal(dec(t, "1")))
	require.True(t, got.Max.Equal(dec(t, "10")))

	// ceil(rank*5/12) <= 1 for ranks 1-2, >= 5 for ranks 10-12.
	// low = avg(1,1) = 1; high = avg(4,5,10) = 6.3333; medium = avg of
	// ranks 3-9 = 14/7 = 2.
	require.True(t, got.Low.Equal(dec(t, "1")), "low %s", got.Low)
	require.True(t, got.High.Equal(dec(t, "6.3333")), "high %s", got.High)
	require.True(t, got.Medium.Equal(dec(t, "2")), "medium %s", got.Medium)
}

func TestAgentActionCostGroupsByStartMessage(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	// 10 actions with two events each: the per-action cost is the sum.
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		startMessage := fmt.Sprintf("m%d", i)
		for _, amount := range []string{"2", "3"} {
			event := creditdomain.CreditEvent{
				ID:             node.Generate(),
				EventType:      creditdomain.EventTypeSkillCall,
				UpstreamType:   creditdomain.UpstreamTypeExecutor,
				AgentID:        "agent-1",
				CreditType:     creditdomain.CreditTypeFree,
				TotalAmount:    dec(t, amount),
				BaseAmount:     dec(t, amount),
				StartMessageID: &startMessage,
				CreatedAt:      now.Add(-time.Hour),
			}
			require.NoError(t, db.Create(&event).Error)
		}
	}

	got, err := newTestService(t, db).AgentActionCost(context.Background(), "agent-1")
	require.NoError(t, err)
	require.True(t, got.Avg.Equal(dec(t, "5")), "avg %s", got.Avg)
	require.True(t, got.Min.Equal(dec(t, "5")))
	require.True(t, got.Max.Equal(dec(t, "5")))
}

func TestAgentActionCostIgnoresOutOfScopeEvents(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	costs := make([]string, 10)
	for i := range costs {
		costs[i] = "5"
	}
	seedActions(t, db, node, "agent-1", costs)

	now := time.Now().UTC()
	oldMessage, apiMessage := "old", "api"
	outOfScope := []creditdomain.CreditEvent{
		// Outside the window.
		{ID: node.Generate(), EventType: creditdomain.EventTypeMessage, UpstreamType: creditdomain.UpstreamTypeExecutor,
			AgentID: "agent-1", CreditType: creditdomain.CreditTypeFree, TotalAmount: dec(t, "100"), BaseAmount: dec(t, "100"),
			StartMessageID: &oldMessage, CreatedAt: now.AddDate(0, 0, -10)},
		// Wrong upstream.
		{ID: node.Generate(), EventType: creditdomain.EventTypeMessage, UpstreamType: creditdomain.UpstreamTypeAPI,
			AgentID: "agent-1", CreditType: creditdomain.CreditTypeFree, TotalAmount: dec(t, "100"), BaseAmount: dec(t, "100"),
			StartMessageID: &apiMessage, CreatedAt: now.Add(-time.Hour)},
		// No start message.
		{ID: node.Generate(), EventType: creditdomain.EventTypeMessage, UpstreamType: creditdomain.UpstreamTypeExecutor,
			AgentID: "agent-1", CreditType: creditdomain.CreditTypeFree, TotalAmount: dec(t, "100"), BaseAmount: dec(t, "100"),
			CreatedAt: now.Add(-time.Hour)},
	}
	for i := range outOfScope {
		require.NoError(t, db.Create(&outOfScope[i]).Error)
	}

	got, err := newTestService(t, db).AgentActionCost(context.Background(), "agent-1")
	require.NoError(t, err)
	require.True(t, got.Max.Equal(dec(t, "5")), "max %s", got.Max)
}

func TestUpdateAllAgentActionCosts(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	for _, owner := range []struct {
		ownerType creditdomain.OwnerType
		ownerID   string
	}{
		{creditdomain.OwnerTypeAgent, "agent-1"},
		{creditdomain.OwnerTypeAgent, "agent-2"},
		{creditdomain.OwnerTypeUser, "u1"},
	} {
		account := creditdomain.CreditAccount{
			ID:        node.Generate(),
			OwnerType: owner.ownerType,
			OwnerID:   owner.ownerID,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, db.Create(&account).Error)
	}

	costs := make([]string, 10)
	for i := range costs {
		costs[i] = "5"
	}
	seedActions(t, db, node, "agent-1", costs)

	svc := newTestService(t, db)
	updated, err := svc.UpdateAllAgentActionCosts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, updated)

	var busy quotadomain.AgentQuota
	require.NoError(t, db.First(&busy, "id = ?", "agent-1").Error)
	require.True(t, busy.AvgActionCost.Equal(dec(t, "5")), "avg %s", busy.AvgActionCost)

	var idle quotadomain.AgentQuota
	require.NoError(t, db.First(&idle, "id = ?", "agent-2").Error)
	require.True(t, idle.AvgActionCost.Equal(dec(t, "1")))

	var userQuota quotadomain.AgentQuota
	err = db.First(&userQuota, "id = ?", "u1").Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// Upsert path: a second run overwrites in place.
	updated, err = svc.UpdateAllAgentActionCosts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, updated)
	var count int64
	require.NoError(t, db.Model(&quotadomain.AgentQuota{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}
