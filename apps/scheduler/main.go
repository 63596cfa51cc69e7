package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/creditlabs/creditd/internal/actioncost"
	"github.com/creditlabs/creditd/internal/alert"
	"github.com/creditlabs/creditd/internal/checker"
	"github.com/creditlabs/creditd/internal/clock"
	"github.com/creditlabs/creditd/internal/config"
	"github.com/creditlabs/creditd/internal/credit"
	"github.com/creditlabs/creditd/internal/observability"
	"github.com/creditlabs/creditd/internal/quota"
	"github.com/creditlabs/creditd/internal/redis"
	"github.com/creditlabs/creditd/internal/scheduler"
	"github.com/creditlabs/creditd/pkg/db"
)

func main() {
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

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
