package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	"github.com/smallbiznis/muanapay/internal/migration"
	"github.com/smallbiznis/muanapay/internal/observability"
	"github.com/smallbiznis/muanapay/internal/scheduler"
	"github.com/smallbiznis/muanapay/internal/seed"
	"github.com/smallbiznis/muanapay/internal/server"
	"github.com/smallbiznis/muanapay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the domains behind it
		server.Module,

		// Bootstrap data and background jobs
		seed.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
