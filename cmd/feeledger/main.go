package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/backdue"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	"github.com/smallbiznis/feeledger/internal/demandbill"
	"github.com/smallbiznis/feeledger/internal/feeconfig"
	"github.com/smallbiznis/feeledger/internal/ledger"
	"github.com/smallbiznis/feeledger/internal/ledgerquery"
	"github.com/smallbiznis/feeledger/internal/locking"
	"github.com/smallbiznis/feeledger/internal/migration"
	"github.com/smallbiznis/feeledger/internal/observability"
	"github.com/smallbiznis/feeledger/internal/reminder"
	"github.com/smallbiznis/feeledger/internal/roster"
	"github.com/smallbiznis/feeledger/internal/scheduler"
	"github.com/smallbiznis/feeledger/internal/server"
	"github.com/smallbiznis/feeledger/pkg/db"
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
		locking.Module,

		// Functional Domains
		roster.Module,
		feeconfig.Module,
		ledger.Module,
		backdue.Module,
		demandbill.Module,
		ledgerquery.Module,
		reminder.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
