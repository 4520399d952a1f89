package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/invoice"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/lock"
	"github.com/smallbiznis/folio/internal/logger"
	"github.com/smallbiznis/folio/internal/migration"
	"github.com/smallbiznis/folio/internal/observability/metrics"
	"github.com/smallbiznis/folio/internal/payment"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/internal/revenue"
	revenuedomain "github.com/smallbiznis/folio/internal/revenue/domain"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		metrics.Module,
		lock.Module,

		// Functional Domains
		invoice.Module,
		payment.Module,
		revenue.Module,

		fx.Invoke(ready),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// ready forces construction of every engine service so wiring errors surface
// at boot rather than on first use.
func ready(log *zap.Logger, cfg config.Config, _ invoicedomain.Service, _ paymentdomain.Service, _ revenuedomain.Service) {
	log.Info("folio engine ready",
		zap.String("db_type", cfg.DBType),
		zap.Bool("audit_queue", cfg.AuditQueueEnabled),
		zap.Bool("build_lock", cfg.RedisAddr != ""),
	)
}
