package recorder

import (
	"context"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.recorder",
	fx.Provide(NewDirectRecorder),
	fx.Provide(NewRecorder),
	fx.Invoke(RunWorker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
	Direct    *DirectRecorder
}

func queueEnabled(cfg config.Config) bool {
	return cfg.AuditQueueEnabled && strings.TrimSpace(cfg.RedisAddr) != ""
}

func redisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	}
}

// NewRecorder picks the queued recorder when the audit queue is enabled and
// the direct one otherwise.
func NewRecorder(p Params) domain.Recorder {
	if !queueEnabled(p.Cfg) {
		return p.Direct
	}

	client := asynq.NewClient(redisOpt(p.Cfg))
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return NewQueueRecorder(client)
}

// RunWorker starts the asynq server consuming payment:record tasks.
func RunWorker(p Params) {
	if !queueEnabled(p.Cfg) {
		return
	}

	concurrency := p.Cfg.AuditQueueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(redisOpt(p.Cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueAudit: 1},
		Logger:      p.Log.Named("asynq").Sugar(),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypePaymentRecord, HandlePaymentRecord(p.Direct, p.Log))

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start(mux)
		},
		OnStop: func(ctx context.Context) error {
			srv.Shutdown()
			return nil
		},
	})
}
