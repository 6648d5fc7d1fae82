package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"labcore/internal/adapters/intake"
	"labcore/internal/audit"
	"labcore/internal/config"
	"labcore/internal/core"
	"labcore/internal/metrics"
	"labcore/internal/platform/logger"
	"labcore/pkg/domain"
)

// runtime holds everything a command needs, built once from config.
type runtime struct {
	cfg       *config.Config
	log       *zap.Logger
	svc       *core.Service
	archive   *core.BlobArchive
	metrics   *metrics.Metrics
	expvar    *core.ExpvarMetricsRecorder
	publisher *audit.StreamPublisher
	redis     *redis.Client
	closers   []io.Closer
}

// open connects the backends named by cfg and assembles the service over
// them. A non-nil trace receives one JSON line per service operation.
func open(ctx context.Context, cfg *config.Config, log *zap.Logger, trace io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}
	opts := []core.ServiceOption{
		core.WithLocation(cfg.Location()),
		core.WithLogger(logger.NewKV(log.Named("core"))),
		core.WithMaxRetries(cfg.Service.MaxRetries),
	}

	store, closer, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine(nil))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.closers = append(rt.closers, closer)

	if rt.archive, err = core.OpenReportArchive(ctx, cfg.Blob); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open report archive: %w", err)
	}
	opts = append(opts, core.WithReportArchive(rt.archive))

	if cfg.Intake.BaseURL != "" {
		client, err := intake.NewClient(intake.Config{
			BaseURL: cfg.Intake.BaseURL,
			Token:   cfg.Intake.Token,
			Timeout: cfg.Intake.Timeout,
			Retries: cfg.Intake.Retries,
		})
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		opts = append(opts, core.WithSampleIntake(client))
	}

	recorders := audit.Fanout{audit.NewLogRecorder(log)}
	rt.redis, err = audit.NewRedisClient(ctx, audit.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rt.redis != nil {
		rt.closers = append(rt.closers, rt.redis)
		rt.publisher = audit.NewStreamPublisher(rt.redis, log, audit.Options{Stream: cfg.Redis.Stream, MaxLen: cfg.Redis.MaxLen})
		recorders = append(recorders, rt.publisher)
	}
	opts = append(opts, core.WithAuditRecorder(recorders))

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New()
		opts = append(opts, core.WithMetricsRecorder(rt.metrics))
	} else {
		rt.expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(rt.expvar))
	}
	if trace != nil {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(trace)))
	}

	rt.svc = core.NewService(store, opts...)
	log.Info("runtime ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", string(rt.archive.Driver())),
		zap.Bool("intake", cfg.Intake.BaseURL != ""),
		zap.Bool("audit_stream", rt.publisher != nil),
	)
	return rt, nil
}

// systemActor is the verified identity maintenance commands act as.
func (rt *runtime) systemActor() domain.Actor {
	return domain.SystemActor(rt.cfg.Service.SystemActor)
}

// Close releases every backend, newest first.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
