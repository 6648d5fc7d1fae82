package cli

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"labcore/internal/adapters/httpapi"
	"labcore/internal/scheduler"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the audit publisher and the scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime) error {
				ln, err := net.Listen("tcp", rt.cfg.HTTP.Addr)
				if err != nil {
					return err
				}
				return serve(ctx, rt, ln, !noScheduler)
			})
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the scheduled jobs in this process")
	return cmd
}

// serve runs every long-lived component until ctx is cancelled or one of
// them fails.
func serve(ctx context.Context, rt *runtime, ln net.Listener, withScheduler bool) error {
	cfg := rt.cfg
	opts := []httpapi.Option{
		httpapi.WithArchive(rt.archive),
		httpapi.WithLogger(rt.log.Named("http")),
	}
	if rt.publisher != nil {
		opts = append(opts, httpapi.WithAuditFeed(rt.publisher))
	}
	switch {
	case rt.metrics != nil:
		opts = append(opts, httpapi.WithMetrics(cfg.Metrics.Path, rt.metrics.Handler()))
	case rt.expvar != nil:
		opts = append(opts, httpapi.WithMetrics("/debug/vars", expvar.Handler()))
	}
	srv := &http.Server{
		Handler:      httpapi.New(rt.svc, opts...).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.Info("http server starting", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.log.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	})
	if rt.publisher != nil {
		g.Go(func() error { return rt.publisher.Run(gctx) })
	}
	if withScheduler && cfg.Scheduler.Enabled {
		sc := cfg.Scheduler
		if cfg.Intake.BaseURL == "" {
			sc.OrphanCleanup = ""
		}
		sched := scheduler.New(sc, rt.svc, rt.systemActor(), cfg.Location(), schedulerRecorder(rt), rt.log)
		if err := sched.Register(); err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}
	err := g.Wait()
	rt.log.Info("shutdown complete")
	return err
}

// schedulerRecorder avoids handing the scheduler a typed nil when
// Prometheus is disabled.
func schedulerRecorder(rt *runtime) scheduler.Recorder {
	if rt.metrics == nil {
		return nil
	}
	return rt.metrics
}
