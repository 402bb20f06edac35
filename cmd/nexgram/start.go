package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexgram/nexgram/internal/diag"
	"github.com/nexgram/nexgram/internal/sched"
	"github.com/nexgram/nexgram/pkg/client"
	"github.com/nexgram/nexgram/pkg/tl"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the client as a daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger()

			cl, err := client.New(cfg, client.Options{
				Logger:     logger,
				AppVersion: version,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := cl.Connect(ctx); err != nil {
				return err
			}

			var diagSrv *diag.Server
			if cfg.Diagnostics.Addr != "" {
				diagSrv = diag.New(diag.Config{
					Addr:   cfg.Diagnostics.Addr,
					Source: cl,
					Logger: logger,
				})
				if err := diagSrv.Start(); err != nil {
					cl.Disconnect(context.Background())
					return err
				}
			}

			scheduler := sched.NewScheduler(logger)
			jobs := []sched.Job{
				&sched.SessionAutosaveJob{
					Source:       cl,
					Store:        cl.Storage(),
					Logger:       logger,
					ScheduleExpr: cfg.Maintenance.AutosaveSpec,
				},
				&sched.SaltRefreshJob{
					Invoker:      rawInvoker{cl},
					Apply:        cl.ApplySalt,
					Logger:       logger,
					ScheduleExpr: cfg.Maintenance.SaltRefreshSpec,
				},
			}
			for _, j := range jobs {
				if err := scheduler.RegisterJob(j); err != nil {
					return err
				}
			}
			if err := scheduler.Start(); err != nil {
				return err
			}

			go watchGaps(ctx, cl, logger)

			logger.Info("nexgram running", "version", version)
			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = scheduler.Stop(shutdownCtx)
			if diagSrv != nil {
				_ = diagSrv.Stop(shutdownCtx)
			}
			return cl.Disconnect(shutdownCtx)
		},
	}
}

// watchGaps reseeds the update position whenever the router reports a
// sequence gap. The router only signals; recovery policy lives here.
func watchGaps(ctx context.Context, cl *client.Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.Updates().Gap():
			logger.Warn("update gap detected, refetching state")
			state, err := cl.UpdatesGetState(ctx)
			if err != nil {
				logger.Warn("update state refetch failed", "error", err)
				continue
			}
			cl.Updates().SetSeq(state.Seq)
		}
	}
}

// rawInvoker adapts the client to the scheduler's invoker shape.
type rawInvoker struct {
	cl *client.Client
}

func (r rawInvoker) Invoke(ctx context.Context, req tl.Object) ([]byte, error) {
	return r.cl.InvokeRaw(ctx, req)
}
