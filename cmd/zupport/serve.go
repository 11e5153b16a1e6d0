package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		metricsAddr string
		poll        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, drain the job queue and serve metrics",
		Long: `Start the cron scheduler with the configured schedules, poll the job
queue for submitted jobs and expose Prometheus metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if metricsAddr == "" {
					metricsAddr = a.cfg.Metrics.Addr
				}
				return serve(ctx, a, metricsAddr, poll)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (default from config, empty disables)")
	cmd.Flags().DurationVar(&poll, "poll", 5*time.Second, "how often to drain the job queue, 0 disables polling")
	return cmd
}

func serve(ctx context.Context, a *app, metricsAddr string, poll time.Duration) error {
	logger := a.logger.With("component", "serve")

	if err := a.scheduler.Start(a.cfg.Schedules); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	errCh := make(chan error, 1)
	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics.", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var tick <-chan time.Time
	if poll > 0 {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-errCh:
			break loop
		case <-tick:
			if _, rerr := a.manager.RunJobs(ctx); rerr != nil && ctx.Err() == nil {
				logger.Error("Draining job queue failed.", "error", rerr)
			}
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
	}
	logger.Info("Stopped.")
	return err
}
