package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aschepis/memvault/metrics"
	"github.com/aschepis/memvault/reaper"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	var (
		metricsAddr string
		schedule    string
		noReaper    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the expiry reaper and the /metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr != "" {
				a.cfg.Metrics.Addr = metricsAddr
			}
			if schedule != "" {
				a.cfg.Reaper.Enabled = true
				a.cfg.Reaper.Schedule = schedule
			}
			if noReaper {
				a.cfg.Reaper.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (overrides config)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Enable the reaper with this schedule (cron or duration)")
	cmd.Flags().BoolVar(&noReaper, "no-reaper", false, "Disable the reaper")
	return cmd
}

// serve runs until ctx is done.
func (a *app) serve(ctx context.Context) error {
	a.logger.Info().
		Str("db", a.cfg.Database.Path).
		Bool("reaper", a.cfg.Reaper.Enabled).
		Str("metricsAddr", a.cfg.Metrics.Addr).
		Msg("memvault serve starting")

	collectors := []prometheus.Collector{
		metrics.NewCollector(a.comps.Index, a.comps.Aggregator, a.logger, 5*time.Second),
	}

	if a.cfg.Reaper.Enabled {
		r, err := reaper.New(a.svc, a.cfg.Reaper.Schedule, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create reaper: %w", err)
		}
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "memvault",
				Subsystem: "reaper",
				Name:      "runs_total",
				Help:      "Number of expiry purges run.",
			}, func() float64 { return float64(r.Runs()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "memvault",
				Subsystem: "reaper",
				Name:      "purged_total",
				Help:      "Number of expired memories purged.",
			}, func() float64 { return float64(r.Removed()) }),
		)
		r.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			r.Stop(stopCtx)
		}()
	}

	if a.cfg.Metrics.Addr != "" {
		reg, err := metrics.NewRegistry(collectors...)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		srv := metrics.NewServer(a.cfg.Metrics.Addr, reg, a.logger)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("Metrics endpoint shutdown failed")
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info().Msg("memvault serve shutting down")
	return nil
}
