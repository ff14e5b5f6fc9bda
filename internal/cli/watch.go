package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/metrics"
	"github.com/pfrederiksen/dpwh-projects/internal/tracker"
)

var (
	flagInterval    time.Duration
	flagMetricsAddr string
	flagTicks       int
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Advance the rotation on an interval and serve metrics",
		Long: `Scrape the next region in the rotation every interval until interrupted,
serving Prometheus metrics on /metrics and a health check on /healthz.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().DurationVar(&flagInterval, "interval", time.Hour, "Time between rotation ticks")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Metrics listen address (default: metrics.addr from config; \"off\" disables)")
	cmd.Flags().IntVar(&flagTicks, "ticks", 0, "Stop after this many ticks (0 runs until interrupted)")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	if flagInterval <= 0 {
		return fmt.Errorf("invalid interval: %s", flagInterval)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tracker()
	if err != nil {
		return err
	}
	n, err := a.newNotifier(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}

	addr := flagMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" && addr != "off" {
		srv := metrics.NewServer(addr, a.metrics)
		errCh := srv.Start()
		a.log.Info("Serving metrics", logger.Fields{"addr": addr})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := <-errCh; err != nil {
				a.log.Error("Metrics server stopped", logger.Fields{"addr": addr}, err)
			}
		}()
	}

	return watchLoop(ctx, t, a.log, flagInterval, flagTicks, func() { a.notifyChanges(ctx, n) })
}

// watchLoop ticks immediately and then every interval until ctx is done or
// maxTicks ticks have run. afterTick runs after every tick.
func watchLoop(ctx context.Context, t *tracker.Tracker, log *logger.Logger, interval time.Duration, maxTicks int, afterTick func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ticks := 1; ; ticks++ {
		region, result, err := t.AdvanceRotation(ctx)
		switch {
		case errors.Is(err, tracker.ErrBusy):
			log.Warn("Rotation tick skipped, another run holds the lease", nil)
		case err != nil:
			log.Error("Rotation tick failed", nil, err)
		default:
			log.Info("Rotation tick completed", logger.Fields{
				"region":  region.Name,
				"success": result.Success,
				"new":     result.NewProjects,
				"updated": result.UpdatedProjects,
				"missing": result.MissingProjects,
			})
		}
		afterTick()

		if maxTicks > 0 && ticks >= maxTicks {
			return nil
		}

		select {
		case <-ctx.Done():
			log.Info("Watch stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}
