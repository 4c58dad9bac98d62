// Command monitor runs the monitoring tier: log and alert ingest plus the
// connection-rate detector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/satlink/internal/api"
	"github.com/signalsfoundry/satlink/internal/config"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/monitor"
	"github.com/signalsfoundry/satlink/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides monitor.addr)")
	metricsAddr := flag.String("metrics", "", "Optional dedicated address for Prometheus /metrics")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Monitor.Addr = addr
	}

	proc, err := runtime.New(ctx, "monitoring", cfg)
	if err != nil {
		return err
	}
	defer proc.Close()
	log := proc.Log
	proc.ServeMetrics(metricsAddr)

	mon := monitor.New(monitor.Config{
		LogCapacity:   cfg.Monitor.LogCapacity,
		AlertCapacity: cfg.Monitor.AlertCapacity,
		RateWindow:    cfg.Monitor.RateWindow,
		RateLimit:     cfg.Monitor.RateLimit,
	},
		monitor.WithLogger(log.With(logging.String("component", "monitor"))),
		monitor.WithMetrics(proc.Metrics),
	)
	proc.Go("summary", func(ctx context.Context) { mon.RunSummary(ctx, cfg.Monitor.SummaryInterval) })

	if cfg.Monitor.NATSURL != "" {
		conn, err := proc.DialNATS(cfg.Monitor.NATSURL)
		if err != nil {
			return err
		}
		if _, err := mon.SubscribeNATS(conn, cfg.Monitor.NATSSubject); err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Monitor.NATSSubject, err)
		}
		log.Info(ctx, "ingesting events from NATS",
			logging.String("url", cfg.Monitor.NATSURL),
			logging.String("subject", cfg.Monitor.NATSSubject),
		)
	}

	log.Info(ctx, "monitor ready",
		logging.Duration("rate_window", cfg.Monitor.RateWindow),
		logging.Int("rate_limit", cfg.Monitor.RateLimit),
	)

	srv := api.NewMonitorServer(mon, api.WithLogger(log), api.WithMetrics(proc.Metrics))
	return proc.Serve(cfg.Monitor.Addr, srv.Handler())
}
