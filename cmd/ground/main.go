// Command ground runs the ground station: the command authority, the
// telemetry link poller and the operator journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/satlink/internal/api"
	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/internal/config"
	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/ground"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides ground.addr)")
	metricsAddr := flag.String("metrics", "", "Optional dedicated address for Prometheus /metrics")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "ground:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Ground.Addr = addr
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		return fmt.Errorf("no operator credentials configured")
	}

	proc, err := runtime.New(ctx, "ground", cfg)
	if err != nil {
		return err
	}
	defer proc.Close()
	log := proc.Log
	proc.ServeMetrics(metricsAddr)

	forwarder, err := proc.Forwarder()
	if err != nil {
		return err
	}
	journal := ground.NewJournal(cfg.Ground.JournalCapacity, forwarder, log.With(logging.String("component", "journal")), nil)

	client := events.NewHTTPClient(cfg.Ground.ConnectTimeout, cfg.Ground.ReadTimeout)
	auth := authority.New(
		authority.NewHTTPUplink(cfg.Ground.CommandURL, client, nil),
		authority.WithCredentials(creds),
		authority.WithPublisher(journal),
		authority.WithLogger(log.With(logging.String("component", "authority"))),
		authority.WithMetrics(proc.Metrics),
		authority.WithOverrideUses(cfg.Ground.OverrideUses),
		authority.WithHistoryCapacity(cfg.Ground.HistoryCapacity),
	)

	link := ground.NewLink(cfg.Ground.TelemetryURL,
		ground.WithHTTPClient(client),
		ground.WithInterval(cfg.Ground.PollInterval),
		ground.WithJournal(journal),
		ground.WithLinkLogger(log.With(logging.String("component", "link"))),
		ground.WithLinkMetrics(proc.Metrics),
	)
	proc.Go("link", link.Run)

	log.Info(ctx, "ground station ready",
		logging.String("telemetry_url", cfg.Ground.TelemetryURL),
		logging.String("command_url", cfg.Ground.CommandURL),
		logging.Duration("poll_interval", cfg.Ground.PollInterval),
		logging.Int("operators", len(creds)),
	)

	srv := api.NewGroundServer(auth, link, journal, api.WithLogger(log), api.WithMetrics(proc.Metrics))
	srv.SetJournalTail(cfg.Ground.JournalTail)
	return proc.Serve(cfg.Ground.Addr, srv.Handler())
}
