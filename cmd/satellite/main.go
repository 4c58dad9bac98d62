// Command satellite runs the spacecraft tier: the command executor, the
// telemetry endpoints and the orbit tracker.
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
	"github.com/signalsfoundry/satlink/internal/runtime"
	"github.com/signalsfoundry/satlink/internal/satellite"
	"github.com/signalsfoundry/satlink/kb"
	"github.com/signalsfoundry/satlink/orbit"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides satellite.addr)")
	metricsAddr := flag.String("metrics", "", "Optional dedicated address for Prometheus /metrics")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "satellite:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Satellite.Addr = addr
	}

	proc, err := runtime.New(ctx, "satellite", cfg)
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

	elems, err := loadElements(cfg.Satellite.TLEFile)
	if err != nil {
		return err
	}
	catalogue := kb.NewCatalogue()
	tracker, err := orbit.NewTracker(catalogue, elems, nil, log.With(logging.String("component", "orbit")))
	if err != nil {
		return fmt.Errorf("orbit tracker: %w", err)
	}
	proc.Go("orbit", func(ctx context.Context) { tracker.Run(ctx, cfg.Satellite.OrbitRefresh) })

	exec := satellite.NewExecutor(
		satellite.WithPublisher(forwarder),
		satellite.WithLogger(log.With(logging.String("component", "executor"))),
		satellite.WithMetrics(proc.Metrics),
		satellite.WithReplayPolicy(cfg.ReplayPolicy()),
		satellite.WithLocalLogCapacity(cfg.Satellite.LocalLogCapacity),
	)
	telemetry := satellite.NewTelemetry(nil, catalogue, exec, nil)

	log.Info(ctx, "satellite ready",
		logging.String("replay_policy", cfg.Satellite.ReplayPolicy),
		logging.Int("tracked", tracker.Tracked()),
		logging.Int("spacecraft", catalogue.Len()),
	)

	srv := api.NewSatelliteServer(exec, telemetry, api.WithLogger(log), api.WithMetrics(proc.Metrics))
	return proc.Serve(cfg.Satellite.Addr, srv.Handler())
}

func loadElements(path string) ([]orbit.Element, error) {
	if path == "" {
		return orbit.DefaultElements(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open TLE file: %w", err)
	}
	defer f.Close()
	elems, err := orbit.ParseTLE(f)
	if err != nil {
		return nil, fmt.Errorf("parse TLE file %s: %w", path, err)
	}
	return elems, nil
}
