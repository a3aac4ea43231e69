// Package shipcmd is the CLI entry point for the ship peer.
package shipcmd

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Polqt/shipproxy/internal/config"
	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/ship"
)

// Run parses args and starts the ship peer. Subcommands: run (default),
// inspect, version.
func Run(args []string) error {
	if len(args) == 0 {
		return runShip(os.Args[0], nil)
	}
	switch args[0] {
	case "run":
		return runShip(os.Args[0], args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "version":
		fmt.Println("shipproxy-ship v0.1.0")
		return nil
	default:
		return fmt.Errorf("unknown command %q — try: run, inspect, version", args[0])
	}
}

func runShip(progName string, args []string) error {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)
	configPath := fs.String("config", "ship.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadShip(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := obs.NewLogger("ship")
	metrics := obs.NewMetrics("ship")

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The link and the worker outlive the signal so the drain below can
	// still use the link; they stop when runShip returns.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	linkMgr := ship.NewLinkManager(cfg.OffshoreHost, cfg.OffshorePort, cfg.ReconnectBackoff, log, metrics)
	go linkMgr.Run(workCtx)

	queue := ship.NewQueue()
	worker := ship.NewWorker(queue, linkMgr, log, metrics)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workCtx)
		close(workerDone)
	}()

	frontEnd := ship.NewFrontEnd(queue, log, metrics)

	go func() {
		if err := obs.ServeAdmin(ctx, cfg.AdminAddr, metrics, log); err != nil {
			log.Error("admin server failed", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- frontEnd.Serve(listener) }()

	log.Info("ship listening", "addr", cfg.ListenAddr, "offshore", fmt.Sprintf("%s:%d", cfg.OffshoreHost, cfg.OffshorePort))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining in-flight exchanges")
	listener.Close()
	queue.Close()

	select {
	case <-workerDone:
		log.Info("drain complete")
	case <-time.After(5 * time.Second):
		log.Warn("drain timed out after 5s, exiting")
	}
	return nil
}

// runInspect does not fetch metrics itself; it only prints the URL of the
// admin HTTP server's /metrics endpoint.
func runInspect(args []string) error {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath := fs.String("config", "ship.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadShip(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	fmt.Printf("inspect is deprecated — curl http://%s/metrics instead\n", cfg.AdminAddr)
	return nil
}
