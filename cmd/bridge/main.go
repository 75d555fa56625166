package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/lifecycle"
	"github.com/ble-mcp-test/ble-bridge/internal/logger"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
	"github.com/ble-mcp-test/ble-bridge/internal/mcptool"
	"github.com/ble-mcp-test/ble-bridge/internal/server"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "bridge.yaml", "path to YAML config")
	addr := flag.String("addr", "", "listen address override (host:port)")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP diagnostics on stdio instead of HTTP")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ring := logring.New(cfg.LogRing.Capacity)
	tr := transport.Transport(transport.NewMock())
	mutex := lifecycle.NewMutex(log, ring)
	monitor := lifecycle.NewMonitor(tr, cfg.Lifecycle)
	bridge := lifecycle.New(cfg.Lifecycle, mutex, monitor, ring, tr, log)

	srv := server.New(bridge, ring, cfg.Server, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MCP.Enabled {
		diag := mcptool.New(bridge, ring, log)
		switch {
		case *mcpStdio, cfg.MCP.Transport == "stdio":
			go func() {
				if err := diag.ServeStdio(); err != nil {
					log.Error("mcp stdio server stopped", "error", err)
				}
			}()
		default:
			srv.RegisterHTTPRoute(cfg.MCP.HTTPPath, diag.HTTPHandler())
		}
	}

	ring.Infof("bridge starting on %s", cfg.Server.Addr)
	return srv.Start(ctx)
}
