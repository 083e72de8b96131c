package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/sqlassist/internal/app"
	"github.com/malbeclabs/sqlassist/internal/logger"
	"github.com/malbeclabs/sqlassist/pkg/server"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:8000"
	defaultMetricsAddr     = "0.0.0.0:2112"
	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	showVersionFlag := flag.Bool("version", false, "show version and exit")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty disables)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", defaultShutdownTimeout, "Server shutdown timeout")

	var cfg app.Config
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *showVersionFlag {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}
	if err := app.ApplyEnv(flag.CommandLine); err != nil {
		return err
	}

	log := logger.New(*verboseFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsServerErrCh := make(chan error, 1)
	if *metricsAddrFlag != "" {
		server.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	a, err := app.Open(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("failed to open components: %w", err)
	}
	defer a.Close()

	orchestrator, err := a.Orchestrator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	srvCfg := server.Config{
		Pipeline:        orchestrator,
		Version:         version,
		ShutdownTimeout: *shutdownTimeoutFlag,
		TurnTimeout:     cfg.TurnTimeout,
	}
	if users := a.Users(); users != nil {
		srvCfg.Users = users
	}
	srv, err := server.New(log, srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	listener, err := net.Listen("tcp", *listenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	defer listener.Close()

	ctx, cancel = context.WithCancel(ctx)
	defer cancel()
	errCh := srv.Start(ctx, cancel, listener)

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		if err, ok := <-errCh; ok {
			return err
		}
		return nil
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
