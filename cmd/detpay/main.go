package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/detpay/internal/clientstore"
	"github.com/gaspardpetit/detpay/internal/config"
	"github.com/gaspardpetit/detpay/internal/logx"
	"github.com/gaspardpetit/detpay/internal/metrics"
	"github.com/gaspardpetit/detpay/internal/server"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

const (
	sweepInterval = time.Minute
	// drainGrace lets load balancers observe the failing health check before
	// the listener closes.
	drainGrace = 5 * time.Second
)

// configFlag returns the --config value from args, if any, so the file can be
// loaded before the remaining flags are bound.
func configFlag(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			return args[i+1], true
		}
		for _, p := range []string{"--config=", "-config="} {
			if strings.HasPrefix(a, p) {
				return strings.TrimPrefix(a, p), true
			}
		}
	}
	return "", false
}

// openStore builds the client configuration store served at /clients/{id}.
func openStore(ctx context.Context, cfg config.GatewayConfig) (clientstore.Store, error) {
	var store clientstore.Store
	switch {
	case cfg.RedisAddr != "":
		rs, err := clientstore.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logx.Log.Info().Str("addr", clientstore.Redact(cfg.RedisAddr)).Msg("using redis client store")
		store = rs
	case cfg.ClientsFile != "":
		store = clientstore.NewMemoryStore()
	default:
		return nil, nil
	}
	if cfg.ClientsFile != "" {
		n, err := clientstore.LoadFile(ctx, store, cfg.ClientsFile)
		if err != nil {
			return nil, fmt.Errorf("load clients: %w", err)
		}
		logx.Log.Info().Int("clients", n).Str("path", cfg.ClientsFile).Msg("client configurations loaded")
	}
	return store, nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.GatewayConfig
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	if p, ok := configFlag(os.Args[1:]); ok {
		cfg.ConfigFile = p
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "detpay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	cfg.Finalize()
	if *showVersion {
		fmt.Printf("detpay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	// cfg now reflects defaults <- file <- env <- args
	logx.Configure(cfg.LogLevel)

	preg := prometheus.NewRegistry()
	metrics.Register(preg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("client store")
	}

	gw, err := server.New(cfg, server.Options{Store: store, Gatherer: preg})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("build gateway")
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: gw, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		gw.Drain()
		logx.Log.Info().Dur("grace", drainGrace).Msg("draining; send SIGTERM again to terminate immediately")
		select {
		case <-sigCh:
			logx.Log.Warn().Msg("termination requested")
		case <-time.After(drainGrace):
		}
		cancel()
	}()
	go gw.Run(ctx, sweepInterval)
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
		if c, ok := store.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	logx.Log.Info().Int("port", cfg.Port).Str("config_endpoint", cfg.ConfigEndpoint).Msg("gateway starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-ctx.Done()
}
