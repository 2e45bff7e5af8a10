package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/lead-sentinel/internal/cache"
	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/raaihank/lead-sentinel/internal/metrics"
	"github.com/raaihank/lead-sentinel/internal/server"
	"github.com/raaihank/lead-sentinel/internal/store"
	"github.com/raaihank/lead-sentinel/internal/tokens"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		envFile     = flag.String("env-file", ".env", "Path to .env file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthPort  = flag.Int("health-port", 8080, "Port used by -health-check")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lead-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthPort)
		return
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting lead-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	m := metrics.New("sentinel")

	var tokenService server.TokenService
	if cfg.Server.TokenService {
		svc, cleanup, err := buildTokenService(cfg, log, m)
		if err != nil {
			log.Fatal("Failed to initialize token service", zap.Error(err))
		}
		defer cleanup()
		tokenService = svc
	}

	srv, err := server.New(cfg, log, m, tokenService)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	err = config.Watch(func(newCfg *config.Config) {
		if err := srv.Detector().Reconfigure(newCfg.Privacy); err != nil {
			log.Warn("Ignoring privacy settings from reloaded config", zap.Error(err))
			return
		}
		log.Info("Configuration reloaded", zap.Strings("detectors", newCfg.Privacy.Detectors))
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})
	if err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return
		}

		log.Info("Server shutdown complete")
	}
}

// buildTokenService wires the Postgres store and the optional Redis cache
func buildTokenService(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*tokens.Service, func(), error) {
	st, err := store.NewStore(cfg.Database, log.WithComponent("store").Logger)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	cleanup := func() { st.Close() }

	var tokenCache tokens.Cache
	if cfg.Cache.Enabled {
		tc, err := cache.NewTokenCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Token cache unavailable, continuing without it", zap.Error(err))
		} else {
			tokenCache = tc
			cleanup = func() {
				tc.Close()
				st.Close()
			}
		}
	}

	return tokens.NewService(st, tokenCache, m, log.WithComponent("tokens").Logger), cleanup, nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
