package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"pastebox/cfg"
	"pastebox/svc/api"
	"pastebox/svc/lim"
	"pastebox/svc/store"
	"pastebox/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck())
	}

	util.InitLog(os.Getenv("LOG_LEVEL"), false)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Fatal().Err(err).Msg("failed to read .env")
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastebox")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Path:          c.StoragePath,
		FlushDelay:    c.FlushDelay,
		SweepInterval: c.SweepInterval,
		MaxIDAttempts: c.IDMaxAttempts,
		MaxPasteSize:  c.MaxPasteSize,
	})
	if err != nil {
		util.Fatal().Err(err).Str("path", c.StoragePath).Msg("failed to open store")
	}
	util.Info().
		Str("path", c.StoragePath).
		Int("pastes", st.Len()).
		Dur("flush_delay", c.FlushDelay).
		Dur("sweep_interval", c.SweepInterval).
		Msg("store opened")

	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.LimiterCacheSize, c.TrustedProxies)
	if err != nil {
		st.Close()
		util.Fatal().Err(err).Msg("failed to create rate limiter")
	}
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, st, limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		return nil
	})
	serveErr := g.Wait()
	if serveErr != nil {
		util.Error().Err(serveErr).Msg("server failed")
	}

	// Shutdown has drained in-flight requests, so nothing mutates the store
	// past this point.
	if err := st.Close(); err != nil {
		util.Error().Err(err).Msg("final snapshot failed")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
	if serveErr != nil {
		os.Exit(1)
	}
}

// healthcheck probes the local /health endpoint for container runtimes.
func healthcheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
