package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/quantfoundry/sigforge/internal/interfaces/http"
	"github.com/quantfoundry/sigforge/internal/provider"
)

func runServe(cmd *cobra.Command, args []string) error {
	serverCfg := cfg.Server
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		serverCfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		serverCfg.Port = port
	}

	cache, err := provider.OpenCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	client, err := provider.NewClient(cfg.Provider, cache)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}
	client.SetCacheTTL(cfg.Cache.GetTTL())

	server, err := httpapi.NewServer(serverCfg,
		httpapi.WithVersion(version, buildStamp),
		httpapi.WithProvider(client),
		httpapi.WithEngineDefaults(cfg.Engine),
	)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	client.SetMetricsCallback(server.Metrics().ProviderCallback())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
