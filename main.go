// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/javaarchive/telescope-proxy/pkg/ca"
	"github.com/javaarchive/telescope-proxy/pkg/config"
	"github.com/javaarchive/telescope-proxy/pkg/proxy"
	"github.com/javaarchive/telescope-proxy/pkg/resource"
	"github.com/javaarchive/telescope-proxy/pkg/watch"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	dataDir := resolveDataDir()
	cfg := config.TryLoadOrDefault(dataDir)

	if err := ensureCA(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare certificate authority")
	}

	_, configRx := watch.NewChannel(cfg)
	engine := proxy.New(configRx)

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdown(cancel)

	log.Info().
		Str("addr", cfg.Addr).
		Str("data_dir", dataDir).
		Msg("starting telescope proxy")

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("proxy exited with error")
	}

	log.Info().Msg("proxy stopped")
}

// resolveDataDir finds the directory the proxy reads its config and CA
// material from and writes a derived CA into. Discovering it is a host
// concern (spec leaves it unspecified beyond "injected by host at load
// time"); this binary takes it from DATA_DIR, falling back to the
// current working directory.
func resolveDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve working directory as data dir")
	}
	return cwd
}

// ensureCA derives a fresh root CA and persists it into cfg when the
// configured CA resources don't resolve to usable material yet — the
// first-run case a brand new data directory starts in.
func ensureCA(cfg *config.Config) error {
	_, keyErr := resource.ResolveAsString(cfg.CA.KeyPairResource(), cfg.DataDir)
	_, certErr := resource.ResolveAsString(cfg.CA.CertificateResource(), cfg.DataDir)
	if keyErr == nil && certErr == nil {
		return nil
	}

	keyPath, certPath, err := ca.Derive(cfg.DataDir)
	if err != nil {
		return err
	}
	cfg.AdoptDerivedCA(keyPath, certPath)
	if err := cfg.Save(); err != nil {
		return err
	}
	log.Info().Str("data_dir", cfg.DataDir).Msg("derived a new certificate authority")
	return nil
}

func waitForShutdown(cancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	log.Info().Msg("shutting down telescope proxy")
	cancel()
}
