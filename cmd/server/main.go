package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/api"
	"github.com/org/sitepanel/internal/audit"
	"github.com/org/sitepanel/internal/auth"
	"github.com/org/sitepanel/internal/content"
	"github.com/org/sitepanel/internal/ratelimit"
	"github.com/org/sitepanel/internal/storage"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("SITEPANEL_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg, found, err := loadConfig(cfgFile, os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !found {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.AdminPasswordHash == "" {
		log.Warn().Msg("admin_password_hash is not set - login is disabled until it is configured (see panelctl hash-password)")
	}

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer store.Close()
	log.Info().Str("driver", store.Name()).Msg("storage ready")

	srv := api.NewServer(api.Config{
		ListenAddr:   cfg.ListenAddr,
		TLSCertFile:  cfg.TLSCertFile,
		TLSKeyFile:   cfg.TLSKeyFile,
		PasswordHash: cfg.AdminPasswordHash,
		CookieSecure: cfg.CookieSecure,
		TrustProxy:   cfg.TrustProxy,
		Sections:     cfg.Sections,
		LoginLimit:   cfg.LoginLimit,
		APILimit:     cfg.APILimit,
		StorageName:  store.Name(),
	}, api.Deps{
		Sessions: auth.NewSessionManager(store, cfg.SessionTTL, nil),
		Content:  content.NewStore(store, cfg.ContentCacheTTL, nil),
		Limiter:  ratelimit.New(),
		Auditor:  audit.NewLogger(log.Logger),
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
