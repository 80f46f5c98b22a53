package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oktagraph/syncengine/internal/config"
	"github.com/oktagraph/syncengine/internal/fetcher"
	"github.com/oktagraph/syncengine/internal/metadata"
	"github.com/oktagraph/syncengine/internal/oktaclient"
	"github.com/oktagraph/syncengine/internal/orchestrator"
	"github.com/oktagraph/syncengine/internal/synccontrol"
	"github.com/oktagraph/syncengine/internal/version"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncengine").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	metaStore, err := metadata.Open(ctx, cfg.MetadataDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to metadata store")
	}
	defer metaStore.Close()

	vm, err := version.New(cfg.GraphDBDir, cfg.KeepVersions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize version manager")
	}

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build Okta authenticator")
	}

	client := oktaclient.NewClient(cfg.OrgURL, auth, cfg.RequestTimeout, cfg.MaxPages, oktaclient.NoopProgressSink{})
	f := fetcher.New(client, cfg)
	orch := orchestrator.New(f, vm, metaStore, cfg)
	control := synccontrol.New(orch, metaStore)

	log.Info().Str("tenant", cfg.TenantID).Str("org", cfg.OrgURL).Msg("syncengine starting")

	if envBool("SYNC_ON_STARTUP", true) {
		syncID, status, err := control.StartSync(ctx, cfg.TenantID)
		if err != nil {
			log.Error().Err(err).Msg("failed to start initial sync")
		} else {
			log.Info().Int64("syncId", syncID).Str("status", status).Msg("initial sync requested")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown requested, cancelling any in-flight sync")
	status := control.CancelSync(cfg.TenantID)
	log.Info().Str("status", status).Msg("cancellation signaled")

	shutdownDeadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(shutdownDeadline) {
		rec, err := control.GetStatus(context.Background(), cfg.TenantID)
		if err != nil || rec == nil || rec.Status == metadata.StatusComplete || rec.Status == metadata.StatusFailed || rec.Status == metadata.StatusCanceled {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	log.Info().Msg("syncengine stopped")
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE"
}

// buildAuthenticator selects the API-token or OAuth2 client-credential
// strategy per cfg.TokenMethod, mirroring config.Validate's own switch.
func buildAuthenticator(cfg *config.Config) (oktaclient.Authenticator, error) {
	switch cfg.TokenMethod {
	case config.AuthMethodAPIToken:
		return &oktaclient.APITokenAuthenticator{Token: cfg.APIToken}, nil
	case config.AuthMethodOAuth2:
		return &oktaclient.OAuth2Authenticator{
			OrgURL:        cfg.OrgURL,
			ClientID:      cfg.OAuth2ClientID,
			PrivateKeyPEM: cfg.OAuth2PrivateKey,
			Scopes:        cfg.OAuth2Scopes,
		}, nil
	default:
		return nil, config.ErrInvalidTokenMethod
	}
}
