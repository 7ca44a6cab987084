package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/farelis/tiendra/internal"
	"github.com/farelis/tiendra/internal/events"
	"github.com/farelis/tiendra/internal/mercadopago"
	"github.com/farelis/tiendra/internal/postgres"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// One-shot reconciliation job: registers missing provider plans and walks the
// provider's subscription buckets to repair any local drift. Intended to run
// from cron.
func main() {
	cfg, err := internal.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("sync failed")
	}
}

func run(cfg *internal.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	publisher, err := events.NewPublisher(cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer publisher.Close()

	mpClient := mercadopago.NewClient(mercadopago.Config{
		ClientID:      cfg.MercadoPago.ClientID,
		ClientSecret:  cfg.MercadoPago.ClientSecret,
		RedirectURI:   cfg.MercadoPago.RedirectURI,
		WebhookSecret: cfg.MercadoPago.WebhookSecret,
		AccessToken:   cfg.MercadoPago.AccessToken,
	}, logger)

	registry, err := provider.NewRegistry(map[string]provider.Entry{
		mercadopago.ProviderCode: {
			Payments:      mpClient,
			Subscriptions: mpClient,
			Webhooks:      mercadopago.NewSignatureVerifier(cfg.MercadoPago.WebhookSecret),
		},
	})
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	billingService := service.NewBillingService(
		registry,
		postgres.NewBillingStore(pool),
		postgres.NewPaymentsStore(pool),
		postgres.NewTenantStore(pool),
		publisher,
		cfg.FrontendURL,
		logger,
	)

	if err := billingService.SyncPlans(ctx, mercadopago.ProviderCode); err != nil {
		return fmt.Errorf("sync plans: %w", err)
	}

	synced, err := billingService.SyncActiveSubscriptions(ctx, mercadopago.ProviderCode)
	if err != nil {
		return fmt.Errorf("sync subscriptions: %w", err)
	}

	logger.Info().Int("synced", synced).Msg("reconciliation complete")
	return nil
}
