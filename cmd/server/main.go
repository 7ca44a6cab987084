package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farelis/tiendra/internal"
	"github.com/farelis/tiendra/internal/crypto"
	"github.com/farelis/tiendra/internal/events"
	"github.com/farelis/tiendra/internal/handler"
	"github.com/farelis/tiendra/internal/mercadopago"
	"github.com/farelis/tiendra/internal/postgres"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/service"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := internal.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *internal.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the application itself uses pgx pools.
	migrationDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	if err := internal.RunMigrations(migrationDB); err != nil {
		migrationDB.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	migrationDB.Close()
	logger.Info().Msg("migrations applied")

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	key, err := encryptionKey(cfg, logger)
	if err != nil {
		return err
	}
	encryptor, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return fmt.Errorf("create encryptor: %w", err)
	}

	publisher, err := events.NewPublisher(cfg.NATS.URL, logger)
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer publisher.Close()

	telemetry.Init("tiendra")

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

	billingStore := postgres.NewBillingStore(pool)
	paymentsStore := postgres.NewPaymentsStore(pool)
	tenantStore := postgres.NewTenantStore(pool)
	idempotencyStore := postgres.NewIdempotencyStore(pool)

	ledger := service.NewIdempotencyService(idempotencyStore, logger)
	paymentsService := service.NewPaymentsService(registry, paymentsStore, tenantStore, encryptor, ledger, publisher, cfg.BackendURL, logger)
	billingService := service.NewBillingService(registry, billingStore, paymentsStore, tenantStore, publisher, cfg.FrontendURL, logger)

	e := handler.NewServer(handler.Deps{
		Webhooks: handler.NewWebhookHandler(paymentsService, billingService, registry, logger),
		Payments: handler.NewPaymentsHandler(paymentsService, cfg.FrontendURL, logger),
		Billing:  handler.NewBillingHandler(billingService, logger),
		Tenants:  tenantStore,
		Pool:     pool,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	return e.Shutdown(shutdownCtx)
}

// encryptionKey loads the vault key, falling back to an ephemeral one outside
// production so local development works without setup. Anything encrypted
// with an ephemeral key is unreadable after restart.
func encryptionKey(cfg *internal.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		return crypto.DecodeKeyBase64(cfg.EncryptionKey)
	}
	if cfg.Env == "prod" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	logger.Warn().Msg("ENCRYPTION_KEY not set, using ephemeral key")
	return crypto.GenerateKey()
}
