package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/solarquote/cotizador/internal/api"
	"github.com/solarquote/cotizador/internal/audit"
	"github.com/solarquote/cotizador/internal/app"
	"github.com/solarquote/cotizador/internal/catalog"
	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/observability"
	"github.com/solarquote/cotizador/internal/payments"
	"github.com/solarquote/cotizador/internal/platform/cache"
	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/shared"
	"github.com/solarquote/cotizador/internal/wizard"
	"github.com/solarquote/cotizador/jobs"
	"github.com/solarquote/cotizador/report"
)

const sessionCookie = "cotizador_session"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if *migrateOnly {
		if err := db.Migrate(cfg.PGDSN, cfg.MigrationsDir, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	taxRate := cfg.TaxRateDecimal()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	sessionManager := shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionTTL, cfg.IsProduction())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	clientService := clients.NewService(clients.NewRepository(pool), logger)
	catalogService := catalog.NewService(
		catalog.NewRepository(pool),
		cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL),
		auditLogger,
		logger,
	)
	quotationService := quotations.NewService(
		quotations.NewRepository(pool),
		quotations.Config{TaxRate: taxRate, Validity: cfg.QuotationValidity},
		auditLogger,
		logger,
	)

	gateway := payments.NewGateway(payments.GatewayConfig{
		BaseURL:    cfg.PaymentGatewayURL,
		MerchantID: cfg.PaymentMerchantID,
		APIKey:     cfg.PaymentAPIKey,
		SecretKey:  cfg.PaymentSecretKey,
		Currency:   cfg.Currency,
		Timeout:    cfg.PaymentTimeout,
	})
	paymentService := payments.NewService(payments.NewRepository(pool), gateway, idempotencyStore, auditLogger, metrics, logger)

	wizardService := wizard.NewService(
		wizard.NewRedisStore(redisClient),
		catalogService,
		wizard.NewBillStorage(cfg.MediaRoot, cfg.WizardMaxUploadBytes),
		wizard.NewFinalizer(wizard.PostgresTx(pool), quotationService),
		jobClient,
		metrics,
		wizard.Config{StateTTL: cfg.WizardStateTTL, TaxRate: taxRate},
		logger,
	)

	gotenberg := report.NewClient(cfg.GotenbergURL, 0)
	renderer, err := report.NewQuotationRenderer(gotenberg)
	if err != nil {
		logger.Error("init quotation renderer", slog.Any("error", err))
		os.Exit(1)
	}
	generator := report.NewGenerator(report.GeneratorConfig{
		Quotations: quotationService,
		Clients:    clientService,
		Renderer:   renderer,
		Observer:   metrics,
		MediaRoot:  cfg.MediaRoot,
		Company:    cfg.CompanyName,
		TaxRate:    taxRate,
		Location:   cfg.Location(),
		Logger:     logger,
	})

	verifier := api.NewVerifier(api.VerifierConfig{Secret: cfg.PHPAPISecret, MaxSkew: cfg.APISignatureMaxSkew}, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		SessionManager: sessionManager,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		ClientsHandler:    clients.NewHandler(clientService, logger),
		CatalogHandler:    catalog.NewHandler(catalogService, logger),
		QuotationsHandler: quotations.NewHandler(quotationService, logger),
		PaymentsHandler:   payments.NewHandler(paymentService, logger),
		ReportHandler:     report.NewHandler(generator, jobClient, gotenberg, logger),
		JobHandler:        jobs.NewHandler(inspector, logger),
		AuditHandler:      audit.NewHandler(audit.NewService(audit.NewRepository(pool)), logger),
		APIHandler:        api.NewHandler(quotationService, catalogService, clientService, verifier, logger),
		WizardHandler:     wizard.NewHandler(wizardService, cfg.WizardMaxUploadBytes, logger),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
