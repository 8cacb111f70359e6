package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"meditoken/internal/announce"
	"meditoken/internal/auth"
	"meditoken/internal/clinic"
	"meditoken/internal/config"
	"meditoken/internal/httpapi"
	"meditoken/internal/realtime"
	"meditoken/internal/store"
	"meditoken/internal/store/memory"
	"meditoken/internal/store/postgres"
	"meditoken/internal/telemetry"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type serveOptions struct {
	memory        bool
	migrate       bool
	adminPassword string
}

type backend interface {
	store.TokenStore
	store.DirectoryStore
}

func runServer(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(!opts.memory); err != nil {
		return err
	}
	logger := newLogger(cfg)

	shutdownTelemetry, err := telemetry.Setup(parent, telemetry.Config{
		ServiceName: "meditoken",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed; continuing without export")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st backend
	if opts.memory {
		mem := memory.NewStore()
		if err := seedDemo(ctx, mem, opts.adminPassword); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		logger.Warn().Msg("serving from the in-memory store; data is lost on exit")
		st = mem
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		if opts.migrate {
			count, err := postgres.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Msg("migrations applied")
		}
		pg := postgres.NewStore(pool, postgres.Options{Logger: logger.With().Str("component", "store").Logger()})
		defer pg.Close()
		st = pg
	}

	svc := clinic.NewService(st, st, clinicOptions(cfg, logger))
	defer svc.Shutdown()

	var authenticator httpapi.Authenticator
	if cfg.AuthEnabled() {
		authenticator = auth.NewService(st, cfg.AuthSecret, cfg.AuthTokenTTL)
	} else {
		logger.Warn().Msg("AUTH_SECRET not set; staff endpoints are open")
	}

	hub := realtime.NewHub(logger.With().Str("component", "realtime").Logger())
	bridge := realtime.NewBridge(hub, svc, logger.With().Str("component", "realtime").Logger())
	defer bridge.Close()
	rt := realtime.NewServer(hub, bridge, logger.With().Str("component", "realtime").Logger(), cfg.CORSOrigins)

	handler := httpapi.NewHandler(svc, st, httpapi.Options{Auth: authenticator, Logger: logger})
	mux := handler.Routes()
	mux.Handle("/realtime/", rt.SockJSHandler("/realtime"))
	mux.HandleFunc("GET /ws", rt.ServeWS)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.TenantRateLimitPerMinute,
		ClinicBurst:     cfg.TenantRateLimitBurst,
	})
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Sync-Error"},
	})
	stack := httpapi.LoggingMiddleware(logger, corsHandler.Handler(limiter.Middleware(handler.AuthMiddleware(mux))))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(stack, "meditoken"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: SockJS streaming responses stay open.
		IdleTimeout: 60 * time.Second,
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		runAnnouncer(workerCtx, cfg, st, svc, logger)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("meditoken listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancelWorker()
			<-workerDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	cancelWorker()
	<-workerDone
	logger.Info().Msg("meditoken stopped")
	return nil
}

// runAnnouncer voices calls for token-based clinics, including ones added
// while the server runs.
func runAnnouncer(ctx context.Context, cfg config.Config, directory store.DirectoryStore, svc *clinic.Service, logger zerolog.Logger) {
	announceLogger := logger.With().Str("component", "announce").Logger()
	provider := announce.NewProvider(announce.ProviderConfig{
		Kind:         cfg.AnnounceProvider,
		WebhookURL:   cfg.AnnounceWebhookURL,
		WebhookToken: cfg.AnnounceWebhookToken,
	}, announceLogger)
	worker := announce.New(svc, provider, announceLogger, announce.Config{
		ListTimeout: cfg.StoreTimeout,
		Rescan:      cfg.AnnounceRescan,
	})
	worker.Run(ctx, directory)
}
