package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"carwash/internal/activation"
	"carwash/internal/config"
	apierrors "carwash/internal/errors"
	"carwash/internal/infrastructure"
	"carwash/internal/middleware"
	"carwash/internal/services"
	"carwash/internal/storage/sqlite"
	handlers "carwash/internal/transport/http"
)

var (
	// Version is set at build time with -ldflags
	Version = "dev"
	// BuildTime is set at build time with -ldflags
	BuildTime = "unknown"
)

// Application is the activation server container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Services      *ServiceContainer

	KeyStore *activation.KeyStore
	Guard    *activation.AttemptGuard
	DB       *sql.DB

	ownsLogger bool
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Activation services.ActivationService
	Health     *services.HealthService
	Audit      *sqlite.ActivationRepository
}

// Option configures NewApplication
type Option func(*Application)

// WithLogger skips global logger initialization and uses logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.Logger = logger }
}

// WithKeyStore replaces the configured or embedded vendor key
func WithKeyStore(ks *activation.KeyStore) Option {
	return func(a *Application) { a.KeyStore = ks }
}

// NewApplication wires the server. A nil cfg loads configuration from file and environment.
func NewApplication(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	a := &Application{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
		a.ownsLogger = true
	}

	a.Logger.InfoContext(ctx, "application starting",
		slog.String("name", config.AppName),
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
	)

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry, Version), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	if err := a.initializeServices(ctx); err != nil {
		a.release(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config.Activation

	metrics, err := activation.InitializeActivationMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create activation metrics: %w", err)
	}

	if a.KeyStore == nil {
		keyOpts := []activation.KeyStoreOption{
			activation.WithKeyStoreLogger(a.Logger),
			activation.WithKeyStoreMetrics(metrics),
		}
		if cfg.PublicKeyBlob != "" {
			a.KeyStore = activation.NewKeyStore(cfg.PublicKeyBlob, cfg.PublicKeyChecksum, keyOpts...)
		} else {
			a.KeyStore = activation.NewEmbeddedKeyStore(keyOpts...)
		}
	}
	// A bad key does not stop the server: activations fail and readiness reports it
	if err := a.KeyStore.Load(ctx); err != nil {
		a.Logger.ErrorContext(ctx, "activation public key unusable",
			slog.String("error", err.Error()),
		)
	} else {
		a.Logger.InfoContext(ctx, "activation public key ready",
			slog.String("fingerprint", a.KeyStore.Fingerprint()),
		)
	}

	codec, err := activation.NewCodec(cfg.TokenFormat, cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	tokens := activation.NewTokenManager(codec,
		activation.WithValidity(cfg.TokenValidity),
		activation.WithTokenLogger(a.Logger),
		activation.WithTokenMetrics(metrics),
	)
	verifier := activation.NewVerifier(a.KeyStore, tokens, a.Logger)

	svcOpts := []services.ActivationOption{services.WithActivationMetrics(metrics)}

	var guardStats services.GuardStats
	if cfg.GuardEnabled {
		guardCfg := activation.DefaultGuardConfig()
		guardCfg.MaxFailedAttempts = cfg.MaxFailedAttempts
		guardCfg.Window = cfg.FailureWindow
		guardCfg.BlockDuration = cfg.BlockDuration
		a.Guard = activation.NewAttemptGuard(guardCfg,
			activation.WithGuardLogger(a.Logger),
			activation.WithGuardMetrics(metrics),
		)
		svcOpts = append(svcOpts, services.WithAttemptGuard(a.Guard))
		guardStats = a.Guard
	}

	a.Services = &ServiceContainer{}

	var pinger services.Pinger
	if a.Config.Storage.AuditEnabled {
		db, err := sqlite.InitDB(ctx, a.Config.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		a.DB = db
		a.Services.Audit = sqlite.NewActivationRepository(db)
		svcOpts = append(svcOpts, services.WithAuditStore(a.Services.Audit))
		pinger = a.Services.Audit
		a.Logger.InfoContext(ctx, "activation audit enabled",
			slog.String("path", a.Config.Storage.DatabasePath),
		)
	}

	a.Services.Activation = services.NewActivationService(verifier, tokens, a.Logger, svcOpts...)
	a.Services.Health = services.NewHealthService(Version, BuildTime, a.KeyStore, pinger, guardStats, a.Logger)
	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger)

	// RequestID → RealIP → OTel → Logger → Recoverer → Timeout
	r.Use(middleware.RequestID)
	if a.Config.Security.TrustProxy {
		r.Use(middleware.RealIP)
	}

	r.Group(func(r chi.Router) {
		otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.Logger))
		r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(middleware.DefaultSecureHeaders().Handler)

		if a.Config.Security.EnableCORS {
			r.Use(middleware.CORS(middleware.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				Logger:         a.Logger,
			}))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		a.setupAPIRoutes(r, errorHandler)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))
	}

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apierrors.ErrorHandler) {
	activationHandler := handlers.NewActivationHandler(a.Services.Activation, errorHandler, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)

	var historyGuards []func(http.Handler) http.Handler
	if key := a.Config.Security.AdminAPIKey; key != "" {
		historyGuards = append(historyGuards, middleware.APIKeyAuth(a.Logger, key))
	}

	r.Route("/api", func(r chi.Router) {
		r.With(
			middleware.ContentTypeValidator(errorHandler, "application/json"),
			middleware.NewBodyValidator(a.Logger, errorHandler, middleware.DefaultMaxBodySize).Handler,
		).Mount("/activation", activationHandler.Routes(historyGuards...))

		r.Mount("/health", healthHandler.Routes())
		r.Get("/version", healthHandler.Version)
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Run listens on the configured address and serves until SIGINT/SIGTERM or ctx ends
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "activation server listening",
			slog.String("address", ln.Addr().String()),
		)
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.performStartupHealthCheck(gctx)
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop shuts the server down and releases every resource. It is safe to call once.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.release(shutdownCtx)
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) release(ctx context.Context) {
	if a.Guard != nil {
		a.Guard.Close()
	}
	if a.KeyStore != nil {
		a.KeyStore.Wipe()
	}
	if a.DB != nil {
		if err := sqlite.CloseDB(a.DB); err != nil {
			a.Logger.ErrorContext(ctx, "error closing audit database", slog.String("error", err.Error()))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
	if a.ownsLogger {
		infrastructure.CloseLogFile()
	}
}

// performStartupHealthCheck logs readiness problems; it never fails startup
func (a *Application) performStartupHealthCheck(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := a.Services.Health.ReadinessCheck(ctx)
	if status.Status == "ready" {
		a.Logger.InfoContext(ctx, "startup health check passed")
		return
	}

	var warnings []string
	for name, svc := range status.Services {
		if sh, ok := svc.(services.ServiceHealth); ok && sh.Status == "not_ready" {
			warnings = append(warnings, name+": "+sh.Message)
		}
	}
	a.Logger.WarnContext(ctx, "startup health check warnings",
		slog.String("warnings", strings.Join(warnings, "; ")),
	)
}
