package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibespan/automation-engine/internal/api"
	"github.com/vibespan/automation-engine/internal/auth"
	"github.com/vibespan/automation-engine/internal/capabilities"
	"github.com/vibespan/automation-engine/internal/config"
	"github.com/vibespan/automation-engine/internal/escalation"
	"github.com/vibespan/automation-engine/internal/executor"
	"github.com/vibespan/automation-engine/internal/feed"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/internal/mcp"
	"github.com/vibespan/automation-engine/internal/metrics"
	"github.com/vibespan/automation-engine/internal/registry"
	"github.com/vibespan/automation-engine/internal/rules"
	"github.com/vibespan/automation-engine/internal/scheduler"
	"github.com/vibespan/automation-engine/internal/tls"
	"github.com/vibespan/automation-engine/pkg/models"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "automation-engine",
		Short: "Wellness automation and orchestration engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to config file")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"workers", cfg.Engine.Workers,
		"tick_resolution", cfg.Engine.TickResolution,
		"config_file", viper.ConfigFileUsed(),
	)

	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger Client ID matches Backend Client ID. This will fail if Backend is a Web App (requires secret) and Swagger uses PKCE (no secret). Check your config.yaml.")
	}

	logger.Info("Starting Automation Engine")

	// Storage: Postgres when configured, in-memory otherwise.
	reg := registry.New()
	var led ledger.Ledger = ledger.NewMemoryLedger()
	if cfg.DB.Host != "" {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer dbPool.Close()

		store := registry.NewPostgresStore(dbPool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("tenant store migration failed: %w", err)
		}
		pgLedger := ledger.NewPostgresLedger(dbPool)
		if err := pgLedger.Migrate(ctx); err != nil {
			return fmt.Errorf("ledger migration failed: %w", err)
		}
		reg = reg.WithStore(store)
		led = pgLedger
		logger.Info("Database connected")
	} else {
		logger.Warn("No database configured; tenant config and execution history are in-memory only")
	}

	// Rule engine doubles as the registry's condition compiler.
	engine, err := rules.NewEngine(reg, logger)
	if err != nil {
		return fmt.Errorf("rule engine initialization failed: %w", err)
	}
	reg = reg.WithConditionCompiler(engine)

	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("tenant registry load failed: %w", err)
	}

	// Instrumentation.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	// Escalation and execution.
	notifier := escalation.NewLogNotifier(logger)
	alerts := escalation.NewManager(reg, notifier, logger).
		WithRaisedHook(m.AlertRaised)

	caps := capabilities.NewRegistry()
	capabilities.RegisterBuiltins(caps)

	exec := executor.New(reg, led, caps, alerts, logger).
		WithBackoff(executor.BackoffPolicy{
			Base:        cfg.Engine.BackoffBase,
			Max:         cfg.Engine.BackoffMax,
			MaxJitter:   250 * time.Millisecond,
			MaxAttempts: cfg.Engine.MaxAttempts,
		}).
		WithObserver(m)

	pool := executor.NewPool(exec, cfg.Engine.Workers, cfg.Engine.QueueDepth, logger)

	// Metric feed -> rule engine -> execution pool.
	adapter := feed.NewChannelAdapter(cfg.Engine.QueueDepth)
	pump := feed.NewPump(adapter, engine, pool, logger).
		WithAcceptedHook(m.TriggerAccepted)

	runCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	go func() {
		if err := pump.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("metric pump stopped", "error", err)
		}
	}()

	// Scheduler tick loop.
	sched := scheduler.New(reg, logger).WithWatermarks(reg)
	go sched.RunTicker(runCtx, cfg.Engine.TickResolution, func(ctx context.Context, event models.TriggerEvent) error {
		if err := pool.Submit(ctx, event); err != nil {
			m.QueueRejections.Inc()
			return err
		}
		m.TriggerAccepted(event.Source)
		return nil
	})

	// Escalation sweep loop; also refreshes the active-tenant gauge.
	refreshActiveTenants := func() {
		if tenants, err := reg.ListActive(runCtx); err == nil {
			m.ActiveTenants.Set(float64(len(tenants)))
		}
	}
	refreshActiveTenants()
	go func() {
		ticker := time.NewTicker(cfg.Escalation.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				alerts.CheckEscalations(runCtx, now)
				refreshActiveTenants()
			}
		}
	}()

	logger.Info("Engine loops started")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, reg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	healthHandler := api.NewHandler()
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(healthHandler.HandleHealth)))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	// Mount REST API handlers behind auth.
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterRoutes(apiGroup, api.NewServer(reg, led, alerts, adapter, pool, m, engine, logger))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(reg, led, pool)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(http.HandlerFunc(api.SpecHandler(cfg.Auth.OktaDomain))))
	e.GET("/docs", echo.WrapHandler(http.HandlerFunc(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID))))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Stop producers first, then drain in-flight executions.
		stopEngine()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Error("Worker pool shutdown error", "error", err)
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
