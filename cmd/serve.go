package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shiplog/shiplog/db"
	"github.com/shiplog/shiplog/internal/agent"
	"github.com/shiplog/shiplog/internal/api"
	"github.com/shiplog/shiplog/internal/catalog"
	"github.com/shiplog/shiplog/internal/config"
	"github.com/shiplog/shiplog/internal/conversation"
	"github.com/shiplog/shiplog/internal/llm"
	"github.com/shiplog/shiplog/internal/log"
	"github.com/shiplog/shiplog/internal/observability"
	"github.com/shiplog/shiplog/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Minute // streaming responses need a long deadline
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Shiplog HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides config")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{JSON: true})
	slog.SetDefault(logger)
	logger.Info("starting server", "version", AppVersion)

	stopTracing, err := observability.Setup(ctx, logger, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.TracingEnvironment,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := stopTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	convStore := conversation.NewStore(pool, logger)
	catStore := catalog.NewStore(pool, logger)

	executor, err := tools.NewExecutor(catStore, logger)
	if err != nil {
		return fmt.Errorf("creating tool executor: %w", err)
	}

	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:      cfg.ModelBaseURL,
		APIKey:       cfg.APIKey(),
		Model:        cfg.ModelName,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		RoundTimeout: time.Duration(cfg.RoundTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	orchestrator, err := agent.New(agent.Config{
		LLM:           llmClient,
		Tools:         executor,
		Logger:        logger,
		MaxIterations: cfg.MaxToolIterations,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Store:         convStore,
		Runner:        orchestrator,
		Pool:          pool,
		HMACSecret:    []byte(cfg.HMACSecret),
		AdminToken:    cfg.AdminToken,
		CORSOrigins:   cfg.CORSOrigins,
		IsDev:         cfg.PostgresSSLMode == "disable",
		TrustProxy:    cfg.TrustProxy,
		RateLimitRPS:  cfg.RateLimitRPS,
		RateBurst:     cfg.RateLimitBurst,
		MaxContextMsg: cfg.MaxContextMessages,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
