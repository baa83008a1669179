package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/intake/intake/internal/config"
	"github.com/intake/intake/internal/domain/patient"
	"github.com/intake/intake/internal/platform/analysis"
	"github.com/intake/intake/internal/platform/auth"
	"github.com/intake/intake/internal/platform/db"
	"github.com/intake/intake/internal/platform/middleware"
	"github.com/intake/intake/internal/platform/phi"
	"github.com/intake/intake/internal/platform/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Patient intake API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", applied)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.Status(ctx, pool)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied " + st.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%3d  %-30s %s\n", st.Version, st.Name, state)
			}
			return nil
		},
	})

	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a field encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := phi.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") != "production" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	codec, indexer, err := buildCrypto(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize field encryption")
	}

	engine := buildEngine(ctx, cfg, logger)

	analysisPool := worker.NewPool(cfg.AnalysisWorkers, cfg.AnalysisQueueDepth, logger)

	issuer, err := auth.NewIssuer(jwtSecret(cfg, logger), cfg.TokenTTL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize token issuer")
	}

	repo := patient.NewRepoPG(pool, codec, indexer)
	svc := patient.NewService(repo, codec, indexer, engine, analysisPool, logger)
	handler := patient.NewHandler(svc, issuer)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":        "ok",
			"version":       "0.1.0",
			"analysis_mode": engine.Mode().String(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	public := e.Group("/api/v1")
	api := e.Group("/api/v1", auth.Middleware(issuer))
	handler.RegisterRoutes(public, api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("mode", engine.Mode().String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Drain queued analysis tasks so no record is left pending forever.
	analysisPool.Shutdown()
	logger.Info().Msg("server stopped")
	return nil
}

// buildCrypto loads the field encryption key (explicit hex key first, key
// file otherwise) and the optional blind index key.
func buildCrypto(cfg *config.Config, logger zerolog.Logger) (*phi.Codec, *phi.BlindIndexer, error) {
	var key []byte
	var err error
	switch {
	case cfg.EncryptionKey != "":
		key, err = phi.ParseKey(cfg.EncryptionKey)
	case cfg.EncryptionKeyFile != "":
		key, err = phi.LoadOrCreateKeyFile(cfg.EncryptionKeyFile)
	}
	if err != nil {
		return nil, nil, err
	}

	codec, err := phi.NewCodec(key, logger)
	if err != nil {
		return nil, nil, err
	}

	var indexer *phi.BlindIndexer
	if cfg.BlindIndexKey != "" {
		raw, err := phi.ParseKey(cfg.BlindIndexKey)
		if err != nil {
			return nil, nil, fmt.Errorf("blind index key: %w", err)
		}
		indexer = phi.NewBlindIndexer(raw)
	} else {
		logger.Warn().Msg("no blind index key configured, email lookups fall back to a linear decrypt-and-scan")
	}
	return codec, indexer, nil
}

// buildEngine selects the analysis mode once at startup: model-backed when
// the completion backend is configured and reachable, rule-only otherwise.
// The mode is fixed for the process lifetime.
func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *analysis.Engine {
	rules := buildRules(cfg, logger)

	if !cfg.LLMEnabled {
		logger.Info().Msg("completion backend disabled, running rule-only analysis")
		return analysis.NewEngine(analysis.RuleOnly, nil, rules, logger)
	}

	backend, err := analysis.NewHTTPBackend(analysis.HTTPBackendConfig{
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		Timeout:   cfg.LLMTimeout(),
		MaxTokens: cfg.LLMMaxTokens,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("completion backend misconfigured, running rule-only analysis")
		return analysis.NewEngine(analysis.RuleOnly, nil, rules, logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("base_url", cfg.LLMBaseURL).
			Msg("completion backend unreachable, running rule-only analysis")
		return analysis.NewEngine(analysis.RuleOnly, nil, rules, logger)
	}

	logger.Info().Str("base_url", cfg.LLMBaseURL).Str("model", cfg.LLMModel).
		Msg("completion backend reachable, running model-backed analysis")
	return analysis.NewEngine(analysis.ModelBacked, backend, rules, logger)
}

func buildRules(cfg *config.Config, logger zerolog.Logger) *analysis.RuleEngine {
	if cfg.VocabularyFile == "" {
		return analysis.NewRuleEngine()
	}
	terms, err := analysis.LoadVocabularyFile(cfg.VocabularyFile)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.VocabularyFile).
			Msg("failed to load symptom vocabulary, using built-in terms")
		return analysis.NewRuleEngine()
	}
	logger.Info().Int("terms", len(terms)).Str("path", cfg.VocabularyFile).Msg("loaded symptom vocabulary")
	return analysis.NewRuleEngineWithVocabulary(terms)
}

func jwtSecret(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret)
	}
	logger.Warn().Msg("JWT_SECRET not set, using an insecure development secret")
	return []byte("intake-dev-secret")
}
