// Package main provides the entry point for the clinical-trial extractor HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/clinical-trial-extractor/internal/config"
	"github.com/helixir/clinical-trial-extractor/internal/database"
	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/extraction"
	"github.com/helixir/clinical-trial-extractor/internal/llm"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
	"github.com/helixir/clinical-trial-extractor/internal/outbox"
	"github.com/helixir/clinical-trial-extractor/internal/papersources/pubmed"
	"github.com/helixir/clinical-trial-extractor/internal/repository"
	httpserver "github.com/helixir/clinical-trial-extractor/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("service", "clinical-trial-extractor").Logger()
	logger.Info().Str("storage", cfg.Storage.Driver).Msg("clinical-trial-extractor server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	// Language model and extraction service.
	completer, err := llm.NewCompleter(llm.FactoryConfig{
		Provider: cfg.LLM.Provider,
		Options: llm.ProviderOptions{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			RetryDelay:  cfg.LLM.RetryDelay,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM completer: %w", err)
	}
	extractor := extraction.NewService(completer,
		extraction.WithLogger(logger),
		extraction.WithMetrics(metrics),
	)
	logger.Info().
		Str("provider", completer.Provider()).
		Str("model", completer.Model()).
		Msg("language model configured")

	pubmedClient := pubmed.New(pubmed.Config{
		BaseURL:           cfg.PubMed.BaseURL,
		APIKey:            cfg.PubMed.APIKey,
		Timeout:           cfg.PubMed.Timeout,
		RateLimit:         cfg.PubMed.RateLimit,
		MaxRetries:        cfg.PubMed.MaxRetries,
		DefaultMaxResults: cfg.PubMed.DefaultMaxResults,
	},
		pubmed.WithLogger(logger),
		pubmed.WithMetrics(metrics),
	)

	// Event publication.
	var publisher outbox.Publisher = outbox.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = outbox.NewKafkaPublisher(cfg.Kafka, logger)
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka event publishing enabled")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()
	notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), publisher, logger, metrics)

	httpCfg := httpserver.Config{
		Address:      cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}
	opts := []httpserver.Option{
		httpserver.WithLogger(logger),
		httpserver.WithMetrics(metrics),
		httpserver.WithNotifier(notifier),
		httpserver.WithReadinessCheck(store.ping),
	}
	if store.save != nil {
		opts = append(opts, httpserver.WithSaveFunc(store.save))
	}
	httpSrv := httpserver.NewServer(httpCfg, pubmedClient, extractor, store.articles, opts...)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.ReadTimeout,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	// Shut everything down once a signal arrives or a server fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down clinical-trial-extractor")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}
		return nil
	})

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("clinical-trial-extractor is ready")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("clinical-trial-extractor shutdown complete")
	return nil
}

// recordStore bundles the configured article repository with its lifecycle.
type recordStore struct {
	articles repository.ArticleRepository
	save     httpserver.SaveFunc
	ping     httpserver.ReadinessFunc
	close    func()
}

// openStore opens the repository selected by storage.driver. PostgreSQL runs
// pending migrations first when migration_auto_run is set.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*recordStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		if cfg.Database.MigrationAutoRun {
			if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}

		return &recordStore{
			articles: repository.NewPgArticleRepository(db),
			save: func(ctx context.Context, article *domain.Article) (*domain.Article, bool, error) {
				return repository.UpsertTx(ctx, db, article)
			},
			ping: func(ctx context.Context) error {
				if health := db.Health(ctx); !health.Healthy() {
					return errors.New(health.Error)
				}
				return nil
			},
			close: db.Close,
		}, nil

	case config.StorageDriverLevelDB:
		repo, err := repository.NewLevelDBArticleRepository(cfg.Storage.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("open leveldb store: %w", err)
		}
		logger.Info().Str("path", cfg.Storage.LevelDBPath).Msg("leveldb store opened")
		return &recordStore{
			articles: repo,
			ping:     repo.Ping,
			close: func() {
				if err := repo.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close leveldb store")
				}
			},
		}, nil

	case config.StorageDriverMemory:
		logger.Warn().Msg("using in-memory store; records are lost on restart")
		return &recordStore{
			articles: repository.NewMemoryArticleRepository(),
			ping:     func(context.Context) error { return nil },
			close:    func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
	}
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
