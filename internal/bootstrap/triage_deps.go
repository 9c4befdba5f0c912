package bootstrap

import (
	"context"
	"fmt"
	"time"

	"triage_server/adapter/out/mongodb"
	"triage_server/adapter/out/persistence"
	"triage_server/adapter/out/provider"
	"triage_server/adapter/out/realtime"
	"triage_server/adapter/out/session"
	"triage_server/config"
	"triage_server/core/agent/llm"
	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/batch"
	"triage_server/core/service/meeting"
	"triage_server/core/service/priority"
	"triage_server/core/service/schedule"
	"triage_server/infra/database"
	"triage_server/pkg/httputil"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
	"triage_server/pkg/ratelimit"
	"triage_server/pkg/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds the infrastructure and services shared by the API and
// the worker.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool // nil for sqlite
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Stores
	Store      out.ProgressStore
	Repository out.ClassificationRepository
	Archive    out.SessionArchive

	// Progress fan-out. Hub serves local streams; Notifier is what services
	// publish to.
	Hub      *realtime.ProgressHub
	Notifier out.ProgressNotifier

	// Providers
	GmailProvider    *provider.GmailAdapter
	CalendarProvider *provider.GoogleCalendarAdapter

	// Services
	Classifier   out.Classifier
	Orchestrator *batch.Orchestrator
	Scorer       *priority.Scorer
	Meeting      *meeting.Service
	Latency      *metrics.LatencyRegistry

	Preferences domain.UserPreferences
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Latency: metrics.GlobalRegistry()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	prefs, err := cfg.DefaultPreferences()
	if err != nil {
		return fail(err)
	}
	deps.Preferences = prefs

	// Database (sqlx for the repository, pgxpool for health checks)
	sqlDB, err := database.NewSQL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	if err := persistence.Migrate(ctx, sqlDB); err != nil {
		return fail(fmt.Errorf("failed to migrate: %w", err))
	}
	deps.Repository = persistence.NewClassificationRepository(sqlDB)
	logger.Info("Classification repository ready (%s)", persistence.DialectOf(sqlDB))

	if !database.IsSQLite(cfg.DatabaseURL) {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
		if err != nil {
			logger.Warn("pgx pool unavailable, health checks use sqlx: %v", err)
		} else {
			deps.DB = pool
			cleanups = append(cleanups, pool.Close)
		}
	}

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			if cfg.Mode != config.ModeAll {
				return fail(err)
			}
			logger.Warn("Redis connection failed, using in-memory sessions: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	// MongoDB
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, sessions will not be archived: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mongoClient.Disconnect(ctx)
			})

			archive := mongodb.NewSessionArchive(mongoClient.Database(cfg.MongoDBName), cfg.ArchiveTTL)
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure archive indexes: %v", err)
			}
			deps.Archive = archive
		}
	}

	// Progress sessions
	deps.Hub = realtime.NewProgressHub(logger.Component("progress_hub"))
	cleanups = append(cleanups, deps.Hub.Close)
	if deps.Redis != nil {
		deps.Store = session.NewRedisStore(deps.Redis, cfg.SessionTTL)
	} else {
		deps.Store = session.NewMemoryStore()
	}
	if cfg.Mode == config.ModeAll {
		deps.Notifier = deps.Hub
	} else {
		// api instances relay the channel back into their hub
		deps.Notifier = session.NewRedisNotifier(deps.Redis)
	}

	// Providers. Access tokens come with each request; the client
	// credentials are only needed to refresh them.
	oauthConfig := provider.NewGoogleOAuthConfig(provider.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	deps.GmailProvider = provider.NewGmailAdapter(oauthConfig, logger.Component("gmail"))
	deps.CalendarProvider = provider.NewGoogleCalendarAdapter(oauthConfig)

	// Classifier
	inner, err := llm.NewClassifier(cfg.LLMProvider, llm.ClassifierConfig{
		APIKey:      cfg.LLMAPIKey(),
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		BaseURL:     cfg.LLMBaseURL,
		HTTPClient:  httputil.LLMClient(),
	})
	if err != nil {
		return fail(err)
	}
	breaker := resilience.DefaultBreakerConfig("")
	breaker.ConsecutiveFailures = uint32(cfg.LLMBreakerFails)
	breaker.OpenTimeout = time.Duration(cfg.LLMBreakerOpenSec) * time.Second
	deps.Classifier = llm.NewGuardedClassifier(inner, llm.GuardConfig{
		Limits: ratelimit.Config{
			MaxConcurrent:     cfg.LLMMaxConcurrent,
			RequestsPerSecond: cfg.LLMRequestsPerSec,
		},
		Breaker: breaker,
	}, deps.Latency, logger.Component("llm"))
	logger.Info("LLM classifier configured (provider=%s)", inner.Name())

	// Services
	deps.Scorer = priority.NewScorer(nil)
	deps.Orchestrator = batch.NewOrchestrator(batchConfig(cfg), batch.OrchestratorDeps{
		Store:      deps.Store,
		Classifier: deps.Classifier,
		Scorer:     deps.Scorer,
		Repository: deps.Repository,
		Notifier:   deps.Notifier,
		Archive:    deps.Archive,
		Latency:    deps.Latency,
		Log:        logger.Component("batch"),
	})
	deps.Meeting = meeting.NewService(
		meeting.NewDetector(nil, prefs.WorkingHours.Location()),
		schedule.NewSuggester(schedule.NewBusyAvailability(deps.CalendarProvider), nil),
	)

	return deps, cleanup, nil
}

func batchConfig(cfg *config.Config) batch.Config {
	return batch.Config{
		MaxEmails:     cfg.BatchMaxEmails,
		Concurrency:   cfg.BatchConcurrency,
		ItemTimeout:   cfg.BatchItemTimeout,
		ItemDelay:     cfg.BatchItemDelay,
		MaxRetries:    cfg.BatchMaxRetries,
		RetryBackoff:  cfg.BatchRetryBackoff,
		AverageWindow: cfg.BatchAverageWindow,
	}
}

// HealthChecks returns the pingable stores by name.
func (d *Dependencies) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"database": d.SQLDB.PingContext,
	}
	if d.DB != nil {
		checks["postgres_pool"] = d.DB.Ping
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	if d.MongoDB != nil {
		checks["mongodb"] = func(ctx context.Context) error { return d.MongoDB.Ping(ctx, nil) }
	}
	return checks
}

// Stats returns runtime counters for the readiness endpoint.
func (d *Dependencies) Stats() map[string]any {
	stats := map[string]any{
		"progress_hub": d.Hub.Metrics(),
	}
	latency := make(map[string]any)
	for name, s := range d.Latency.AllStats() {
		latency[name] = s.ToMap()
	}
	stats["latency"] = latency
	if d.DB != nil {
		stats["postgres_pool"] = database.GetPoolStats(d.DB)
	}
	stats["http_clients"] = httputil.GetAllPoolStats()
	return stats
}
