package bootstrap

import (
	"context"
	"strings"
	"time"

	"triage_server/adapter/in/http"
	"triage_server/adapter/out/session"
	"triage_server/config"
	"triage_server/core/port/out"
	"triage_server/core/service/batch"
	"triage_server/infra/middleware"
	"triage_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const limiterPruneInterval = 10 * time.Minute

// NewAPI builds the HTTP app. launcher receives submitted batches: the local
// pool in single-process mode, the Redis stream otherwise.
func NewAPI(deps *Dependencies, launcher out.BatchLauncher) (*fiber.App, func(), error) {
	cfg := deps.Config
	ctx, cancel := context.WithCancel(context.Background())

	// Workers in other processes publish progress on Redis; feed it into
	// the local hub so streams here see it.
	if cfg.Mode != config.ModeAll && deps.Redis != nil {
		go func() {
			if err := session.Relay(ctx, deps.Redis, deps.Hub, logger.Component("progress_relay")); err != nil {
				logger.WithError(err).Error("Progress relay stopped")
			}
		}()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	// event streams must not be buffered for compression
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/stream")
		},
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	checks := make(map[string]http.HealthChecker)
	for name, fn := range deps.HealthChecks() {
		checks[name] = http.CheckFunc(fn)
	}
	http.NewHealthHandler(checks, deps.Stats).Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	submitLimiter := middleware.NewUserRateLimiter(cfg.SubmitRateLimit, cfg.SubmitRateWindow)
	go func() {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				submitLimiter.Prune(limiterPruneInterval)
			}
		}
	}()

	batchService := batch.NewService(batchConfig(cfg), batch.ServiceDeps{
		Store:      deps.Store,
		Repository: deps.Repository,
		Launcher:   launcher,
		Notifier:   deps.Notifier,
		Log:        logger.Component("batch"),
	})

	triageHandler := http.NewTriageHandler(http.TriageHandlerDeps{
		Batch:     batchService,
		Scorer:    deps.Scorer,
		Meeting:   deps.Meeting,
		Mail:      deps.GmailProvider,
		Progress:  deps.Hub,
		Heartbeat: cfg.StreamHeartbeat,
		MaxBatch:  cfg.BatchMaxEmails,
		Defaults:  deps.Preferences,
		Log:       logger.Component("http"),
	})
	triageHandler.Register(api, submitLimiter.Handler())

	logger.Info("API routes registered (mode=%s)", cfg.Mode)
	return app, cancel, nil
}
