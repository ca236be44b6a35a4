package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"

	"github.com/htheomoller/calmer-sub000/internal/adapters/provider"
	"github.com/htheomoller/calmer-sub000/internal/adapters/store"
	"github.com/htheomoller/calmer-sub000/internal/adapters/web"
	"github.com/htheomoller/calmer-sub000/internal/config"
	"github.com/htheomoller/calmer-sub000/internal/domain"
	"github.com/htheomoller/calmer-sub000/internal/usecases"
	"github.com/htheomoller/calmer-sub000/pkg/log"
	"github.com/htheomoller/calmer-sub000/pkg/log/transporters"
)

func main() {
	// Local development convenience; in production the env is real.
	_ = godotenv.Load()

	cfg, err := config.Load(envOr("ENGINE_CONFIG", "config/engine.yaml"))
	if err != nil {
		log.SetDefault(log.New(log.Info, transporters.NewStdout()))
		log.GlobalError("load config", "error", err)
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.Info
	}
	logger := log.New(level, transporters.NewStdout())
	log.SetDefault(logger)
	defer logger.Close()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." && cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.GlobalError("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := store.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.GlobalError("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if cfg.SeedDemoData {
		if err := seedDemoData(db); err != nil {
			log.GlobalError("seed demo data", "error", err)
			os.Exit(1)
		}
		log.GlobalInfo("demo data seeded", "post_id", "demo_post")
	}

	dispatchers := map[domain.Provider]provider.Dispatcher{
		domain.ProviderSandbox: provider.NewSandbox(),
	}
	if cfg.IGAccessToken != "" {
		dispatchers[domain.ProviderLive] = provider.NewLive(
			cfg.Engine.GraphAPIURL, cfg.IGAccessToken, cfg.Engine.DeliveryTimeout)
	}

	resolver := usecases.NewResolveSettingsUseCase(db)
	process := usecases.NewProcessCommentUseCase(
		resolver, db, db, db, db, dispatchers,
		cfg.Engine.RateLimitMax, cfg.Engine.RateWindow, cfg.Engine.DefaultTrigger,
	)

	handlers := web.NewHandlers(process, db, db, domain.Provider(cfg.DefaultProvider()))

	app := fiber.New(fiber.Config{
		AppName:      "Calmer Engine",
		ErrorHandler: web.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New(web.RequestIDConfig()))
	app.Use(web.RequestIDToContextMiddleware())
	app.Use(web.RequestLoggerMiddleware())

	web.SetupRoutes(app, handlers)

	go pruneDedupLoop(db, cfg.Engine)

	log.GlobalInfo("starting engine",
		"port", cfg.Port,
		"default_provider", cfg.DefaultProvider(),
		"rate_limit_max", cfg.Engine.RateLimitMax,
		"rate_window", cfg.Engine.RateWindow.String(),
	)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.GlobalError("server stopped", "error", err)
		os.Exit(1)
	}
}

// pruneDedupLoop periodically drops idempotency records past their
// retention horizon so the table does not grow without bound.
func pruneDedupLoop(db *store.SQLite, engine config.Engine) {
	ticker := time.NewTicker(engine.RateWindow)
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := db.PruneDedupRecords(ctx, time.Now().Add(-engine.DedupRetention()))
		cancel()
		if err != nil {
			log.GlobalError("prune dedup records", "error", err)
			continue
		}
		if n > 0 {
			log.GlobalDebug("pruned dedup records", "count", n)
		}
	}
}

// seedDemoData installs a demo account and an enabled post so the webhook
// can be exercised immediately after first boot.
func seedDemoData(db *store.SQLite) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	link := "https://example.com/demo-offer"
	if err := db.UpsertAccount(ctx, &domain.Account{
		ID:          "demo_account",
		IGUsername:  "calmerdemo",
		DefaultLink: &link,
	}); err != nil {
		return err
	}
	return db.UpsertPost(ctx, &domain.Post{
		ID:                "demo_post",
		AccountID:         "demo_account",
		AutomationEnabled: true,
		TriggerList:       []string{"LINK"},
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
