package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/apperr"
	"github.com/adonese/bizpilot/auth"
	"github.com/adonese/bizpilot/automation"
	"github.com/adonese/bizpilot/cache"
	"github.com/adonese/bizpilot/csvdata"
	"github.com/adonese/bizpilot/customers"
	"github.com/adonese/bizpilot/email"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/home"
	"github.com/adonese/bizpilot/llm"
	"github.com/adonese/bizpilot/ml"
	"github.com/adonese/bizpilot/notion"
	"github.com/adonese/bizpilot/reports"
	"github.com/adonese/bizpilot/store"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// server holds everything a running process owns.
type server struct {
	app       *fiber.App
	store     *store.Store
	scheduler *email.Scheduler
}

func openStore(ctx context.Context, cfg fields.AppConfig, logger *logrus.Logger) (*store.Store, error) {
	db, err := store.OpenFromConfig(cfg.DatabaseURL, cfg.SQLitePath, cfg.DatabaseDriver, store.Pool{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st := store.New(db, store.WithDataKey(cfg.DataKey), store.WithLogger(logger))
	if err := st.Seed(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	logger.WithFields(logrus.Fields{"driver": db.Driver, "db": store.MaskPassword(cfg.DatabaseURL)}).Info("database ready")
	return st, nil
}

func newServer(ctx context.Context, cfg fields.AppConfig, logger *logrus.Logger, sampling gateway.LogSamplingConfig) (*server, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	kv := cache.New(ctx, cfg.RedisURL, logger)
	app, scheduler, err := buildApp(cfg, st, kv, logger, sampling)
	if err != nil {
		_ = st.DB.Close()
		return nil, err
	}
	return &server{app: app, store: st, scheduler: scheduler}, nil
}

// buildApp wires every service onto a fiber app. The scheduler is returned stopped.
func buildApp(cfg fields.AppConfig, st *store.Store, kv cache.Cache, logger *logrus.Logger, sampling gateway.LogSamplingConfig) (*fiber.App, *email.Scheduler, error) {
	db, err := st.Gorm()
	if err != nil {
		return nil, nil, fmt.Errorf("gorm: %w", err)
	}

	var redisClient *redis.Client
	if r, ok := kv.(*cache.Redis); ok {
		redisClient = r.Client
	}
	limiter, err := gateway.NewLimiter(cfg.LLMRateMin, redisClient)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	jwtAuth := gateway.NewJWTAuth(cfg.SecretKey)
	adminCfg := gateway.AdminAuthConfig{
		Key:          cfg.AdminKey,
		User:         cfg.AdminUser,
		PasswordHash: cfg.AdminPasswordHash,
		Debug:        cfg.IsDebug,
	}
	admin := gateway.RequireAdmin(adminCfg)
	// mail and token updates stay open until admin credentials exist
	var sendGuard fiber.Handler
	if cfg.AdminKey != "" || (cfg.AdminUser != "" && cfg.AdminPasswordHash != "") {
		sendGuard = admin
	}

	llmClient := llm.New(cfg.OllamaHost, cfg.OllamaModel, logger)
	segments := customers.New(st, logger)
	mailSvc := &email.Service{
		Repo:      &email.Repo{DB: db},
		Customers: st,
		Segments:  segments,
		Mailer:    email.NewMailer(cfg, logger),
		Logger:    logger,
		Now:       time.Now,
	}
	scheduler, err := email.NewScheduler(mailSvc, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("email scheduler: %w", err)
	}
	csvSvc := &csvdata.Service{
		Repo:     st,
		LLM:      llmClient,
		Cache:    kv,
		Folder:   cfg.UploadFolder,
		MaxRows:  cfg.MaxCSVRows,
		MaxBytes: cfg.MaxUploadBytes(),
		Logger:   logger,
	}
	chat := &llm.Service{Client: llmClient, Logger: logger}
	predictor := &ml.Service{Predictor: ml.NewPredictor(cfg.MLModelPath), Logger: logger}

	app := fiber.New(fiber.Config{
		Views:                 home.Engine(),
		BodyLimit:             int(cfg.MaxUploadBytes()) + 1<<20,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})
	app.Use(gateway.RequestID())
	app.Use(gateway.RequestLogger(logger, sampling))
	app.Use(gateway.Instrumentation())
	app.Use(gateway.Cors(cfg.Cors))

	(&home.Handler{Version: version, Model: cfg.OllamaModel}).Mount(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", jwtAuth.OptionalAuth())
	csvSvc.Mount(api.Group("/csv"))
	segments.Mount(api.Group("/customers"))
	mailSvc.Mount(api.Group("/email"), sendGuard)

	chatGroup := api.Group("/llm", gateway.RateLimit(limiter, logger))
	chatGroup.Post("/chat", chat.Chat)
	chatGroup.Post("/chat/stream", chat.ChatStream)
	api.Post("/ml/predict", predictor.Predict)

	automation.New(&automation.Repo{DB: db}, llmClient, cfg.OllamaModel, logger).Mount(api.Group("/business-automation"))
	notion.New(&notion.Repo{DB: db}, st.Tokens, cfg, logger).Mount(api.Group("/notion"), sendGuard)
	reports.New(st, logger).Mount(api.Group("/reports"))
	(&auth.Service{DB: db, Auth: jwtAuth, Logger: logger}).Mount(api.Group("/auth"), admin)

	return app, scheduler, nil
}

// errorHandler renders errors that escape a handler, including fiber's own 404 and 405.
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return apperr.Respond(c, apperr.New(strings.ReplaceAll(strings.ToLower(http.StatusText(fe.Code)), " ", "_"), fe.Code, fe.Message))
		}
		if _, ok := apperr.As(err); !ok {
			gateway.Entry(c, logger).WithError(err).Error("unhandled error")
		}
		return apperr.Respond(c, err)
	}
}

// run serves until ctx is cancelled, then drains in-flight requests. A bind failure is returned
// immediately so the process exits non-zero.
func (s *server) run(ctx context.Context, addr string, logger *logrus.Logger) error {
	s.scheduler.Start()
	errc := make(chan error, 1)
	go func() {
		errc <- s.app.Listen(addr)
	}()
	logger.WithField("addr", addr).Info("listening")

	var listenErr error
	select {
	case err := <-errc:
		listenErr = fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	s.scheduler.Stop(shutdownCtx)
	if err := s.store.DB.Close(); err != nil {
		logger.WithError(err).Warn("close database")
	}
	return listenErr
}
