// Package app wires the whole service together: config, logger, store,
// model client, safety screener, gate, alert hub, HTTP surface. There are
// no package-level singletons; everything flows through constructors.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reframe/internal/alert"
	"reframe/internal/api"
	"reframe/internal/archive"
	"reframe/internal/config"
	"reframe/internal/counseling"
	"reframe/internal/gate"
	"reframe/internal/llm"
	"reframe/internal/profile"
	"reframe/internal/safety"
	"reframe/internal/server"
	"reframe/internal/store"
)

type App struct {
	server  *server.Server
	store   store.Store
	llm     llm.Client
	hubStop context.CancelFunc
	log     *zap.Logger
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.DatabaseURL == "" {
		log.Warn("no DATABASE_URL set, using in-memory store")
	}

	client, err := newLLMClient(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}

	hubCtx, hubStop := context.WithCancel(context.Background())
	hub := alert.NewHub(st, nil, log.Named("alert"))
	go hub.Run(hubCtx)

	screener := safety.NewScreener(client, st, log.Named("safety"),
		safety.WithNotifier(hub),
		safety.WithTimeout(cfg.Gemini.Timeout))

	profiles := profile.New(st, log.Named("profile"))
	usageGate := gate.New(st, cfg.DailyLimit, log.Named("gate"))

	opts := []counseling.Option{counseling.WithTimeout(cfg.Gemini.Timeout)}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3Archiver(archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Warn("report archive disabled", zap.Error(err))
		} else {
			opts = append(opts, counseling.WithArchiver(archiver))
			log.Info("report archive enabled",
				zap.String("bucket", cfg.Archive.Bucket),
				zap.String("endpoint", cfg.Archive.Endpoint))
		}
	}
	svc := counseling.New(st, client, profiles, log.Named("counseling"), opts...)

	handler := api.NewHandler(svc, screener, usageGate, profiles, client, hub, log.Named("api"))
	srv := server.New(cfg.Port, handler.Routes(cfg.JWTSecret, cfg.AllowedOrigins), log)

	return &App{
		server:  srv,
		store:   st,
		llm:     client,
		hubStop: hubStop,
		log:     log,
	}, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newLLMClient builds the Gemini client with retry and request pacing, or
// the deterministic fake when no API key is configured.
func newLLMClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (llm.Client, error) {
	if cfg.Gemini.APIKey == "" {
		if !cfg.IsLocal() {
			return nil, fmt.Errorf("GEMINI_API_KEY is required outside local mode")
		}
		log.Warn("no GEMINI_API_KEY set, using canned fake replies")
		return llm.NewFake(), nil
	}
	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		MaxTokens:   cfg.Gemini.MaxTokens,
	}, log.Named("gemini"))
	if err != nil {
		return nil, err
	}
	return llm.Wrap(gemini,
		llm.RateLimit(cfg.Gemini.RPS, 1),
		llm.Retry(3, 500*time.Millisecond),
	), nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.hubStop()
	err := a.server.Shutdown(ctx)
	if cerr := a.llm.Close(); cerr != nil {
		a.log.Warn("model client close failed", zap.Error(cerr))
	}
	if serr := a.store.Close(); serr != nil {
		a.log.Warn("store close failed", zap.Error(serr))
	}
	a.log.Sync()
	return err
}
