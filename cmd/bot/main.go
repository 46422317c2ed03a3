package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scottbott/scottbott/internal/config"
	"github.com/scottbott/scottbott/internal/conversation"
	"github.com/scottbott/scottbott/internal/gateway"
	"github.com/scottbott/scottbott/internal/httpapi"
	"github.com/scottbott/scottbott/internal/jobs"
	"github.com/scottbott/scottbott/internal/orchestrator"
	"github.com/scottbott/scottbott/internal/provider"
	"github.com/scottbott/scottbott/internal/reminder"
	"github.com/scottbott/scottbott/internal/router"
	"github.com/scottbott/scottbott/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") != "" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()
	if err := store.InitSchema(database); err != nil {
		logger.Fatal().Err(err).Msg("failed to init schema")
	}
	st := store.New(database)

	primary, secondary := buildTextProviders(ctx, cfg, logger)
	cheap, premium := buildImageProviders(cfg, logger)

	rt := router.New(router.Options{
		PrimaryText:    primary,
		SecondaryText:  secondary,
		CheapImage:     cheap,
		PremiumImage:   premium,
		CooldownWindow: cfg.CooldownWindow,
		Usage:          st,
		Logger:         logger,
	})

	discord := gateway.NewClient(cfg.DiscordAPIURL, cfg.DiscordToken, 30*time.Second, logger)

	engine := jobs.NewEngine(jobs.Options{
		Generator:      rt,
		Notifier:       gateway.NewNotifier(discord),
		DebounceWindow: cfg.DebounceWindow,
		HistoryCap:     cfg.JobHistoryCapacity,
		Logger:         logger,
	})

	convStore := conversation.NewStore(cfg.HistoryLength, cfg.ConversationIdle)
	builder := conversation.NewBuilder(convStore, cfg.HistoryBudget, cfg.SystemPrompt)
	reminders := reminder.NewService(st, discord, logger)

	orc := orchestrator.New(orchestrator.Options{
		TriggerWord: cfg.TriggerWord,
		BotUserID:   cfg.BotUserID,
		TextTimeout: cfg.TextTimeout,
		Builder:     builder,
		Store:       convStore,
		Router:      rt,
		Engine:      engine,
		Reminders:   reminders,
		Prefs:       st,
		Messenger:   discord,
		Logger:      logger,
	})

	api := httpapi.NewServer(rt, engine, convStore, logger)
	mux := http.NewServeMux()
	mux.Handle("/events/", gateway.InboundHandler(orc, logger))
	mux.Handle("/", api.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		orc.Run(gctx, orchestrator.SweepOptions{ReminderSweep: cfg.ReminderSweepPeriod})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown failed")
		}
		engine.Close()
		engine.Wait()
		return nil
	})

	logger.Info().Str("trigger", cfg.TriggerWord).Msg("scottbott started")
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("bot exited with error")
	}
	logger.Info().Msg("scottbott stopped")
}

// buildTextProviders constructs whichever text adapters have credentials and
// orders them per the configured primary. A missing secondary just means no
// failover target.
func buildTextProviders(ctx context.Context, cfg config.BotConfig, logger zerolog.Logger) (primary, secondary provider.TextProvider) {
	var gemini, sonar provider.TextProvider

	if cfg.GeminiAPIKey != "" {
		p, err := provider.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init gemini")
		}
		gemini = p
	}
	if cfg.PerplexityAPIKey != "" {
		p, err := provider.NewSonarProvider(cfg.PerplexityAPIKey, cfg.PerplexityBaseURL, cfg.PerplexityModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init perplexity")
		}
		sonar = p
	}

	if cfg.PrimaryTextProvider == "gemini" && gemini != nil {
		return gemini, sonar
	}
	if sonar != nil {
		return sonar, gemini
	}
	return gemini, nil
}

// buildImageProviders returns the cheap and premium image adapters; either
// may be nil when unconfigured.
func buildImageProviders(cfg config.BotConfig, logger zerolog.Logger) (cheap, premium provider.ImageProvider) {
	if cfg.HuggingFaceAPIKey != "" {
		p, err := provider.NewHuggingFaceProvider(cfg.HuggingFaceAPIKey, cfg.HuggingFaceModel, cfg.ImageTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init huggingface")
		}
		cheap = p
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := provider.NewDalleProvider(cfg.OpenAIAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init dalle")
		}
		premium = p
	}
	return cheap, premium
}
