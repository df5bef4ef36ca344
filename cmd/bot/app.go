package main

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/classifier"
	"github.com/xaenox/circle-bot/internal/engagement"
	"github.com/xaenox/circle-bot/internal/grouping"
	"github.com/xaenox/circle-bot/internal/prompts"
	"github.com/xaenox/circle-bot/internal/scheduler"
	"github.com/xaenox/circle-bot/internal/slackapi"
	"github.com/xaenox/circle-bot/internal/storage"
	"github.com/xaenox/circle-bot/pkg/config"
)

// app holds the wired components shared by serve and the event commands.
type app struct {
	store        storage.Storage
	messenger    slackapi.Messenger
	orchestrator *grouping.Orchestrator
	announcer    *prompts.Announcer
	scheduler    *scheduler.Scheduler
	tracker      *engagement.Tracker
}

func openStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}

	logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
	store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func newTokenSource(cfg config.SlackConfig, httpClient *http.Client, logger *zap.Logger) slackapi.TokenSource {
	if cfg.RefreshToken == "" {
		return slackapi.StaticToken(cfg.BotToken)
	}
	var expiresAt time.Time
	if cfg.TokenExpiresAt > 0 {
		expiresAt = time.Unix(cfg.TokenExpiresAt, 0)
	}
	return slackapi.NewRefreshingToken(slackapi.RefreshConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AccessToken:  cfg.BotToken,
		RefreshToken: cfg.RefreshToken,
		ExpiresAt:    expiresAt,
	}, httpClient, logger)
}

type classifiers struct {
	classifier classifier.Classifier
	generator  classifier.MetadataGenerator
	summarizer classifier.TopicSummarizer
}

// newClassifiers picks the OpenAI backend, which falls back to keyword
// grouping when the model call fails, or keyword matching alone.
func newClassifiers(cfg *config.Config, logger *zap.Logger) classifiers {
	keyword := classifier.NewKeywordClassifier(cfg.Classifier.MaxGroupSize)
	if cfg.Classifier.Provider == config.ProviderKeyword {
		logger.Info("Using keyword classifier")
		return classifiers{keyword, keyword, keyword}
	}

	logger.Info("Using OpenAI classifier", zap.String("model", cfg.OpenAI.Model))
	gpt := classifier.NewGPTClassifier(classifier.GPTConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		MaxTokens:      cfg.OpenAI.MaxTokens,
		Temperature:    cfg.OpenAI.Temperature,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
	}, keyword, logger)
	return classifiers{gpt, gpt, gpt}
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	tokens := newTokenSource(cfg.Slack, httpClient, logger.Named("slack"))
	messenger := slackapi.NewSlackMessenger(slackapi.Config{
		APIURL:         cfg.Slack.APIURL,
		RequestTimeout: cfg.Slack.RequestTimeout,
		Debug:          cfg.Slack.Debug,
	}, tokens, httpClient, logger.Named("slack"))

	cls := newClassifiers(cfg, logger.Named("classifier"))

	orchestrator := grouping.NewOrchestrator(store, cls.classifier, cls.generator, messenger, cfg.OpenAI.RequestTimeout, logger.Named("grouping"))

	recorder := prompts.NewRecorder(orchestrator, store, logger.Named("prompts"))
	sched := scheduler.New(store, store, recorder, scheduler.Config{
		CheckInterval: cfg.Scheduler.CheckInterval,
		StartupDelay:  cfg.Scheduler.StartupDelay,
		MinResponses:  cfg.Scheduler.MinResponses,
	}, logger.Named("scheduler"))

	engine := engagement.NewEngine(store, messenger, cls.summarizer, engagement.Config{
		MinScore:          cfg.Engagement.MinScore,
		MaxChannelMembers: cfg.Engagement.MaxChannelMembers,
		TopicMessages:     cfg.Engagement.TopicMessages,
		RequestTimeout:    cfg.Slack.RequestTimeout,
	}, logger.Named("engagement"))

	return &app{
		store:        store,
		messenger:    messenger,
		orchestrator: orchestrator,
		announcer:    prompts.NewAnnouncer(store, messenger, cfg.Slack.BotUserID, logger.Named("prompts")),
		scheduler:    sched,
		tracker:      engagement.NewTracker(store, engine, logger.Named("engagement")),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
