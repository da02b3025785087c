package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/config"
	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/domain/alertrule"
	"github.com/ehr/carealert/internal/domain/careteam"
	"github.com/ehr/carealert/internal/domain/delivery"
	"github.com/ehr/carealert/internal/engine"
	"github.com/ehr/carealert/internal/platform/channel"
	"github.com/ehr/carealert/internal/platform/classify"
	"github.com/ehr/carealert/internal/platform/websocket"
)

// app holds the wired components shared by serve and evaluate.
type app struct {
	registry  *channel.Registry
	scheduler *engine.Scheduler

	ruleHandler     *alertrule.Handler
	alertHandler    *alert.Handler
	teamHandler     *careteam.Handler
	deliveryHandler *delivery.Handler
	engineHandler   *engine.Handler

	// Set only when the push channel is configured.
	redis         *redis.Client
	relay         *websocket.Relay
	streamHandler *websocket.Handler
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	ruleRepo := alertrule.NewRuleRepoPG(pool)
	instanceRepo := alert.NewInstanceRepoPG(pool)
	teamRepo := careteam.NewCareTeamRepoPG(pool)
	deliveryRepo := delivery.NewDeliveryRepoPG(pool)
	prefRepo := delivery.NewPreferenceRepoPG(pool)
	metricStore := engine.NewMetricStore(pool)

	a := &app{}
	registry, redisClient, err := buildRegistry(cfg, pool, teamRepo)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.redis = redisClient

	backend, err := classifierBackend(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	bridge := classify.NewBridge(backend, cfg.ClassifierTimeout, logger)

	ruleSvc := alertrule.NewService(ruleRepo, alertrule.DefaultCatalog)
	manager := alert.NewManager(instanceRepo, logger)
	resolver := alert.NewResolver(teamRepo)

	prefs := delivery.NewPreferenceResolver(prefRepo, cfg.DeliveryChannels)
	dispatcher := delivery.NewDispatcher(deliveryRepo, prefs, registry, manager, delivery.DispatcherConfig{
		MaxAttempts: cfg.DeliveryMaxAttempts,
		BackoffBase: cfg.DeliveryBackoffBase,
		Fallback:    cfg.DeliveryChannels,
		StaleAfter:  cfg.DeliveryStaleAfter,
	}, logger)

	eng := engine.New(metricStore, manager, resolver, bridge, dispatcher, logger)
	a.scheduler = engine.NewScheduler(eng, ruleSvc, teamRepo, dispatcher, engine.SchedulerConfig{
		RuleInterval:          cfg.RuleEvalInterval,
		Workers:               cfg.RuleEvalWorkers,
		RedispatchInterval:    cfg.DeliveryRedispatchInterval,
		RedispatchMaxAttempts: cfg.DeliveryRedispatchMax,
	}, logger)

	a.ruleHandler = alertrule.NewHandler(ruleSvc)
	a.alertHandler = alert.NewHandler(manager, alert.NewDeduplicator(instanceRepo))
	a.teamHandler = careteam.NewHandler(teamRepo)
	a.deliveryHandler = delivery.NewHandler(dispatcher, prefRepo, registry.Names())
	a.engineHandler = engine.NewHandler(eng, metricStore)

	if redisClient != nil {
		hub := websocket.NewHub()
		a.relay = websocket.NewRelay(redisClient, hub, logger)
		a.streamHandler = websocket.NewHandler(hub)
	}
	return a, nil
}

func (a *app) RegisterRoutes(api *echo.Group) {
	a.ruleHandler.RegisterRoutes(api)
	a.alertHandler.RegisterRoutes(api)
	a.teamHandler.RegisterRoutes(api)
	a.deliveryHandler.RegisterRoutes(api)
	a.engineHandler.RegisterRoutes(api)
	if a.streamHandler != nil {
		a.streamHandler.RegisterRoutes(api)
	}
}

// Run starts the background loops and blocks until ctx is cancelled.
func (a *app) Run(ctx context.Context, logger zerolog.Logger) {
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("alert stream relay stopped")
			}
		}()
	}
	a.scheduler.Start(ctx)
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

// buildRegistry registers in_app unconditionally plus each configured
// external channel. The redis client is returned so the caller can close it.
func buildRegistry(cfg *config.Config, pool *pgxpool.Pool, team careteam.Repository) (*channel.Registry, *redis.Client, error) {
	registry := channel.NewRegistry(channel.NewInAppChannel(pool))
	var redisClient *redis.Client

	for _, name := range cfg.DeliveryChannels {
		switch name {
		case channel.InApp:
		case channel.Email:
			registry.Register(channel.NewEmailChannel(channel.EmailConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
			}, professionalEmails(team)))
		case channel.Webhook:
			registry.Register(channel.NewWebhookChannel(cfg.WebhookURL, cfg.WebhookSecret,
				&http.Client{Timeout: 10 * time.Second}))
		case channel.Push:
			if redisClient == nil {
				c, err := channel.NewRedisClient(cfg.RedisURL)
				if err != nil {
					return nil, nil, err
				}
				redisClient = c
			}
			registry.Register(channel.NewPushChannel(redisClient))
		default:
			if redisClient != nil {
				redisClient.Close()
			}
			return nil, nil, fmt.Errorf("unknown delivery channel %q", name)
		}
	}
	return registry, redisClient, nil
}

func professionalEmails(team careteam.Repository) channel.AddressBook {
	return channel.AddressBookFunc(func(ctx context.Context, id uuid.UUID) (string, error) {
		p, err := team.GetProfessional(ctx, id)
		if err != nil {
			return "", err
		}
		return p.Email, nil
	})
}

func classifierBackend(cfg *config.Config) (classify.Classifier, error) {
	switch cfg.ClassifierBackend {
	case "http", "":
		return classify.NewHTTPClassifier(cfg.ClassifierURL, nil), nil
	case "openai":
		return classify.NewOpenAIClassifier(classify.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}), nil
	}
	return nil, fmt.Errorf("unknown classifier backend %q", cfg.ClassifierBackend)
}
