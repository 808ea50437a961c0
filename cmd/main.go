/**
 * @description
 * This is the main entry point for the conversation-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the payment gateway client, message brokers, the
 * repository, the conversation engine, the timeout sweep, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/gatewayclient: Client for the payment gateway API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cyrax/conversation-service/internal/api"
	"github.com/cyrax/conversation-service/internal/app"
	"github.com/cyrax/conversation-service/internal/config"
	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
	"github.com/cyrax/conversation-service/pkg/gatewayclient"
	rmrabbit "github.com/cyrax/conversation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.GatewayAPIBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway api base url must be configured\" env=GATEWAY_API_BASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting conversation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for outbound messages. Missing broker
	// config degrades to a no-op producer: replies still flow synchronously.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment gateway client.
	gateway := gatewayclient.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayAPIKey)

	// Redis for the inbound message rate limiter.
	var limiter app.Limiter
	if cfg.RateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; inbound rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; inbound rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; inbound rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					limiter = app.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Assemble the engine components.
	pins := app.NewPinAuthenticator(repository, cfg.PinMaxAttempts, cfg.PinLockoutSeconds)
	risk := app.NewRiskEngine(repository, app.RiskLimits{
		PerKind: map[domain.ActionKind]app.KindLimits{
			domain.ActionTransfer:            {HardCeiling: cfg.TransferCeilingCents, SoftThreshold: cfg.TransferSoftThresholdCents},
			domain.ActionAirtimePurchase:     {HardCeiling: cfg.AirtimeCeilingCents, SoftThreshold: cfg.AirtimeSoftThresholdCents},
			domain.ActionElectricityPurchase: {HardCeiling: cfg.ElectricityCeilingCents, SoftThreshold: cfg.ElectricitySoftThreshCents},
		},
		VelocityWindow:   time.Duration(cfg.VelocityWindowHours) * time.Hour,
		VelocityLimit:    cfg.VelocityLimitCents,
		PinFailureWindow: time.Duration(cfg.PinFailureWindowMinutes) * time.Minute,
		PinFailureMax:    cfg.PinFailureChallengeMax,
	})
	binder := app.NewIntentBinder(cfg.IntentConfidenceThreshold)
	classifier := app.NewIntentClassifier()

	orchestrator := app.NewOrchestrator(
		repository,
		gateway,
		pins,
		risk,
		binder,
		classifier,
		limiter,
		producer,
		app.OrchestratorConfig{
			FlowTimeout:      time.Duration(cfg.FlowTimeoutSeconds) * time.Second,
			PinMaxAttempts:   cfg.PinMaxAttempts,
			PinLockout:       time.Duration(cfg.PinLockoutSeconds) * time.Second,
			StatusPollCount:  cfg.StatusPollCount,
			StatusPollDelay:  time.Duration(cfg.StatusPollDelaySeconds) * time.Second,
			CASMaxRetries:    cfg.SessionCASMaxRetries,
			HistoryPageSize:  cfg.HistoryPageSize,
			OutboundExchange: cfg.EventsExchange,
		},
	)

	// Settlement events from the gateway webhook relay.
	settlementConsumer := app.NewSettlementConsumer(repository)
	rabbitConsumer, err := rmrabbit.NewEventConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; settlement events disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		go func() {
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.SettlementQueue, settlementConsumer.Handlers()); err != nil {
				log.Printf("level=error component=bootstrap msg=\"settlement consumer stopped\" err=%v", err)
			}
		}()
	}

	// Timeout sweep.
	sweeper := app.NewSweeper(repository, producer, cfg.EventsExchange, cfg.SweepBatchSize)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"sweep schedule invalid\" schedule=%q err=%v", cfg.SweepSchedule, err)
	}
	defer sweeper.Stop()

	// Initialize the API handlers and router.
	handlers := api.NewEngineHandlers(orchestrator, repository)
	router := api.EngineRoutes(handlers, api.RouterConfig{
		WebhookSigningSecret: cfg.WebhookSigningSecret,
		AdminJWKSURL:         cfg.AdminJWKSURL,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
