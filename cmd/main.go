/**
 * @description
 * This is the main entry point for the yield-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection, Redis, the RabbitMQ producer, the simulated chain
 * client, the notification hub, the transaction monitor, the orchestrator,
 * the scheduler and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/hub, internal/store:
 *   Internal packages for the service.
 * - pkg/chainclient, pkg/rabbitmq: Chain simulation and event mirroring.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/bridgefarm/yield-service/internal/api"
	"github.com/bridgefarm/yield-service/internal/app"
	"github.com/bridgefarm/yield-service/internal/config"
	"github.com/bridgefarm/yield-service/internal/hub"
	"github.com/bridgefarm/yield-service/internal/metrics"
	"github.com/bridgefarm/yield-service/internal/store"
	"github.com/bridgefarm/yield-service/pkg/chainclient"
	"github.com/bridgefarm/yield-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting yield-service\" port=%s", cfg.ServerPort)

	metrics.Init()

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repository := store.NewPostgresRepository(dbpool)
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSchema()
	if err := repository.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema bootstrap failed\" err=%v", err)
	}

	// Initialize the RabbitMQ producer to mirror lifecycle events. The broker
	// is optional: without it, notifications still flow over the hub.
	var producer rabbitmq.Publisher
	if eventProducer, perr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); perr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", perr)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs the initiation rate limit; missing Redis disables it.
	var limiter app.RateLimiter
	if cfg.InitiateRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// The chain is simulated; outcomes are decided at submission time.
	chain := chainclient.NewSimulatedClient(
		chainclient.WithSuccessRatio(cfg.SimulatedSuccessRatio),
		chainclient.WithConfirmTarget(cfg.SimulatedConfirmTarget),
	)

	notificationHub := hub.New(hub.NewHMACVerifier(cfg.JWTSecret))

	monitor := app.NewMonitor(repository, chain, notificationHub, producer, app.MonitorConfig{
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	service := app.NewService(repository, chain, monitor, notificationHub, app.ServiceConfig{
		HomeChain:         cfg.HomeChain,
		RewardChain:       cfg.RewardChain,
		DepositToken:      cfg.DepositToken,
		RewardToken:       cfg.RewardToken,
		CompoundThreshold: decimal.NewFromFloat(cfg.CompoundThreshold),
		SlippageMin:       cfg.SlippageMinPercent,
		SlippageMax:       cfg.SlippageMaxPercent,
	})

	// The auto-compound sweep runs on a cron schedule.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(app.NewJobs(repository, service, slogger), slogger, cfg)
	scheduler.Start()

	handlers := api.NewHandlers(service, cfg)
	router := api.Routes(handlers, api.NewWSHandler(notificationHub), limiter, cfg.InitiateRateLimitPerMinute)

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

	<-scheduler.Stop().Done()
	monitor.Shutdown()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
