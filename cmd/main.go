/**
 * @description
 * This is the main entry point for kudoku-server. It loads configuration, connects
 * to PostgreSQL (running migrations when enabled), wires the event bus, RabbitMQ,
 * Redis, the Brick and OTP clients into the application service, then starts the
 * bank-sync consumer, the cron scheduler and the HTTP server.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: OTP rate limiting.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/eventbus, internal/store.
 * - pkg/accountref, pkg/brickclient, pkg/otpclient, pkg/rabbitmq.
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
	"github.com/joho/godotenv"
	"github.com/kudokuapp/kudoku-server/internal/api"
	"github.com/kudokuapp/kudoku-server/internal/app"
	"github.com/kudokuapp/kudoku-server/internal/config"
	"github.com/kudokuapp/kudoku-server/internal/eventbus"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/accountref"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
	"github.com/kudokuapp/kudoku-server/pkg/otpclient"
	"github.com/kudokuapp/kudoku-server/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

const bankSyncPrefetch = 4

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	log.Printf("level=info component=bootstrap msg=\"starting kudoku-server\" port=%s", cfg.ServerPort)

	tokens, err := app.NewSessionTokens(cfg.JWTSecret, cfg.JWTTTL())
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session tokens unavailable\" env=JWT_SECRET err=%v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.RunMigrations {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
		err := store.Migrate(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	}

	bus := eventbus.NewMemoryBus(0)
	defer bus.Close()

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events stay in-process\" env=RABBITMQ_URL")
	} else {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		} else {
			defer producer.Close()
			publisher = producer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	var bank app.BankProvider
	if cfg.BrickClientID == "" || cfg.BrickClientSecret == "" {
		log.Println("level=warn component=bootstrap msg=\"brick client not configured; bank linking and sync disabled\"")
	} else {
		bank = brickclient.NewClient(cfg.BrickBaseURL, cfg.BrickClientID, cfg.BrickClientSecret)
	}

	var otp app.OTPProvider
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioVerifyService == "" {
		log.Println("level=warn component=bootstrap msg=\"otp provider not configured; verification codes disabled\"")
	} else {
		otp = otpclient.NewClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVerifyService)
	}

	service := app.NewService(
		store.NewPostgresRepository(dbpool),
		bus,
		publisher,
		bank,
		otp,
		tokens,
		app.Options{
			EventsExchange:   cfg.EventsExchange,
			DefaultCurrency:  cfg.DefaultCurrency,
			BankSyncLookback: cfg.BankSyncLookback(),
			OTPRateLimit:     cfg.OTPRateLimitMax,
			OTPRateWindow:    cfg.OTPRateWindow(),
			RequireSignupOTP: cfg.RequireSignupOTP,
		},
	)

	if cfg.OTPRateLimitMax > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; otp rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; otp rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; otp rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	if bank != nil && strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; bank syncs run inline\" err=%v", err)
		} else {
			defer consumer.Close()
			bankSyncConsumer := app.NewBankSyncConsumer(service)
			bindings := map[string]rabbitmq.Handler{
				rabbitmq.RoutingKeyBankSyncRequested: bankSyncConsumer.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.BankSyncQueue, bankSyncPrefetch, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"bank sync consumer start failed\" err=%v", err)
			}
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var scheduler *app.Scheduler
	if bank != nil {
		scheduler = app.NewScheduler(service, logger, cfg.BankSyncSchedule)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
		}
	}

	refs := accountref.NewCodec(cfg.AccountRefSecrets())
	router := api.NewRouter(api.NewHandlers(service, refs), cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Event streams never finish on their own; closing the bus ends them.
	bus.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
