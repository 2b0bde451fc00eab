package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/weatherhub/weatherhub/internal/alerting"
	"github.com/weatherhub/weatherhub/internal/cache"
	"github.com/weatherhub/weatherhub/internal/database"
	"github.com/weatherhub/weatherhub/internal/etl"
	"github.com/weatherhub/weatherhub/internal/provider"
	"github.com/weatherhub/weatherhub/internal/queue"
	"github.com/weatherhub/weatherhub/internal/scheduler"
	"github.com/weatherhub/weatherhub/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Ingestion Scheduler...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	// Run migrations when a migrations directory is configured
	if cfg.Database.MigrationsDir != "" {
		if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	// Create activation event producer
	activationProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicActivations)
	defer activationProducer.Close()
	fmt.Println("Activation event producer initialized")

	// Wire the pipeline
	providerClient := provider.NewClient(cfg.Provider)
	latestCache := cache.NewLatestObservations(redisClient, cfg.Ingestion.CacheTTL)
	evaluator := alerting.NewEvaluator(db, activationProducer)
	pipeline := etl.NewPipeline(db, providerClient, evaluator, latestCache, cfg.Ingestion.FreshnessWindow)

	// Create and start the scheduler
	sched := scheduler.New(db, pipeline, cfg.Ingestion.Interval, cfg.Ingestion.Workers, cfg.Ingestion.FreshHorizon)
	sched.Start()
	fmt.Printf("Scheduler started (interval=%s, workers=%d)\n", cfg.Ingestion.Interval, cfg.Ingestion.Workers)

	fmt.Println("\n✓ Ingestion Scheduler is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	sched.Stop(cfg.Ingestion.ShutdownGrace)
}
