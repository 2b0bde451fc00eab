// One-shot sweep runner for cron-style scheduling. Exits non-zero when any
// location failed so the cron job surfaces the failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

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
	force := flag.Bool("force", false, "ignore the freshness window and re-ingest every location")
	locationID := flag.Int64("location", 0, "ingest a single location id instead of sweeping all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()

	// The cache is a fast path only; run without it if Redis is down
	var latestCache etl.LatestCache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Redis unavailable, running without freshness cache: %v", err)
	} else {
		latestCache = cache.NewLatestObservations(redisClient, cfg.Ingestion.CacheTTL)
	}

	activationProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicActivations)
	defer activationProducer.Close()

	providerClient := provider.NewClient(cfg.Provider)
	evaluator := alerting.NewEvaluator(db, activationProducer)
	pipeline := etl.NewPipeline(db, providerClient, evaluator, latestCache, cfg.Ingestion.FreshnessWindow)
	sched := scheduler.New(db, pipeline, cfg.Ingestion.Interval, cfg.Ingestion.Workers, cfg.Ingestion.FreshHorizon)

	start := time.Now()

	if *locationID != 0 {
		result, err := sched.RunFor(ctx, *locationID, *force)
		if err != nil {
			log.Fatalf("Run failed for location %d: %v", *locationID, err)
		}
		if result.Err != nil {
			log.Fatalf("Run failed for location %d: %v", *locationID, result.Err)
		}
		fmt.Printf("Location %d: %s (duration=%s)\n", *locationID, result.Status, time.Since(start))
		return
	}

	result, err := sched.RunAll(ctx, *force)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	fmt.Printf("Sweep %s: total=%d processed=%d skipped=%d errors=%d duration=%s\n",
		result.SweepID, result.Total, result.Processed, result.Skipped, len(result.Errors), result.Duration)

	for _, msg := range result.Errors {
		log.Printf("Sweep error: %s", msg)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}
