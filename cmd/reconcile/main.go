// Package main implements the reconcile CLI, which recomputes the campaign
// aggregate from the stored donation records and reports (or repairs) any
// difference.
//
// Usage:
//
//	go run ./cmd/reconcile
//	go run ./cmd/reconcile --repair
//	go run ./cmd/reconcile --concurrency=16
//
// Configuration is read the same way as the API (environment, .env, SSM
// pointers outside APP_ENV=local). The memory backend holds nothing between
// processes, so this tool is only meaningful with postgres or dynamodb.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/campaign"
	"campaignfund/internal/config"
	"campaignfund/internal/db"
	"campaignfund/internal/donations"
)

func main() {
	repairFlag := flag.Bool("repair", false, "Overwrite the stored aggregate when it differs from the records")
	concurrencyFlag := flag.Int("concurrency", 8, "Parallel record reads")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reconcile [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Recompute campaign stats from donation records.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, *repairFlag, *concurrencyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

// run returns 0 when in sync (or repaired), 2 when drift was found and left
// alone, and 1 on failure.
func run(ctx context.Context, repair bool, concurrency int) (int, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "ap-south-1"
		}
		provider = config.NewSSMProvider(region)
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return 1, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return 1, err
	}
	defer backend.Close()

	c := campaign.FromConfig(cfg.Campaign)
	reconciler := donations.NewReconciler(
		donations.NewRecordStore(backend.Namespace(cfg.Store.DonationsNamespace), cfg.Store.Timeout),
		donations.NewAggregateStore(backend.Namespace(cfg.Store.StatsNamespace), c, cfg.Store.Timeout, cfg.Store.AggregateMaxRetries, logger),
		c,
		concurrency,
		logger,
	)

	var drift donations.Drift
	if repair {
		drift, err = reconciler.Repair(ctx)
	} else {
		drift, err = reconciler.Check(ctx)
	}
	if err != nil {
		return 1, err
	}

	fmt.Printf("campaign %s: %d records; %s\n", c.ID, drift.Records, drift)
	switch {
	case drift.InSync():
		fmt.Println("in sync")
		return 0, nil
	case repair:
		fmt.Println("repaired")
		return 0, nil
	default:
		fmt.Println("drift detected; rerun with --repair to overwrite the stored aggregate")
		return 2, nil
	}
}

// openBackend mirrors the backend selection in cmd/api, which is a main
// package and cannot be imported.
func openBackend(ctx context.Context, cfg *config.Config) (blobstore.Backend, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.Store.DatabaseURL.Unmask(),
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return db.NewBlobRepository(pool, pool.Close), nil
	case "dynamodb":
		return blobstore.NewDynamoBackend(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL, cfg.Store.DynamoTable)
	default:
		return nil, fmt.Errorf("store backend %q keeps no data between processes", cfg.Store.Backend)
	}
}
