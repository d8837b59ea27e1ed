// Command txcoordinator wires every backend into a running Coordinator plus
// its Recovery Worker, the example entry point a host service embeds or
// imitates. Grounded on the teacher's own composition root pattern (its
// package-level ConfigureLogging + NewConnectionClient + NewTransaction
// calls chained together at process start).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/ctxn"
	"github.com/sharedcode/ctxn/admin"
	"github.com/sharedcode/ctxn/archive"
	"github.com/sharedcode/ctxn/cachekv"
	"github.com/sharedcode/ctxn/compensator"
	"github.com/sharedcode/ctxn/compensator/breaker"
	"github.com/sharedcode/ctxn/config"
	"github.com/sharedcode/ctxn/coordinator"
	"github.com/sharedcode/ctxn/facade"
	"github.com/sharedcode/ctxn/recovery"
	"github.com/sharedcode/ctxn/store"
	"github.com/sharedcode/ctxn/txlog"
	"github.com/sharedcode/ctxn/validator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the module's YAML configuration file")
	flag.Parse()

	ctxn.ConfigureLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache, err := cachekv.NewRedisCache(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	logStore := txlog.NewRedisStore(redisClient)

	registry := store.NewRegistry()
	for _, ds := range cfg.Datastores {
		if err := store.Register(registry, ds.Name, ds.Driver, ds.DSN); err != nil {
			slog.Error("register datastore", "name", ds.Name, "error", err)
			os.Exit(1)
		}
	}

	comp := compensator.New(registry, compensator.WithRetry(cfg.Recovery.MaxRollbackRetries, cfg.Recovery.RollbackRetryBackoff))

	riskExprs := make(map[ctxn.RiskFlag]string, len(cfg.Validation.RiskExpressions))
	for k, v := range cfg.Validation.RiskExpressions {
		riskExprs[ctxn.RiskFlag(k)] = v
	}
	v, err := validator.New(nil, riskExprs)
	if err != nil {
		slog.Error("build validator", "error", err)
		os.Exit(1)
	}

	breakers := breaker.NewRegistry(cfg.Recovery.BreakerMaxFailures, cfg.Recovery.BreakerOpenTimeout)
	lockFacade := facade.NewLock(cache)
	idempFacade := facade.NewIdempotency(cache, 24*time.Hour)

	coord := coordinator.New(logStore, v, comp, breakers, lockFacade, idempFacade, registry)
	_ = coord

	metrics := recovery.NewMetrics(prometheus.DefaultRegisterer)
	worker := recovery.New(logStore, comp, cache, metrics, recovery.Config{
		StallAfter:          cfg.Recovery.StallAfter,
		MaxInFlight:         cfg.Recovery.MaxInFlight,
		LockDuration:        cfg.Recovery.LockDuration,
		MaxRecoveryAttempts: cfg.Recovery.MaxRecoveryAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminSurface := admin.New(logStore, comp, worker)
	_ = adminSurface

	if cfg.Archive.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("load aws config", "error", err)
			os.Exit(1)
		}
		archiver := archive.New(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix)
		_ = archiver
	}

	worker.Run(ctx, cfg.Recovery.Interval)
}
