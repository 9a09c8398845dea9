package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/jobcore/internal/blob"
	"github.com/you/jobcore/internal/config"
	"github.com/you/jobcore/internal/events"
	"github.com/you/jobcore/internal/queue"
	"github.com/you/jobcore/internal/render"
	"github.com/you/jobcore/internal/storage"
	"github.com/you/jobcore/internal/worker"
)

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	store := storage.New(db)
	q := queue.New(rdb)
	uploader := blob.NewFSUploader(cfg.ArtifactDir, cfg.ArtifactBaseURL)
	emitter := events.NewRedisEmitter(rdb, cfg.EventChannelPrefix, log)

	exportWorker := worker.NewExportWorker(store, render.Default(), uploader, emitter, log)
	aggregator := worker.NewAggregator(store, cfg.AggregationWorkers, log)

	host, _ := os.Hostname()
	exports := worker.NewConsumer(queue.QueueExports, host+"/exports", q, store,
		map[string]worker.Handler{queue.TypeExportGenerate: exportWorker},
		cfg.VisibilityTimeout, cfg.PollBlock, log)
	analytics := worker.NewConsumer(queue.QueueAnalytics, host+"/analytics", q, store,
		map[string]worker.Handler{queue.TypeAggregateDaily: aggregator},
		cfg.VisibilityTimeout, cfg.PollBlock, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return exports.Run(gctx) })
	g.Go(func() error { return analytics.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker stopped", zap.Error(err))
	}
	log.Info("worker shut down")
}
