package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rushteam/feedrec/config"
	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/filter"
	"github.com/rushteam/feedrec/logging"
	"github.com/rushteam/feedrec/model"
	"github.com/rushteam/feedrec/rank"
	"github.com/rushteam/feedrec/store"
	"github.com/rushteam/feedrec/train"
)

// app 持有一次命令执行所需的全部组件。
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	feed      core.FeedStore
	postgres  *store.PostgresFeedStore
	blobs     core.Store
	extractor *feature.Extractor
	trainer   *train.Trainer
	engine    *rank.Engine

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg: cfg,
		logger: logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		}),
	}

	if cfg.Database.URL != "" {
		pool, err := store.NewPostgresPool(ctx, cfg.Database.URL,
			store.WithMaxConns(cfg.Database.MaxConns),
			store.WithMinConns(cfg.Database.MinConns),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.postgres = store.NewPostgresFeedStore(pool)
		a.feed = a.postgres
		if b := cfg.Database.Breaker; b.FailureThreshold > 0 {
			opts := b.BreakerOptions()
			opts.Logger = a.logger
			a.feed = store.NewBreakerFeedStore(a.postgres, opts)
		}
	} else {
		a.logger.Warn().Msg("database url not set, using in-memory feed store")
		a.feed = store.NewMemoryFeedStore()
	}

	blobs, err := store.NewBlobStore(cfg.Artifacts.BlobOptions())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.blobs = blobs
	a.closers = append(a.closers, func() {
		if err := blobs.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close artifact store")
		}
	})

	filters, err := candidateFilters(cfg.Recommend)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.extractor = feature.NewExtractor(a.feed,
		feature.WithHistoryDays(cfg.Training.WindowDays),
		feature.WithLogger(a.logger),
	)
	a.trainer = train.NewTrainer(a.feed, a.extractor,
		model.NewArtifactStore(blobs, cfg.Artifacts.KeyPrefix), nil,
		train.WithOptions(cfg.Training.Options()),
		train.WithLogger(a.logger),
	)
	a.engine = rank.NewEngine(a.feed, a.extractor, a.trainer,
		rank.WithOptions(cfg.RankOptions()),
		rank.WithCandidateFilters(filters...),
		rank.WithLogger(a.logger),
	)
	return a, nil
}

func candidateFilters(cfg config.RecommendConfig) ([]filter.Filter, error) {
	var filters []filter.Filter
	if len(cfg.BlockedPosts) > 0 {
		filters = append(filters, filter.NewBlacklistFilter(cfg.BlockedPosts))
	}
	if cfg.CandidateFilter != "" {
		f, err := filter.NewExprFilter(cfg.CandidateFilter)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// serveMetrics 在配置了地址时后台暴露 /metrics。
func (a *app) serveMetrics() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("serving metrics")
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// Close 按创建的逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
