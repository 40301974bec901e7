// Package rank 是推理引擎：读取当前模型快照，融合四路信号为候选打分排序，
// 没有模型时退化为热度与新鲜度的启发式排序。
package rank

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/filter"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
	"github.com/rushteam/feedrec/pipeline"
	"github.com/rushteam/feedrec/recall"
	"github.com/rushteam/feedrec/rerank"
)

// SnapshotProvider 提供当前模型快照，train.Trainer 实现了该接口。
type SnapshotProvider interface {
	Current() *model.RecommendationModel
	LoadLatest(ctx context.Context) (*model.RecommendationModel, error)
}

// Weights 是四路信号的融合权重。
type Weights struct {
	Collaborative float64 `yaml:"collaborative"`
	Content       float64 `yaml:"content"`
	Popularity    float64 `yaml:"popularity"`
	Freshness     float64 `yaml:"freshness"`
}

// DefaultWeights 返回 0.4 / 0.3 / 0.2 / 0.1。
func DefaultWeights() Weights {
	return Weights{Collaborative: 0.4, Content: 0.3, Popularity: 0.2, Freshness: 0.1}
}

// Options 是推理参数。
type Options struct {
	Weights        Weights
	NeutralScore   float64 // 信号不可用或因子为空时的中性分
	ColdStartScore float64 // 冷启动找不到邻居时的分数
	SentinelScore  float64 // 整体打分失败时的哨兵分
	Concurrency    int     // 单次请求内并发打分的候选数

	ColdStartHistoryDays int // 新用户回看的互动天数
	NeighborSample       int // 取前 N 个候选邻居
	NeighborLimit        int // 最多使用的在索引内的邻居数

	CandidateMultiplier int           // 候选池大小 = limit × CandidateMultiplier
	RecentHours         int           // 最新召回的时间窗口
	SourceTimeout       time.Duration // 每个召回源的超时
	DefaultLimit        int           // 推荐请求未指定数量时的默认值
}

// DefaultOptions 返回默认推理参数。
func DefaultOptions() Options {
	return Options{
		Weights:              DefaultWeights(),
		NeutralScore:         0.5,
		ColdStartScore:       0.3,
		SentinelScore:        0.1,
		Concurrency:          4,
		ColdStartHistoryDays: 7,
		NeighborSample:       10,
		NeighborLimit:        5,
		CandidateMultiplier:  3,
		RecentHours:          recall.DefaultRecentHours,
		SourceTimeout:        2 * time.Second,
		DefaultLimit:         20,
	}
}

// Result 是一条排序结果。
type Result struct {
	PostID    string             `json:"post_id"`
	Score     float64            `json:"score"`
	Timestamp time.Time          `json:"timestamp"`
	Signals   map[string]float64 `json:"signals,omitempty"`
}

// Engine 是推理引擎，并发安全。每次请求只读取一次模型快照。
type Engine struct {
	store     core.FeedStore
	extractor *feature.Extractor
	models    SnapshotProvider
	opts      Options
	filters   []filter.Filter
	now       func() time.Time
	logger    zerolog.Logger
}

// EngineOption 推理引擎配置选项
type EngineOption func(*Engine)

// WithOptions 设置推理参数
func WithOptions(o Options) EngineOption {
	return func(e *Engine) {
		e.opts = o
	}
}

// WithCandidateFilters 设置推荐候选在打分后、截断前的过滤器
func WithCandidateFilters(filters ...filter.Filter) EngineOption {
	return func(e *Engine) {
		e.filters = append(e.filters, filters...)
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "rank").Logger()
	}
}

// NewEngine 创建推理引擎。
func NewEngine(store core.FeedStore, extractor *feature.Extractor, models SnapshotProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		extractor: extractor,
		models:    models,
		opts:      DefaultOptions(),
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.opts.Concurrency < 1 {
		e.opts.Concurrency = 1
	}
	if e.opts.CandidateMultiplier < 1 {
		e.opts.CandidateMultiplier = 1
	}
	return e
}

// Options 返回当前推理参数。
func (e *Engine) Options() Options { return e.opts }

// RankForUser 为用户对候选帖子打分并按分数降序返回前 limit 个；limit <= 0 时返回全部。
// 当前没有模型时先尝试加载最新模型，加载失败返回错误；仍没有模型时使用启发式排序。
func (e *Engine) RankForUser(ctx context.Context, userID string, postIDs []string, limit int) ([]Result, error) {
	return e.rank(ctx, core.NewRecommendContext(userID, "rank", e.now()), core.ItemsFromIDs(postIDs), limit, nil)
}

// GetUserRecommendations 从最新与热门两路召回候选池（limit × CandidateMultiplier），
// 打分、过滤后返回前 limit 个。候选池为空时返回空列表。
func (e *Engine) GetUserRecommendations(ctx context.Context, userID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	pool := limit * e.opts.CandidateMultiplier
	rctx := core.NewRecommendContext(userID, "recommend", e.now())
	rctx.Params[recall.ParamSourceLimit] = pool / 2

	fanout := &recall.Fanout{
		Sources: []recall.Source{
			&recall.Recent{Store: e.store, Hours: e.opts.RecentHours},
			&recall.Trending{Store: e.store},
		},
		Timeout:  e.opts.SourceTimeout,
		Limit:    pool,
		FailFast: true,
	}
	candidates, err := fanout.Process(ctx, rctx, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	var post []pipeline.Node
	if len(e.filters) > 0 {
		post = append(post, &filter.FilterNode{Filters: e.filters, Logger: &e.logger})
	}
	return e.rank(ctx, rctx, candidates, limit, post)
}

func (e *Engine) rank(ctx context.Context, rctx *core.RecommendContext, items []*core.Item, limit int, post []pipeline.Node) ([]Result, error) {
	if len(items) == 0 {
		return []Result{}, nil
	}
	started := time.Now()

	m := e.models.Current()
	if m == nil {
		loaded, err := e.models.LoadLatest(ctx)
		if err != nil {
			return nil, err
		}
		m = loaded
	}

	mode := metrics.ModeModel
	var scorer pipeline.Node = &BlendNode{Engine: e, Model: m}
	if m == nil {
		mode = metrics.ModeFallback
		scorer = &FallbackNode{Engine: e}
	}

	nodes := append([]pipeline.Node{scorer}, post...)
	nodes = append(nodes, &rerank.TopNNode{N: limit})
	p := &pipeline.Pipeline{Nodes: nodes, Logger: &e.logger}
	ranked, err := p.Run(ctx, rctx, items)
	if err != nil {
		return nil, err
	}
	metrics.RecordRank(mode, time.Since(started))

	out := make([]Result, 0, len(ranked))
	for _, it := range ranked {
		if it == nil {
			continue
		}
		r := Result{PostID: it.ID, Score: it.Score, Timestamp: rctx.Now}
		if len(it.Features) > 0 {
			r.Signals = it.Features
		}
		out = append(out, r)
	}
	return out, nil
}
