package train

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
)

// State 是训练器的状态。
type State string

const (
	StateUntrained State = "untrained"
	StateTraining  State = "training"
	StateTrained   State = "trained"
	StateFallback  State = "fallback"
)

// 异步训练请求的返回状态
const (
	StatusTraining   = "training"
	StatusReady      = "ready"
	StatusRetraining = "retraining"
)

// Options 是训练参数。
type Options struct {
	WindowDays      int     // 训练窗口（天）
	EvalDays        int     // 评估窗口（天）
	MinInteractions int     // 少于该数量的 (用户, 帖子) 对时产出兜底模型
	MaxFactors      int     // 隐因子数上限
	MaxIter         int     // NMF 最大迭代轮数
	Tolerance       float64 // NMF 提前结束阈值
	ContentSample   int     // 内容模型最多采样的帖子数
	Seed            uint64  // NMF 初始化种子
}

// DefaultOptions 返回默认训练参数。
func DefaultOptions() Options {
	return Options{
		WindowDays:      30,
		EvalDays:        7,
		MinInteractions: 100,
		MaxFactors:      50,
		MaxIter:         200,
		Tolerance:       1e-4,
		ContentSample:   1000,
		Seed:            42,
	}
}

// Trainer 负责训练、持久化、加载与评估推荐模型。
//
// 并发：
//   - 同一时刻只有一次训练在执行，并发的 Train 调用共享同一次结果
//   - 新模型先持久化再原子发布；训练失败时保留旧快照与旧状态
type Trainer struct {
	store     core.FeedStore
	extractor *feature.Extractor
	artifacts *model.ArtifactStore
	holder    *model.Holder
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger

	group singleflight.Group
	wg    sync.WaitGroup

	mu          sync.Mutex
	state       State
	lastVersion time.Time
}

// Option 训练器配置选项
type Option func(*Trainer)

// WithOptions 设置训练参数，零值字段使用默认值
func WithOptions(o Options) Option {
	return func(t *Trainer) {
		d := DefaultOptions()
		if o.WindowDays > 0 {
			d.WindowDays = o.WindowDays
		}
		if o.EvalDays > 0 {
			d.EvalDays = o.EvalDays
		}
		if o.MinInteractions > 0 {
			d.MinInteractions = o.MinInteractions
		}
		if o.MaxFactors > 0 {
			d.MaxFactors = o.MaxFactors
		}
		if o.MaxIter > 0 {
			d.MaxIter = o.MaxIter
		}
		if o.Tolerance > 0 {
			d.Tolerance = o.Tolerance
		}
		if o.ContentSample > 0 {
			d.ContentSample = o.ContentSample
		}
		if o.Seed > 0 {
			d.Seed = o.Seed
		}
		t.opts = d
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger.With().Str("component", "train").Logger()
	}
}

// NewTrainer 创建训练器。holder 为空时创建新的快照持有者。
func NewTrainer(store core.FeedStore, extractor *feature.Extractor, artifacts *model.ArtifactStore, holder *model.Holder, opts ...Option) *Trainer {
	if holder == nil {
		holder = model.NewHolder()
	}
	t := &Trainer{
		store:     store,
		extractor: extractor,
		artifacts: artifacts,
		holder:    holder,
		opts:      DefaultOptions(),
		now:       time.Now,
		logger:    zerolog.Nop(),
		state:     StateUntrained,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Holder 返回快照持有者。
func (t *Trainer) Holder() *model.Holder { return t.holder }

// Current 返回当前发布的模型。
func (t *Trainer) Current() *model.RecommendationModel { return t.holder.Current() }

// State 返回当前状态。
func (t *Trainer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Train 训练新模型并发布；训练进行中时等待并返回同一次结果。
func (t *Trainer) Train(ctx context.Context) (*model.RecommendationModel, error) {
	v, err, _ := t.group.Do("train", func() (any, error) {
		return t.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.RecommendationModel), nil
}

// Retrain 使用最新数据重新训练。
func (t *Trainer) Retrain(ctx context.Context) (*model.RecommendationModel, error) {
	return t.Train(ctx)
}

// TrainAsync 在后台训练。已有模型且 force 为 false 时不训练，返回 ready。
func (t *Trainer) TrainAsync(force bool) string {
	if !force && t.holder.Current() != nil {
		return StatusReady
	}
	t.startBackground()
	return StatusTraining
}

// RetrainAsync 总是在后台重新训练。
func (t *Trainer) RetrainAsync() string {
	t.startBackground()
	return StatusRetraining
}

// Wait 等待所有后台训练结束。
func (t *Trainer) Wait() { t.wg.Wait() }

func (t *Trainer) startBackground() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.Train(context.Background()); err != nil {
			t.logger.Error().Err(err).Msg("background training failed")
		}
	}()
}

func (t *Trainer) run(ctx context.Context) (*model.RecommendationModel, error) {
	began := time.Now()
	now := t.now()
	runID := uuid.NewString()
	log := t.logger.With().Str("run_id", runID).Logger()

	prev := t.setState(StateTraining)
	log.Info().Str("previous_state", string(prev)).Msg("training started")

	m, err := t.build(ctx, now, log)
	if err == nil {
		err = t.persist(ctx, m)
	}
	if err != nil {
		t.setState(prev)
		metrics.RecordTraining(metrics.ResultFailed, time.Since(began))
		log.Error().Err(err).Msg("training failed, keeping previous model")
		return nil, err
	}

	t.publish(m)
	result := metrics.ResultTrained
	if m.IsFallback() {
		result = metrics.ResultFallback
	}
	metrics.RecordTraining(result, time.Since(began))
	log.Info().
		Str("model_version", m.Metadata.ModelVersion).
		Int("data_size", m.Metadata.DataSize).
		Int("n_factors", m.Collaborative.NFactors).
		Bool("is_fallback", m.IsFallback()).
		Msg("training completed")
	return m, nil
}

func (t *Trainer) build(ctx context.Context, now time.Time, log zerolog.Logger) (*model.RecommendationModel, error) {
	start := now.Add(-time.Duration(t.opts.WindowDays) * 24 * time.Hour)
	events, err := t.store.GetEngagementData(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("training data: %w", err)
	}
	rows := Aggregate(events, now)
	if err := t.seedVersion(ctx); err != nil {
		return nil, err
	}
	version, trainedAt := t.nextVersion(now)

	if len(rows) < t.opts.MinInteractions {
		log.Warn().Int("rows", len(rows)).Int("min", t.opts.MinInteractions).Msg("insufficient training data, using fallback model")
		return model.NewFallback(version, trainedAt, len(rows)), nil
	}

	mat := buildMatrix(rows)
	k := factorCount(len(mat.users), len(mat.items), t.opts.MaxFactors)
	if k < 1 {
		log.Warn().Int("users", len(mat.users)).Int("items", len(mat.items)).Msg("factor rank is zero, using fallback model")
		return model.NewFallback(version, trainedAt, len(rows)), nil
	}

	userFactors, itemFactors, err := factorize(ctx, rowNormalize(mat.values), nmfOptions{
		Components: k,
		MaxIter:    t.opts.MaxIter,
		Tol:        t.opts.Tolerance,
		Seed:       t.opts.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("factorize: %w", err)
	}

	content, err := t.buildContent(ctx, rows)
	if err != nil {
		return nil, err
	}

	m := &model.RecommendationModel{
		Collaborative: model.CollaborativeModel{
			UserFactors:    userFactors,
			ItemFactors:    itemFactors,
			UserSimilarity: cosineMatrix(userFactors),
			ItemSimilarity: cosineMatrix(transpose(itemFactors)),
			UserIndex:      mat.users,
			ItemIndex:      mat.items,
			NFactors:       k,
		},
		Content: content,
		Metadata: core.ModelMetadata{
			ModelVersion: version,
			TrainingDate: trainedAt,
			DataSize:     len(rows),
		},
	}
	m.BuildIndex()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (t *Trainer) buildContent(ctx context.Context, rows []Interaction) (model.ContentModel, error) {
	ids := contentSample(rows, t.opts.ContentSample)
	columns := append([]string(nil), feature.NumericColumns...)
	raw := make([][]float64, 0, len(ids))
	for _, id := range ids {
		pf, err := t.extractor.ExtractPostFeatures(ctx, id)
		if err != nil {
			return model.ContentModel{}, fmt.Errorf("content features for %s: %w", id, err)
		}
		raw = append(raw, pf.Numeric())
	}
	if len(raw) == 0 {
		return model.ContentModel{}, nil
	}

	scaler := fitScaler(raw)
	normalized := transformAll(scaler, raw)
	return model.ContentModel{
		PostIDs:        ids,
		FeatureColumns: columns,
		Features:       normalized,
		Scaler:         scaler,
		Similarity:     cosineMatrix(normalized),
	}, nil
}

func (t *Trainer) persist(ctx context.Context, m *model.RecommendationModel) error {
	if err := t.artifacts.Save(ctx, m); err != nil {
		return err
	}
	if err := t.store.SaveModelMetadata(ctx, m.Metadata); err != nil {
		return fmt.Errorf("save model metadata: %w", err)
	}
	return nil
}

func (t *Trainer) publish(m *model.RecommendationModel) {
	t.holder.Publish(m)
	t.published(m, true)
}

// published 在快照发布后更新版本水位，updateState 为 false 时保留训练中状态。
func (t *Trainer) published(m *model.RecommendationModel, updateState bool) {
	t.mu.Lock()
	if updateState {
		if m.IsFallback() {
			t.state = StateFallback
		} else {
			t.state = StateTrained
		}
	}
	if m.Metadata.TrainingDate.After(t.lastVersion) {
		t.lastVersion = m.Metadata.TrainingDate
	}
	t.mu.Unlock()
	metrics.RecordModelPublished(t.now())
}

func (t *Trainer) setState(s State) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	t.state = s
	return prev
}

// seedVersion 把版本水位推进到已持久化的最新模型，新进程训练时不会复用已有版本号。
func (t *Trainer) seedVersion(ctx context.Context) error {
	meta, err := t.store.GetLatestModelMetadata(ctx)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("latest model metadata: %w", err)
	}
	ts := meta.TrainingDate.UTC().Truncate(time.Second)
	t.mu.Lock()
	if ts.After(t.lastVersion) {
		t.lastVersion = ts
	}
	t.mu.Unlock()
	return nil
}

// nextVersion 以秒级 UTC 时间生成 v{YYYYMMDD_HHMMSS}，保证严格递增。
func (t *Trainer) nextVersion(now time.Time) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := now.UTC().Truncate(time.Second)
	if !ts.After(t.lastVersion) {
		ts = t.lastVersion.Add(time.Second)
	}
	t.lastVersion = ts
	return "v" + ts.Format("20060102_150405"), ts
}

// LoadLatest 加载最新版本，只在它比当前快照新时发布，否则返回当前快照。
// 从未训练过时返回 (nil, nil)。
func (t *Trainer) LoadLatest(ctx context.Context) (*model.RecommendationModel, error) {
	v, err, _ := t.group.Do("load", func() (any, error) {
		meta, err := t.store.GetLatestModelMetadata(ctx)
		if err != nil {
			if core.IsNotFound(err) {
				t.logger.Info().Msg("no trained model found")
				return (*model.RecommendationModel)(nil), nil
			}
			return nil, fmt.Errorf("latest model metadata: %w", err)
		}
		return t.load(ctx, meta.ModelVersion, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.RecommendationModel), nil
}

// LoadVersion 加载指定版本并发布，可用于回滚到旧版本。
func (t *Trainer) LoadVersion(ctx context.Context, version string) (*model.RecommendationModel, error) {
	return t.load(ctx, version, false)
}

func (t *Trainer) load(ctx context.Context, version string, onlyNewer bool) (*model.RecommendationModel, error) {
	m, err := t.artifacts.Load(ctx, version)
	if err != nil {
		return nil, err
	}
	if onlyNewer {
		cur, ok := t.holder.PublishIfNewer(m)
		if !ok {
			t.logger.Debug().
				Str("model_version", version).
				Str("current_version", cur.Metadata.ModelVersion).
				Msg("loaded model is not newer, keeping current snapshot")
			return cur, nil
		}
	} else {
		t.holder.Publish(m)
	}
	t.published(m, t.State() != StateTraining)
	t.logger.Info().Str("model_version", version).Bool("is_fallback", m.IsFallback()).Msg("model loaded")
	return m, nil
}
