package rank

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
)

// 信号名称，同时作为 Item.Features 的 key
const (
	SignalCollaborative = "collaborative"
	SignalContent       = "content"
	SignalPopularity    = "popularity"
	SignalFreshness     = "freshness"
)

// Signal 是单路信号的计算结果。Available 为 false 时 Value 无意义，Err 为失败原因。
type Signal struct {
	Name      string
	Value     float64
	Available bool
	Err       error
}

func available(name string, v float64) Signal {
	return Signal{Name: name, Value: model.Clamp01(v), Available: true}
}

func unavailable(name string, err error) Signal {
	return Signal{Name: name, Err: err}
}

// Prediction 是一个 (用户, 帖子) 对的融合得分与各路信号。
type Prediction struct {
	Score   float64
	Signals []Signal
}

// Breakdown 返回各路信号实际参与融合的分值（不可用的信号为中性分）。
func (p Prediction) Breakdown(neutral float64) map[string]float64 {
	out := make(map[string]float64, len(p.Signals))
	for _, s := range p.Signals {
		if s.Available {
			out[s.Name] = s.Value
		} else {
			out[s.Name] = neutral
		}
	}
	return out
}

// ErrAllSignalsUnavailable 表示四路信号全部失败。
var ErrAllSignalsUnavailable = core.NewDomainError(core.ModuleRank, core.ErrorCodeUnavailable, "rank: all signals unavailable")

// PredictScore 融合四路信号：协同 0.4、内容 0.3、热度 0.2、新鲜度 0.1。
// 单路失败按中性分计入；全部失败或 ctx 已结束时返回错误，由调用方赋哨兵分。
func (e *Engine) PredictScore(ctx context.Context, m *model.RecommendationModel, userID, postID string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	signals := []Signal{
		e.collaborativeSignal(ctx, m, userID, postID),
		e.contentSignal(ctx, userID, postID),
		e.popularitySignal(ctx, postID),
		e.freshnessSignal(ctx, postID),
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	w := e.opts.Weights
	weights := map[string]float64{
		SignalCollaborative: w.Collaborative,
		SignalContent:       w.Content,
		SignalPopularity:    w.Popularity,
		SignalFreshness:     w.Freshness,
	}

	var (
		score float64
		errs  []error
	)
	for _, s := range signals {
		v := e.opts.NeutralScore
		if s.Available {
			v = s.Value
		} else {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
			metrics.RecordSignalUnavailable(s.Name)
		}
		score += weights[s.Name] * v
	}
	if len(errs) == len(signals) {
		return Prediction{Signals: signals}, errors.Join(append([]error{ErrAllSignalsUnavailable}, errs...)...)
	}
	return Prediction{Score: model.Clamp01(score), Signals: signals}, nil
}

// collaborativeSignal 返回 sigmoid(U[u]·V[:,i])；因子为空时为中性分，用户或帖子未知时走冷启动。
func (e *Engine) collaborativeSignal(ctx context.Context, m *model.RecommendationModel, userID, postID string) Signal {
	c := &m.Collaborative
	if c.Empty() {
		return available(SignalCollaborative, e.opts.NeutralScore)
	}
	u, userKnown := c.UserPos(userID)
	i, itemKnown := c.ItemPos(postID)
	if !userKnown || !itemKnown {
		return e.coldStart(ctx, m, userID, postID, userKnown, itemKnown)
	}
	return available(SignalCollaborative, c.Predict(u, i))
}

// contentSignal: engagement_rate·0.3 + engagement_velocity·0.3 + time_match·0.2 + freshness·0.2
func (e *Engine) contentSignal(ctx context.Context, userID, postID string) Signal {
	f, err := e.extractor.ExtractInteractionFeatures(ctx, userID, postID)
	if err != nil {
		return unavailable(SignalContent, err)
	}
	return available(SignalContent, ContentScore(f))
}

// ContentScore 由交叉特征计算内容分，未截断。
func ContentScore(f feature.InteractionFeatures) float64 {
	return f.User.EngagementRate*0.3 +
		f.Post.EngagementVelocity*0.3 +
		f.TimeMatch*0.2 +
		f.FreshnessScore*0.2
}

func (e *Engine) popularitySignal(ctx context.Context, postID string) Signal {
	eng, err := e.store.GetPostEngagementData(ctx, postID)
	if err != nil {
		return unavailable(SignalPopularity, err)
	}
	return available(SignalPopularity, Popularity(eng))
}

// Popularity 是 log1p(加权互动和)/10。
func Popularity(eng core.PostEngagement) float64 {
	return math.Log1p(eng.WeightedSum()) / 10
}

// freshnessSignal: 帖子不存在时为 0.5，否则 exp(-age/24)。
func (e *Engine) freshnessSignal(ctx context.Context, postID string) Signal {
	post, err := e.store.GetPostData(ctx, postID)
	if err != nil {
		if core.IsNotFound(err) {
			return available(SignalFreshness, e.opts.NeutralScore)
		}
		return unavailable(SignalFreshness, err)
	}
	age := e.now().Sub(post.CreatedAt).Hours()
	return available(SignalFreshness, feature.Freshness(age))
}
