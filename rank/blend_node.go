package rank

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
	"github.com/rushteam/feedrec/pipeline"
	"github.com/rushteam/feedrec/pkg/utils"
)

// BlendNode 是使用已训练模型的排序 Node。
// - 每个候选独立打分，并发数受 Engine 配置限制
// - 打分失败的候选使用哨兵分，不影响其他候选
// - 写入 labels：rank_model / score_status；Features 写入各路信号分
// - 更新 item.Score 并按分数降序稳定排序
type BlendNode struct {
	Engine *Engine
	Model  *model.RecommendationModel
}

func (n *BlendNode) Name() string        { return "rank.blend" }
func (n *BlendNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *BlendNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Model == nil || len(items) == 0 {
		return items, nil
	}
	e := n.Engine

	var eg errgroup.Group
	eg.SetLimit(e.opts.Concurrency)
	for _, it := range items {
		if it == nil {
			continue
		}
		eg.Go(func() error {
			defer e.recoverSentinel(rctx.UserID, it)
			pred, err := e.PredictScore(ctx, n.Model, rctx.UserID, it.ID)
			if err != nil {
				e.markSentinel(rctx.UserID, it, err)
				return nil
			}
			it.Score = pred.Score
			for k, v := range pred.Breakdown(e.opts.NeutralScore) {
				it.Features[k] = v
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, it := range items {
		if it != nil {
			it.PutLabel("rank_model", utils.NewLabel(n.Model.Metadata.ModelVersion, "rank"))
		}
	}
	sortByScore(items)
	return items, nil
}

// markSentinel 记录打分失败并把候选分数置为哨兵分。
func (e *Engine) markSentinel(userID string, it *core.Item, err error) {
	e.logger.Warn().Err(err).Str("user_id", userID).Str("post_id", it.ID).Msg("scoring failed, using sentinel score")
	metrics.RecordSentinel()
	it.Score = e.opts.SentinelScore
	it.PutLabel("score_status", utils.NewLabel("sentinel", "rank"))
}

// recoverSentinel 在单个候选打分 panic 时兜底为哨兵分，必须直接 defer 调用。
func (e *Engine) recoverSentinel(userID string, it *core.Item) {
	if r := recover(); r != nil {
		e.markSentinel(userID, it, fmt.Errorf("panic: %v", r))
	}
}

// sortByScore 按分数降序稳定排序，同分保持输入顺序，nil 排在最后。
func sortByScore(items []*core.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i] == nil {
			return false
		}
		if items[j] == nil {
			return true
		}
		return items[i].Score > items[j].Score
	})
}
