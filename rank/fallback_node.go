package rank

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/pipeline"
	"github.com/rushteam/feedrec/pkg/utils"
)

// FallbackNode 是没有模型时的启发式排序：热度·0.7 + 新鲜度·0.3。
// 每个候选都会得到分数，读取失败的候选使用哨兵分。
type FallbackNode struct {
	Engine *Engine
}

func (n *FallbackNode) Name() string        { return "rank.fallback" }
func (n *FallbackNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *FallbackNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	e := n.Engine
	e.logger.Debug().Str("user_id", rctx.UserID).Int("candidates", len(items)).Msg("using fallback ranking")

	var eg errgroup.Group
	eg.SetLimit(e.opts.Concurrency)
	for _, it := range items {
		if it == nil {
			continue
		}
		eg.Go(func() error {
			defer e.recoverSentinel(rctx.UserID, it)
			score, breakdown, err := e.fallbackScore(ctx, it.ID)
			if err != nil {
				e.markSentinel(rctx.UserID, it, err)
				return nil
			}
			it.Score = score
			for k, v := range breakdown {
				it.Features[k] = v
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, it := range items {
		if it != nil {
			it.PutLabel("rank_model", utils.NewLabel("fallback", "rank"))
		}
	}
	sortByScore(items)
	return items, nil
}

func (e *Engine) fallbackScore(ctx context.Context, postID string) (float64, map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	pop := e.popularitySignal(ctx, postID)
	if !pop.Available {
		return 0, nil, pop.Err
	}
	fresh := e.freshnessSignal(ctx, postID)
	if !fresh.Available {
		return 0, nil, fresh.Err
	}
	score := pop.Value*0.7 + fresh.Value*0.3
	return score, map[string]float64{
		SignalPopularity: pop.Value,
		SignalFreshness:  fresh.Value,
	}, nil
}
