package recall

import (
	"context"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/pipeline"
)

// Trending 是热门召回源：按最近 24 小时的互动量返回帖子。
// Trending 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用
type Trending struct {
	Store core.FeedStore
}

func (r *Trending) Name() string        { return "recall.trending" }
func (r *Trending) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *Trending) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *Trending) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	limit := sourceLimit(rctx)
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.Store.GetTrendingPosts(ctx, limit)
	if err != nil {
		return nil, err
	}
	return core.ItemsFromIDs(ids), nil
}

// DefaultRecentHours 是最新召回的时间窗口。
const DefaultRecentHours = 24

// Recent 是最新召回源：返回最近 Hours 小时内发布的帖子，新的在前。
type Recent struct {
	Store core.FeedStore
	Hours int
}

func (r *Recent) Name() string        { return "recall.recent" }
func (r *Recent) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *Recent) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

func (r *Recent) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	limit := sourceLimit(rctx)
	if limit <= 0 {
		return nil, nil
	}
	hours := r.Hours
	if hours <= 0 {
		hours = DefaultRecentHours
	}
	ids, err := r.Store.GetRecentPosts(ctx, hours, limit)
	if err != nil {
		return nil, err
	}
	return core.ItemsFromIDs(ids), nil
}
