package pipeline

import (
	"context"

	"github.com/rushteam/feedrec/core"
)

// Kind 标记 Node 所处的阶段，用于日志与打点。
type Kind string

const (
	KindRecall Kind = "recall" // 从最新、热门等来源生成候选池
	KindRank   Kind = "rank"   // 为候选打分并降序排列
	KindFilter Kind = "filter" // 剔除打分后不满足条件的候选
	KindReRank Kind = "rerank" // 截断等结果整形
)

// Node 是打分链路的最小单元，输入 items 输出 items。
// 召回节点忽略输入直接产出候选，其余节点在输入上打分、剔除或截断。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		items []*core.Item,
	) ([]*core.Item, error)
}

// NodeFunc 把普通函数适配为 Node。
type NodeFunc struct {
	NodeName string
	NodeKind Kind
	Fn       func(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error)
}

func (n NodeFunc) Name() string { return n.NodeName }
func (n NodeFunc) Kind() Kind   { return n.NodeKind }

func (n NodeFunc) Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	return n.Fn(ctx, rctx, items)
}
