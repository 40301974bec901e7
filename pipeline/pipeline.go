package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrec/core"
)

// Pipeline 把一次打分拆成可组合的 Node 链：召回 -> 打分 -> 过滤 -> 截断。
// 任一 Node 出错即中止，错误带上 Node 名称；ctx 结束时在下一个 Node 之前返回。
type Pipeline struct {
	Nodes []Node

	// Logger 非空时以 debug 级别记录每个 Node 的输入输出数量
	Logger *zerolog.Logger
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Name(), err)
		}
		if p.Logger != nil {
			p.Logger.Debug().
				Str("node", node.Name()).
				Str("kind", string(node.Kind())).
				Int("in", len(cur)).
				Int("out", len(next)).
				Msg("node done")
		}
		cur = next
	}
	return cur, nil
}
