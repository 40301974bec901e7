package recall

import (
	"context"

	"github.com/rushteam/feedrec/core"
)

// Source 表示一个可复用的召回源（最新/热门/...）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

// ParamSourceLimit 是每个召回源返回数量的请求参数名。
const ParamSourceLimit = "source_limit"

// DefaultSourceLimit 是未设置 source_limit 时每个源的返回数量。
const DefaultSourceLimit = 50

func sourceLimit(rctx *core.RecommendContext) int {
	return rctx.IntParam(ParamSourceLimit, DefaultSourceLimit)
}
