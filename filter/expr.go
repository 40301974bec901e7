package filter

import (
	"context"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/pkg/dsl"
)

// ExprFilter 用 CEL 表达式筛选已打分的候选：表达式为 false 的帖子被过滤。
//
// 示例：
//
//	f, _ := filter.NewExprFilter(`item.score >= 0.2 && item.features.freshness > 0.1`)
type ExprFilter struct {
	program *dsl.Program
}

// NewExprFilter 编译表达式，表达式非法时返回错误。
func NewExprFilter(expr string) (*ExprFilter, error) {
	p, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleRank, core.ErrorCodeInvalidInput, "filter: invalid expression "+expr, err)
	}
	return &ExprFilter{program: p}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

// Expr 返回原始表达式。
func (f *ExprFilter) Expr() string { return f.program.String() }

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	keep, err := f.program.Match(item, rctx)
	if err != nil {
		return false, err
	}
	return !keep, nil
}
