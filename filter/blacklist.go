package filter

import (
	"context"

	"github.com/rushteam/feedrec/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的帖子。
type BlacklistFilter struct {
	ids map[string]struct{}
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(postIDs []string) *BlacklistFilter {
	ids := make(map[string]struct{}, len(postIDs))
	for _, id := range postIDs {
		ids[id] = struct{}{}
	}
	return &BlacklistFilter{ids: ids}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	_ context.Context,
	_ *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	_, blocked := f.ids[item.ID]
	return blocked, nil
}
