package recall

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/pipeline"
	"github.com/rushteam/feedrec/pkg/utils"
)

// 合并策略
const (
	MergeFirst = "first" // 按 Sources 顺序去重，保留首次出现
	MergeUnion = "union" // 按 Sources 顺序拼接，不去重
)

// Fanout 是一个 Recall Node：并发执行多个召回源，并按 Sources 顺序合并结果。
// 合并结果与各源完成的先后无关。
type Fanout struct {
	Sources       []Source
	Timeout       time.Duration // 每个召回源的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）
	MergeStrategy string        // first（默认）/ union
	Limit         int           // 合并后保留的最大数量（0 表示不截断）

	// FailFast 为 true 时任一召回源出错即整体失败；否则出错的源视为空结果。
	FailFast bool
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}

	results := make([][]*core.Item, len(n.Sources))
	eg, egCtx := errgroup.WithContext(ctx)
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		eg.Go(func() error {
			recallCtx := egCtx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(egCtx, n.Timeout)
				defer cancel()
			}

			items, err := src.Recall(recallCtx, rctx)
			if err != nil {
				if n.FailFast {
					return fmt.Errorf("%s: %w", src.Name(), err)
				}
				return nil
			}

			// 记录召回来源 label，方便 explain / 观测
			for _, it := range items {
				it.PutLabel("recall_source", utils.NewLabel(src.Name(), "recall"))
				it.PutLabel("recall_priority", utils.NewLabel(strconv.Itoa(i), "recall"))
			}
			results[i] = items
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []*core.Item
	switch n.MergeStrategy {
	case MergeUnion:
		out = mergeUnion(results)
	default:
		out = mergeFirst(results)
	}
	if n.Limit > 0 && len(out) > n.Limit {
		out = out[:n.Limit]
	}
	return out, nil
}

// mergeFirst 按 ID 去重，保留第一个出现的，重复项的 labels 合并到首个。
func mergeFirst(results [][]*core.Item) []*core.Item {
	seen := make(map[string]*core.Item)
	out := make([]*core.Item, 0)
	for _, items := range results {
		for _, it := range items {
			if it == nil {
				continue
			}
			if old, ok := seen[it.ID]; ok {
				for k, v := range it.Labels {
					old.PutLabel(k, v)
				}
				continue
			}
			seen[it.ID] = it
			out = append(out, it)
		}
	}
	return out
}

// mergeUnion 合并所有结果，不去重（用于需要保留所有来源的场景）。
func mergeUnion(results [][]*core.Item) []*core.Item {
	out := make([]*core.Item, 0)
	for _, items := range results {
		for _, it := range items {
			if it != nil {
				out = append(out, it)
			}
		}
	}
	return out
}
