package core

import "github.com/rushteam/feedrec/pkg/utils"

// Item 是推荐链路中的统一承载结构：候选帖子、分数、信号明细、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策；Features 保存各路信号分。
type Item struct {
	ID       string
	Score    float64
	Features map[string]float64
	Labels   map[string]utils.Label
}

func NewItem(id string) *Item {
	return &Item{
		ID:       id,
		Score:    0,
		Features: make(map[string]float64),
		Labels:   make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// ItemsFromIDs 按顺序把帖子 ID 转成 Item。
func ItemsFromIDs(ids []string) []*Item {
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, NewItem(id))
	}
	return out
}
