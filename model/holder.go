package model

import "sync/atomic"

// Holder 持有当前发布的模型快照。读取无锁，发布为原子替换。
type Holder struct {
	current atomic.Pointer[RecommendationModel]
}

func NewHolder() *Holder { return &Holder{} }

// Current 返回当前快照，未发布时返回 nil。
func (h *Holder) Current() *RecommendationModel {
	return h.current.Load()
}

// Publish 发布新快照并返回旧快照。
func (h *Holder) Publish(m *RecommendationModel) *RecommendationModel {
	return h.current.Swap(m)
}

// PublishIfNewer 只在 m 的训练时间晚于当前快照时发布。
// 返回发布后的当前快照，以及 m 是否被发布。
func (h *Holder) PublishIfNewer(m *RecommendationModel) (*RecommendationModel, bool) {
	for {
		cur := h.current.Load()
		if cur != nil && !m.Metadata.TrainingDate.After(cur.Metadata.TrainingDate) {
			return cur, false
		}
		if h.current.CompareAndSwap(cur, m) {
			return m, true
		}
	}
}
