package core

import (
	"time"

	"github.com/rushteam/feedrec/pkg/conv"
	"github.com/rushteam/feedrec/pkg/utils"
)

// RecommendContext 承载用户/场景/请求信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID string
	Scene  string // rank / recommend

	// Now 是本次请求的参考时间（新鲜度、时段匹配共用）
	Now time.Time

	// Labels 是用户级标签，可驱动整个 Pipeline 行为（例如冷启动用户）
	Labels map[string]utils.Label

	// Params 请求级参数，例如 limit、pool_size
	Params map[string]any
}

// NewRecommendContext 创建请求上下文。
func NewRecommendContext(userID, scene string, now time.Time) *RecommendContext {
	return &RecommendContext{
		UserID: userID,
		Scene:  scene,
		Now:    now,
		Labels: make(map[string]utils.Label),
		Params: make(map[string]any),
	}
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// IntParam 读取整型请求参数。
func (rctx *RecommendContext) IntParam(key string, def int) int {
	if rctx == nil || rctx.Params == nil {
		return def
	}
	if v, ok := conv.ToInt(rctx.Params[key]); ok {
		return v
	}
	return def
}
