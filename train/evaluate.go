package train

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/feedrec/core"
)

// EvaluationReport 是最近一段时间数据上的覆盖率评估。
type EvaluationReport struct {
	ModelVersion     string    `json:"model_version,omitempty"`
	TestPeriodDays   int       `json:"test_period_days,omitempty"`
	TestInteractions int       `json:"test_interactions,omitempty"`
	UniqueTestUsers  int       `json:"unique_test_users,omitempty"`
	UniqueTestPosts  int       `json:"unique_test_posts,omitempty"`
	UserCoverage     float64   `json:"user_coverage"`
	ItemCoverage     float64   `json:"item_coverage"`
	ModelSize        ModelSize `json:"model_size"`
	Error            string    `json:"error,omitempty"`
}

// ModelSize 是协同模型的规模。
type ModelSize struct {
	Users   int `json:"users"`
	Posts   int `json:"posts"`
	Factors int `json:"factors"`
}

const (
	errNoModel    = "No model available for evaluation"
	errNoTestData = "No test data available"
)

// Evaluate 用最近 EvalDays 天的互动评估当前模型。
// 没有模型或没有测试数据时返回带 Error 的报告；存储失败返回错误。
func (t *Trainer) Evaluate(ctx context.Context) (EvaluationReport, error) {
	m := t.holder.Current()
	if m == nil {
		return EvaluationReport{Error: errNoModel}, nil
	}

	now := t.now()
	start := now.Add(-time.Duration(t.opts.EvalDays) * 24 * time.Hour)
	events, err := t.store.GetEngagementData(ctx, start, now)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("evaluation data: %w", err)
	}
	if len(events) == 0 {
		return EvaluationReport{ModelVersion: m.Metadata.ModelVersion, Error: errNoTestData}, nil
	}

	users := make(map[string]struct{})
	posts := make(map[string]struct{})
	for _, ev := range events {
		users[ev.UserID] = struct{}{}
		posts[ev.PostID] = struct{}{}
	}
	c := m.Collaborative
	return EvaluationReport{
		ModelVersion:     m.Metadata.ModelVersion,
		TestPeriodDays:   t.opts.EvalDays,
		TestInteractions: len(events),
		UniqueTestUsers:  len(users),
		UniqueTestPosts:  len(posts),
		UserCoverage:     coverage(len(users), len(c.UserIndex)),
		ItemCoverage:     coverage(len(posts), len(c.ItemIndex)),
		ModelSize: ModelSize{
			Users:   len(c.UserIndex),
			Posts:   len(c.ItemIndex),
			Factors: c.NFactors,
		},
	}, nil
}

func coverage(unique, known int) float64 {
	if known < 1 {
		known = 1
	}
	v := float64(unique) / float64(known)
	if v > 1 {
		return 1
	}
	return v
}

// ModelInfo 描述当前加载的模型。
type ModelInfo struct {
	Status               string              `json:"status"`
	Version              string              `json:"version,omitempty"`
	Metadata             *core.ModelMetadata `json:"metadata,omitempty"`
	CollaborativeFactors int                 `json:"collaborative_factors"`
	IsFallback           bool                `json:"is_fallback"`
	State                State               `json:"state"`
}

// ModelInfo 返回当前模型信息，未加载时 Status 为 no_model。
func (t *Trainer) ModelInfo() ModelInfo {
	m := t.holder.Current()
	if m == nil {
		return ModelInfo{Status: "no_model", State: t.State()}
	}
	meta := m.Metadata
	return ModelInfo{
		Status:               "loaded",
		Version:              meta.ModelVersion,
		Metadata:             &meta,
		CollaborativeFactors: m.Collaborative.NFactors,
		IsFallback:           m.IsFallback(),
		State:                t.State(),
	}
}
