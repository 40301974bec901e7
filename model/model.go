package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rushteam/feedrec/core"
)

// CollaborativeModel 是 NMF 分解得到的协同过滤部分。
//
//   - UserFactors: U×K，行顺序与 UserIndex 一致
//   - ItemFactors: K×I，列顺序与 ItemIndex 一致
//   - UserSimilarity / ItemSimilarity: 因子空间上的余弦相似度
type CollaborativeModel struct {
	UserFactors    [][]float64 `json:"user_factors"`
	ItemFactors    [][]float64 `json:"item_factors"`
	UserSimilarity [][]float64 `json:"user_similarity"`
	ItemSimilarity [][]float64 `json:"item_similarity"`
	UserIndex      []string    `json:"user_index"`
	ItemIndex      []string    `json:"item_index"`
	NFactors       int         `json:"n_factors"`

	userPos map[string]int
	itemPos map[string]int
}

// ContentModel 是基于帖子数值特征的内容相似度部分，Features 为标准化后的矩阵。
type ContentModel struct {
	PostIDs        []string    `json:"post_ids"`
	FeatureColumns []string    `json:"feature_columns"`
	Features       [][]float64 `json:"features"`
	Scaler         Scaler      `json:"scaler"`
	Similarity     [][]float64 `json:"similarity"`

	postPos map[string]int
}

// Scaler 是标准化参数：(x - Mean) / Scale。
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform 标准化一行特征；维度不一致时原样返回。
func (s Scaler) Transform(row []float64) []float64 {
	if len(row) != len(s.Mean) || len(row) != len(s.Scale) {
		return row
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// RecommendationModel 是一次训练的完整产出，发布后只读。
type RecommendationModel struct {
	Collaborative CollaborativeModel `json:"collaborative_model"`
	Content       ContentModel       `json:"content_model"`
	Metadata      core.ModelMetadata `json:"metadata"`
}

// NewFallback 创建数据不足时的空模型。
func NewFallback(version string, trainedAt time.Time, dataSize int) *RecommendationModel {
	m := &RecommendationModel{
		Metadata: core.ModelMetadata{
			ModelVersion: version,
			TrainingDate: trainedAt,
			DataSize:     dataSize,
			IsFallback:   true,
		},
	}
	m.BuildIndex()
	return m
}

// BuildIndex 构建 ID -> 位置的查找表，发布前必须调用。
func (m *RecommendationModel) BuildIndex() {
	m.Collaborative.userPos = positions(m.Collaborative.UserIndex)
	m.Collaborative.itemPos = positions(m.Collaborative.ItemIndex)
	m.Content.postPos = positions(m.Content.PostIDs)
}

func positions(ids []string) map[string]int {
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out
}

// IsFallback 判断是否为空模型。
func (m *RecommendationModel) IsFallback() bool {
	return m.Metadata.IsFallback
}

// UserPos 返回用户在因子矩阵中的行号。
func (c *CollaborativeModel) UserPos(userID string) (int, bool) {
	i, ok := c.userPos[userID]
	return i, ok
}

// ItemPos 返回帖子在因子矩阵中的列号。
func (c *CollaborativeModel) ItemPos(postID string) (int, bool) {
	i, ok := c.itemPos[postID]
	return i, ok
}

// Empty 判断协同部分是否没有可用因子。
func (c *CollaborativeModel) Empty() bool {
	return c.NFactors == 0 || len(c.UserFactors) == 0 || len(c.ItemFactors) == 0
}

// Predict 返回 sigmoid(U[u]·V[:,i])，两个位置都必须有效。
func (c *CollaborativeModel) Predict(u, i int) float64 {
	var dot float64
	for k := 0; k < c.NFactors; k++ {
		dot += c.UserFactors[u][k] * c.ItemFactors[k][i]
	}
	return Sigmoid(dot)
}

// Empty 判断内容部分是否为空。
func (c *ContentModel) Empty() bool {
	return len(c.PostIDs) == 0
}

// PostPos 返回帖子在内容模型中的行号。
func (c *ContentModel) PostPos(postID string) (int, bool) {
	i, ok := c.postPos[postID]
	return i, ok
}

// NeighborsOf 按相似度矩阵返回与已知帖子最相近的 k 个其他帖子。
func (c *ContentModel) NeighborsOf(postID string, k int) ([]string, bool) {
	row, ok := c.PostPos(postID)
	if !ok || row >= len(c.Similarity) {
		return nil, false
	}
	sims := c.Similarity[row]
	order := make([]int, 0, len(sims))
	for j := range sims {
		if j != row && j < len(c.PostIDs) {
			order = append(order, j)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return sims[order[a]] > sims[order[b]] })
	if len(order) > k {
		order = order[:k]
	}
	out := make([]string, len(order))
	for i, j := range order {
		out[i] = c.PostIDs[j]
	}
	return out, true
}

// Nearest 返回与给定原始特征余弦相似度最高的 k 个帖子，相似度相同按行号升序。
// Features 中保存的是标准化后的特征，只有 raw 需要经过 Scaler。
func (c *ContentModel) Nearest(raw []float64, k int) []string {
	if c.Empty() || k <= 0 {
		return nil
	}
	target := c.Scaler.Transform(raw)
	type cand struct {
		id  string
		sim float64
	}
	best := make([]cand, 0, k+1)
	for row, id := range c.PostIDs {
		sim := Cosine(target, c.Features[row])
		pos := len(best)
		for pos > 0 && best[pos-1].sim < sim {
			pos--
		}
		if pos >= k {
			continue
		}
		best = append(best, cand{})
		copy(best[pos+1:], best[pos:])
		best[pos] = cand{id: id, sim: sim}
		if len(best) > k {
			best = best[:k]
		}
	}
	out := make([]string, len(best))
	for i, c := range best {
		out[i] = c.id
	}
	return out
}

// Validate 检查矩阵维度与索引是否一致，不一致返回 CORRUPTED。
func (m *RecommendationModel) Validate() error {
	c := m.Collaborative
	if len(c.UserFactors) != len(c.UserIndex) {
		return corrupted("user factors rows %d != user index %d", len(c.UserFactors), len(c.UserIndex))
	}
	if len(c.UserIndex) > 0 || len(c.ItemIndex) > 0 {
		if c.NFactors <= 0 {
			return corrupted("n_factors must be positive, got %d", c.NFactors)
		}
		if len(c.ItemFactors) != c.NFactors {
			return corrupted("item factors rows %d != n_factors %d", len(c.ItemFactors), c.NFactors)
		}
		for u, row := range c.UserFactors {
			if len(row) != c.NFactors {
				return corrupted("user factors row %d has %d columns, want %d", u, len(row), c.NFactors)
			}
		}
		for k, row := range c.ItemFactors {
			if len(row) != len(c.ItemIndex) {
				return corrupted("item factors row %d has %d columns, want %d", k, len(row), len(c.ItemIndex))
			}
		}
	}
	if err := checkFinite(c.UserFactors, "user factors"); err != nil {
		return err
	}
	if err := checkFinite(c.ItemFactors, "item factors"); err != nil {
		return err
	}

	ct := m.Content
	if len(ct.Features) != len(ct.PostIDs) {
		return corrupted("content features rows %d != post ids %d", len(ct.Features), len(ct.PostIDs))
	}
	if len(ct.PostIDs) > 0 {
		width := len(ct.FeatureColumns)
		if len(ct.Scaler.Mean) != width || len(ct.Scaler.Scale) != width {
			return corrupted("scaler width mismatch: %d columns", width)
		}
		for r, row := range ct.Features {
			if len(row) != width {
				return corrupted("content features row %d has %d columns, want %d", r, len(row), width)
			}
		}
		for j, s := range ct.Scaler.Scale {
			if s == 0 || math.IsNaN(s) {
				return corrupted("scaler scale %d is %v", j, s)
			}
		}
	}
	if m.Metadata.ModelVersion == "" {
		return corrupted("missing model version")
	}
	return nil
}

func checkFinite(mat [][]float64, name string) error {
	for i, row := range mat {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return corrupted("%s[%d][%d] is not finite", name, i, j)
			}
		}
	}
	return nil
}

func corrupted(format string, args ...any) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeCorrupted, "model: "+fmt.Sprintf(format, args...))
}
