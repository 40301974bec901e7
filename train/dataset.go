package train

import (
	"math"
	"sort"
	"time"

	"github.com/rushteam/feedrec/core"
)

// Interaction 是一个 (用户, 帖子) 对的聚合训练样本。
type Interaction struct {
	UserID          string    `json:"user_id"`
	PostID          string    `json:"post_id"`
	EngagementScore float64   `json:"engagement_score"`
	LastSeen        time.Time `json:"last_seen"`
	DaysAgo         int       `json:"days_ago"`
	TimeWeight      float64   `json:"time_weight"`
	FinalScore      float64   `json:"final_score"`
}

// Aggregate 按 (用户, 帖子) 求加权互动和与最近时间，再乘以 exp(-days_ago/7)。
// days_ago 为向下取整的整天数；结果按 (用户, 帖子) 排序，与输入顺序无关。
func Aggregate(events []core.EngagementEvent, now time.Time) []Interaction {
	type pair struct{ user, post string }
	agg := make(map[pair]*Interaction)
	for _, ev := range events {
		key := pair{ev.UserID, ev.PostID}
		it, ok := agg[key]
		if !ok {
			it = &Interaction{UserID: ev.UserID, PostID: ev.PostID, LastSeen: ev.Timestamp}
			agg[key] = it
		}
		it.EngagementScore += ev.Type.Weight()
		if ev.Timestamp.After(it.LastSeen) {
			it.LastSeen = ev.Timestamp
		}
	}

	out := make([]Interaction, 0, len(agg))
	for _, it := range agg {
		it.DaysAgo = int(math.Floor(now.Sub(it.LastSeen).Hours() / 24))
		it.TimeWeight = math.Exp(-float64(it.DaysAgo) / 7)
		it.FinalScore = it.EngagementScore * it.TimeWeight
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].PostID < out[j].PostID
	})
	return out
}

// interactionMatrix 是 用户×帖子 的打分矩阵，缺失项为 0。
type interactionMatrix struct {
	users  []string
	items  []string
	values [][]float64
}

// buildMatrix 以排序后的用户与帖子 ID 作为行列索引。
func buildMatrix(rows []Interaction) interactionMatrix {
	userSet := make(map[string]struct{})
	itemSet := make(map[string]struct{})
	for _, r := range rows {
		userSet[r.UserID] = struct{}{}
		itemSet[r.PostID] = struct{}{}
	}
	users := sortedKeys(userSet)
	items := sortedKeys(itemSet)
	userPos := make(map[string]int, len(users))
	for i, u := range users {
		userPos[u] = i
	}
	itemPos := make(map[string]int, len(items))
	for i, p := range items {
		itemPos[p] = i
	}

	values := newMatrix(len(users), len(items))
	for _, r := range rows {
		values[userPos[r.UserID]][itemPos[r.PostID]] += r.FinalScore
	}
	return interactionMatrix{users: users, items: items, values: values}
}

// contentSample 取最多 limit 个帖子，按最近互动时间降序，时间相同按 ID 升序。
func contentSample(rows []Interaction, limit int) []string {
	last := make(map[string]time.Time)
	for _, r := range rows {
		if t, ok := last[r.PostID]; !ok || r.LastSeen.After(t) {
			last[r.PostID] = r.LastSeen
		}
	}
	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := last[ids[i]], last[ids[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// factorCount 返回 min(maxFactors, min(users, items)/2)。
func factorCount(users, items, maxFactors int) int {
	n := users
	if items < n {
		n = items
	}
	n /= 2
	if n > maxFactors {
		n = maxFactors
	}
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
