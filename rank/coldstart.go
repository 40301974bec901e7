package rank

import (
	"context"

	"github.com/rushteam/feedrec/model"
)

// coldStart 处理用户或帖子不在协同索引中的情况，只走一个分支：先判断用户，再判断帖子。
//
//   - 新用户：取近 7 天互动过的帖子，找到同样互动过这些帖子的用户，
//     前 NeighborSample 个中最多 NeighborLimit 个在索引内的邻居对目标帖子打分取平均；
//     目标帖子也不在索引内时，邻居的分数按新帖子分支计算
//   - 新帖子：优先在内容模型中找特征最相近的帖子，否则按存储的相似帖子查询，
//     最多 NeighborLimit 个在索引内的邻居帖子对当前用户打分取平均
//   - 找不到可用邻居时返回 ColdStartScore
func (e *Engine) coldStart(ctx context.Context, m *model.RecommendationModel, userID, postID string, userKnown, itemKnown bool) Signal {
	switch {
	case !userKnown:
		return e.coldStartUser(ctx, m, userID, postID)
	case !itemKnown:
		return e.coldStartItem(ctx, m, userID, postID)
	default:
		return available(SignalCollaborative, e.opts.NeutralScore)
	}
}

func (e *Engine) coldStartUser(ctx context.Context, m *model.RecommendationModel, userID, postID string) Signal {
	history, err := e.store.GetUserEngagementHistory(ctx, userID, e.opts.ColdStartHistoryDays)
	if err != nil {
		return unavailable(SignalCollaborative, err)
	}
	if len(history) == 0 {
		return available(SignalCollaborative, e.opts.ColdStartScore)
	}

	postIDs := make([]string, 0, len(history))
	for _, ev := range history {
		postIDs = append(postIDs, ev.PostID)
	}
	neighbors, err := e.store.FindUsersByPosts(ctx, postIDs)
	if err != nil {
		return unavailable(SignalCollaborative, err)
	}

	c := &m.Collaborative
	var users []int
	for _, n := range head(neighbors, e.opts.NeighborSample) {
		if len(users) == e.opts.NeighborLimit {
			break
		}
		if u, ok := c.UserPos(n); ok {
			users = append(users, u)
		}
	}
	if len(users) == 0 {
		return available(SignalCollaborative, e.opts.ColdStartScore)
	}

	var scores []float64
	if item, ok := c.ItemPos(postID); ok {
		for _, u := range users {
			scores = append(scores, c.Predict(u, item))
		}
		return available(SignalCollaborative, e.meanOrColdStart(scores))
	}

	// 帖子也是新帖：每个邻居按帖子冷启动打分
	similar, err := e.similarPosts(ctx, m, postID)
	if err != nil {
		return unavailable(SignalCollaborative, err)
	}
	for _, u := range users {
		if s, ok := e.similarPostScore(c, u, similar); ok {
			scores = append(scores, s)
		}
	}
	return available(SignalCollaborative, e.meanOrColdStart(scores))
}

func (e *Engine) coldStartItem(ctx context.Context, m *model.RecommendationModel, userID, postID string) Signal {
	similar, err := e.similarPosts(ctx, m, postID)
	if err != nil {
		return unavailable(SignalCollaborative, err)
	}

	c := &m.Collaborative
	user, _ := c.UserPos(userID)
	s, ok := e.similarPostScore(c, user, similar)
	if !ok {
		s = e.opts.ColdStartScore
	}
	return available(SignalCollaborative, s)
}

// similarPostScore 用前 NeighborSample 个相似帖子中最多 NeighborLimit 个在索引内的帖子为用户打分取平均。
func (e *Engine) similarPostScore(c *model.CollaborativeModel, user int, similar []string) (float64, bool) {
	var scores []float64
	for _, p := range head(similar, e.opts.NeighborSample) {
		if len(scores) == e.opts.NeighborLimit {
			break
		}
		if i, ok := c.ItemPos(p); ok {
			scores = append(scores, c.Predict(user, i))
		}
	}
	if len(scores) == 0 {
		return 0, false
	}
	return e.meanOrColdStart(scores), true
}

// similarPosts 返回与 postID 最相近的帖子，不含 postID 本身。
func (e *Engine) similarPosts(ctx context.Context, m *model.RecommendationModel, postID string) ([]string, error) {
	content := &m.Content
	if !content.Empty() {
		if ids, ok := content.NeighborsOf(postID, e.opts.NeighborSample); ok {
			return ids, nil
		}
	}

	pf, err := e.extractor.ExtractPostFeatures(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !content.Empty() {
		return content.Nearest(pf.Numeric(), e.opts.NeighborSample), nil
	}
	ids, err := e.store.FindSimilarPosts(ctx, pf.EngagementVelocity, pf.AuthorPopularity, e.opts.NeighborSample)
	if err != nil {
		return nil, err
	}
	out := ids[:0:0]
	for _, id := range ids {
		if id != postID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (e *Engine) meanOrColdStart(scores []float64) float64 {
	if len(scores) == 0 {
		return e.opts.ColdStartScore
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func head(ids []string, n int) []string {
	if n > 0 && len(ids) > n {
		return ids[:n]
	}
	return ids
}
