package feature

import "math"

// DefaultPreferredHours 是无历史用户的偏好时段。
var DefaultPreferredHours = []int{12, 18, 20}

// UserFeatures 是用户特征向量，每次请求重新计算，不落库。
type UserFeatures struct {
	UserID             string  `json:"user_id"`
	TotalEngagements   int     `json:"total_engagements"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	EngagementRate     float64 `json:"engagement_rate"`
	PreferredHours     []int   `json:"preferred_hours"`
	ContentDiversity   float64 `json:"content_diversity"`
	SocialActivity     float64 `json:"social_activity"`
	RecencyScore       float64 `json:"recency_score"`
}

// DefaultUserFeatures 返回无历史用户的默认特征。
func DefaultUserFeatures(userID string) UserFeatures {
	hours := make([]int, len(DefaultPreferredHours))
	copy(hours, DefaultPreferredHours)
	return UserFeatures{UserID: userID, PreferredHours: hours}
}

// PostFeatures 是帖子特征向量。
type PostFeatures struct {
	PostID             string  `json:"post_id"`
	AgeHours           float64 `json:"age_hours"`
	TotalViews         int     `json:"total_views"`
	TotalLikes         int     `json:"total_likes"`
	TotalComments      int     `json:"total_comments"`
	TotalShares        int     `json:"total_shares"`
	EngagementVelocity float64 `json:"engagement_velocity"`
	AuthorPopularity   float64 `json:"author_popularity"`
	ContentLength      int     `json:"content_length"`
	HasMedia           bool    `json:"has_media"`
	ViralityScore      float64 `json:"virality_score"`
}

// DefaultPostFeatures 返回帖子缺失时的默认特征，保留 PostID。
func DefaultPostFeatures(postID string) PostFeatures {
	return PostFeatures{PostID: postID}
}

// NumericColumns 是内容模型使用的数值列，顺序与 Numeric 一致。
var NumericColumns = []string{
	"age_hours",
	"total_views",
	"total_likes",
	"total_comments",
	"total_shares",
	"engagement_velocity",
	"author_popularity",
	"content_length",
	"virality_score",
}

// Numeric 按 NumericColumns 的顺序返回数值特征。
func (p PostFeatures) Numeric() []float64 {
	return []float64{
		p.AgeHours,
		float64(p.TotalViews),
		float64(p.TotalLikes),
		float64(p.TotalComments),
		float64(p.TotalShares),
		p.EngagementVelocity,
		p.AuthorPopularity,
		float64(p.ContentLength),
		p.ViralityScore,
	}
}

// InteractionFeatures 是 (用户, 帖子) 交叉特征，包含两侧的完整特征。
type InteractionFeatures struct {
	User UserFeatures `json:"user"`
	Post PostFeatures `json:"post"`

	UserPostSimilarity float64 `json:"user_post_similarity"`
	AuthorAffinity     float64 `json:"author_affinity"`
	TimeMatch          float64 `json:"time_match"`
	FreshnessScore     float64 `json:"freshness_score"`
	PopularityMatch    float64 `json:"popularity_match"`
}

// Map 把交叉特征展开成扁平的 map，便于日志与表达式过滤。
func (f InteractionFeatures) Map() map[string]float64 {
	return map[string]float64{
		"total_engagements":    float64(f.User.TotalEngagements),
		"avg_session_duration": f.User.AvgSessionDuration,
		"engagement_rate":      f.User.EngagementRate,
		"content_diversity":    f.User.ContentDiversity,
		"social_activity":      f.User.SocialActivity,
		"recency_score":        f.User.RecencyScore,
		"age_hours":            f.Post.AgeHours,
		"total_views":          float64(f.Post.TotalViews),
		"total_likes":          float64(f.Post.TotalLikes),
		"total_comments":       float64(f.Post.TotalComments),
		"total_shares":         float64(f.Post.TotalShares),
		"engagement_velocity":  f.Post.EngagementVelocity,
		"author_popularity":    f.Post.AuthorPopularity,
		"content_length":       float64(f.Post.ContentLength),
		"has_media":            boolToFloat(f.Post.HasMedia),
		"virality_score":       f.Post.ViralityScore,
		"user_post_similarity": f.UserPostSimilarity,
		"author_affinity":      f.AuthorAffinity,
		"time_match":           f.TimeMatch,
		"freshness_score":      f.FreshnessScore,
		"popularity_match":     f.PopularityMatch,
	}
}

// Freshness 是按 24 小时衰减的新鲜度：exp(-age/24)。
func Freshness(ageHours float64) float64 {
	return math.Exp(-ageHours / 24)
}

// TimeMatch 计算当前小时与偏好时段的匹配度。
// 命中返回 1，否则返回 1/(1+最小小时差)，小时差按数值计算不绕 24 小时。
func TimeMatch(currentHour int, preferred []int) float64 {
	if len(preferred) == 0 {
		return 0
	}
	minDist := math.MaxInt
	for _, h := range preferred {
		d := currentHour - h
		if d < 0 {
			d = -d
		}
		if d == 0 {
			return 1
		}
		if d < minDist {
			minDist = d
		}
	}
	return 1 / (1 + float64(minDist))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
