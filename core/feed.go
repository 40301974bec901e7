package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EngagementType 是用户对帖子的互动类型。
type EngagementType string

const (
	EngagementView    EngagementType = "VIEW"
	EngagementLike    EngagementType = "LIKE"
	EngagementComment EngagementType = "COMMENT"
	EngagementShare   EngagementType = "SHARE"
)

// engagementWeights 是互动强度权重，训练聚合与特征计算共用。
var engagementWeights = map[EngagementType]float64{
	EngagementView:    1,
	EngagementLike:    3,
	EngagementComment: 5,
	EngagementShare:   7,
}

// Weight 返回互动类型的权重；未知类型返回 0。
func (t EngagementType) Weight() float64 {
	return engagementWeights[t]
}

// Valid 判断是否为已知的互动类型。
func (t EngagementType) Valid() bool {
	_, ok := engagementWeights[t]
	return ok
}

// ParseEngagementType 解析互动类型（大小写不敏感）。
func ParseEngagementType(s string) (EngagementType, error) {
	t := EngagementType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewDomainError(ModuleStore, ErrorCodeInvalidInput, fmt.Sprintf("unknown engagement type %q", s))
	}
	return t, nil
}

// EngagementEvent 是一条互动记录。Duration 单位为秒。
type EngagementEvent struct {
	UserID    string         `json:"user_id"`
	PostID    string         `json:"post_id"`
	Type      EngagementType `json:"engagement_type"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"`
}

// Post 是帖子的只读视图。
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	HasMedia  bool      `json:"has_media"`
	CreatedAt time.Time `json:"created_at"`
}

// PostEngagement 是帖子的互动计数（缺失计为 0）。
type PostEngagement struct {
	Views    int `json:"views"`
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
}

// WeightedSum 返回按互动权重加权的总量。
func (e PostEngagement) WeightedSum() float64 {
	return float64(e.Views)*EngagementView.Weight() +
		float64(e.Likes)*EngagementLike.Weight() +
		float64(e.Comments)*EngagementComment.Weight() +
		float64(e.Shares)*EngagementShare.Weight()
}

// AuthorStats 是作者的聚合统计。
type AuthorStats struct {
	TotalPosts           int     `json:"total_posts"`
	TotalEngagements     int     `json:"total_engagements"`
	AvgEngagementPerPost float64 `json:"avg_engagement_per_post"`
}

// ModelMetadata 描述一个已持久化的模型版本。
type ModelMetadata struct {
	ModelVersion string    `json:"model_version"`
	TrainingDate time.Time `json:"training_date"`
	DataSize     int       `json:"data_size"`
	IsFallback   bool      `json:"is_fallback"`
}

// FeedStore 是存储协作方的领域接口，由 store 包实现。
//
// 约定：
//   - 实体不存在返回 NOT_FOUND 领域错误（IsNotFound 可判断）
//   - 底层连接失败返回 UNAVAILABLE 领域错误
//   - 列表查询在无数据时返回空切片而不是错误
type FeedStore interface {
	// GetEngagementData 返回 [start, end] 区间内的全部互动
	GetEngagementData(ctx context.Context, start, end time.Time) ([]EngagementEvent, error)

	// GetUserEngagementHistory 返回用户最近 days 天的互动
	GetUserEngagementHistory(ctx context.Context, userID string, days int) ([]EngagementEvent, error)

	// GetPostData 返回帖子，不存在时返回 NOT_FOUND
	GetPostData(ctx context.Context, postID string) (*Post, error)

	// GetPostEngagementData 返回帖子的互动计数
	GetPostEngagementData(ctx context.Context, postID string) (PostEngagement, error)

	// GetPostAuthor 返回帖子作者 ID，不存在时返回 NOT_FOUND
	GetPostAuthor(ctx context.Context, postID string) (string, error)

	// GetUserAuthorInteractions 返回用户与作者帖子的互动，最多 50 条，最新在前
	GetUserAuthorInteractions(ctx context.Context, userID, authorID string) ([]EngagementEvent, error)

	// GetAuthorStats 返回作者统计
	GetAuthorStats(ctx context.Context, authorID string) (AuthorStats, error)

	// FindUsersByPosts 返回互动过任一帖子的去重用户，最多 50 个
	FindUsersByPosts(ctx context.Context, postIDs []string) ([]string, error)

	// FindSimilarPosts 返回互动画像接近的帖子 ID
	FindSimilarPosts(ctx context.Context, engagementVelocity, authorPopularity float64, limit int) ([]string, error)

	// GetRecentPosts 返回最近 hours 小时内发布的帖子 ID，最新在前
	GetRecentPosts(ctx context.Context, hours, limit int) ([]string, error)

	// GetTrendingPosts 返回最近 24 小时互动最多的帖子 ID
	GetTrendingPosts(ctx context.Context, limit int) ([]string, error)

	// SaveModelMetadata 按版本号写入或覆盖模型元数据
	SaveModelMetadata(ctx context.Context, meta ModelMetadata) error

	// GetLatestModelMetadata 返回训练时间最新的模型元数据，不存在时返回 NOT_FOUND
	GetLatestModelMetadata(ctx context.Context) (*ModelMetadata, error)
}

// 存储协作方的错误构造
var (
	ErrPostNotFound   = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: post not found")
	ErrModelNotFound  = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: model metadata not found")
	ErrAuthorNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: post author not found")
)

// ErrStoreUnavailable 包装底层连接错误为 UNAVAILABLE。
func ErrStoreUnavailable(op string, err error) error {
	return WrapDomainError(ModuleStore, ErrorCodeUnavailable, "store: "+op, err)
}
