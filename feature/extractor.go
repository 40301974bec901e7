package feature

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrec/core"
)

// Extractor 从存储协作方实时计算用户、帖子与交叉特征。
//
// 约定：
//   - 实体不存在（帖子、作者）走默认值，不是错误
//   - 存储不可用直接返回错误，由调用方决定是否降级
//   - 所有分母下限为 1
//
// 使用示例：
//
//	ext := feature.NewExtractor(feedStore, feature.WithLogger(logger))
//	uf, err := ext.ExtractUserFeatures(ctx, "u1")
type Extractor struct {
	store       core.FeedStore
	now         func() time.Time
	historyDays int
	recencyDays int
	logger      zerolog.Logger
}

// ExtractorOption 特征抽取器配置选项
type ExtractorOption func(*Extractor)

// WithClock 注入时钟，用于计算帖子年龄与时段匹配
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithHistoryDays 设置用户特征的历史窗口（默认 30 天）
func WithHistoryDays(days int) ExtractorOption {
	return func(e *Extractor) {
		if days > 0 {
			e.historyDays = days
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger zerolog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger.With().Str("component", "feature").Logger()
	}
}

// NewExtractor 创建特征抽取器
func NewExtractor(store core.FeedStore, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		store:       store,
		now:         time.Now,
		historyDays: 30,
		recencyDays: 7,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now 返回抽取器使用的当前时间。
func (e *Extractor) Now() time.Time { return e.now() }

// ExtractUserFeatures 基于最近 historyDays 天的互动计算用户特征。
func (e *Extractor) ExtractUserFeatures(ctx context.Context, userID string) (UserFeatures, error) {
	history, err := e.store.GetUserEngagementHistory(ctx, userID, e.historyDays)
	if err != nil {
		return UserFeatures{}, fmt.Errorf("user engagement history: %w", err)
	}
	return e.userFeaturesFrom(userID, history), nil
}

func (e *Extractor) userFeaturesFrom(userID string, history []core.EngagementEvent) UserFeatures {
	if len(history) == 0 {
		return DefaultUserFeatures(userID)
	}

	var (
		views, social int
		duration      float64
		posts         = make(map[string]struct{}, len(history))
		hourCounts    = make(map[int]int)
		recentSince   = e.now().Add(-time.Duration(e.recencyDays) * 24 * time.Hour)
		recent        int
	)
	for _, ev := range history {
		switch ev.Type {
		case core.EngagementView:
			views++
		case core.EngagementLike, core.EngagementComment, core.EngagementShare:
			social++
		}
		duration += ev.Duration
		posts[ev.PostID] = struct{}{}
		hourCounts[ev.Timestamp.Hour()]++
		if ev.Timestamp.After(recentSince) {
			recent++
		}
	}

	total := float64(len(history))
	return UserFeatures{
		UserID:             userID,
		TotalEngagements:   len(history),
		AvgSessionDuration: duration / total,
		EngagementRate:     float64(social) / math.Max(float64(views), 1),
		PreferredHours:     topHours(hourCounts, 3),
		ContentDiversity:   float64(len(posts)) / math.Max(total, 1),
		SocialActivity:     float64(social) / math.Max(total, 1),
		RecencyScore:       float64(recent) / math.Max(total, 1),
	}
}

// topHours 按出现次数降序取前 n 个小时，次数相同按小时升序。
func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// ExtractPostFeatures 计算帖子特征；帖子不存在时返回默认特征。
func (e *Extractor) ExtractPostFeatures(ctx context.Context, postID string) (PostFeatures, error) {
	post, err := e.store.GetPostData(ctx, postID)
	if err != nil {
		if core.IsNotFound(err) {
			return DefaultPostFeatures(postID), nil
		}
		return PostFeatures{}, fmt.Errorf("post data: %w", err)
	}

	eng, err := e.store.GetPostEngagementData(ctx, postID)
	if err != nil {
		return PostFeatures{}, fmt.Errorf("post engagement: %w", err)
	}

	stats, err := e.store.GetAuthorStats(ctx, post.AuthorID)
	if err != nil {
		return PostFeatures{}, fmt.Errorf("author stats: %w", err)
	}

	age := e.now().Sub(post.CreatedAt).Hours()
	return PostFeatures{
		PostID:             postID,
		AgeHours:           age,
		TotalViews:         eng.Views,
		TotalLikes:         eng.Likes,
		TotalComments:      eng.Comments,
		TotalShares:        eng.Shares,
		EngagementVelocity: eng.WeightedSum() / math.Max(age, 1),
		AuthorPopularity:   stats.AvgEngagementPerPost,
		ContentLength:      utf8.RuneCountInString(post.Content),
		HasMedia:           post.HasMedia,
		ViralityScore:      float64(eng.Shares) / math.Max(float64(eng.Views), 1),
	}, nil
}

// ExtractInteractionFeatures 组合用户特征、帖子特征与作者亲密度。
func (e *Extractor) ExtractInteractionFeatures(ctx context.Context, userID, postID string) (InteractionFeatures, error) {
	user, err := e.ExtractUserFeatures(ctx, userID)
	if err != nil {
		return InteractionFeatures{}, err
	}
	post, err := e.ExtractPostFeatures(ctx, postID)
	if err != nil {
		return InteractionFeatures{}, err
	}

	var history []core.EngagementEvent
	author, err := e.store.GetPostAuthor(ctx, postID)
	switch {
	case err == nil:
		history, err = e.store.GetUserAuthorInteractions(ctx, userID, author)
		if err != nil {
			return InteractionFeatures{}, fmt.Errorf("user author interactions: %w", err)
		}
	case core.IsNotFound(err):
		e.logger.Debug().Str("post_id", postID).Msg("post author missing, empty interaction history")
	default:
		return InteractionFeatures{}, fmt.Errorf("post author: %w", err)
	}

	return InteractionFeatures{
		User:               user,
		Post:               post,
		UserPostSimilarity: 1 / (1 + math.Abs(user.SocialActivity-post.EngagementVelocity)),
		AuthorAffinity:     float64(len(history)) / math.Max(float64(user.TotalEngagements), 1),
		TimeMatch:          TimeMatch(e.now().Hour(), user.PreferredHours),
		FreshnessScore:     Freshness(post.AgeHours),
		PopularityMatch:    1 / (1 + math.Abs(user.EngagementRate-post.EngagementVelocity)),
	}, nil
}
