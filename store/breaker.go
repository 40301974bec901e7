package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/metrics"
)

// BreakerOptions 是存储熔断参数。
type BreakerOptions struct {
	Name             string
	FailureThreshold uint32        // 连续 UNAVAILABLE 次数达到该值时熔断
	Timeout          time.Duration // 熔断后多久进入 half-open
	MaxRequests      uint32        // half-open 状态允许的试探请求数
	Logger           zerolog.Logger
}

// DefaultBreakerOptions 返回默认熔断参数：连续 5 次失败熔断，30 秒后试探。
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		Name:             "feed-store",
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
		Logger:           zerolog.Nop(),
	}
}

// BreakerFeedStore 为 core.FeedStore 加上熔断保护。
// 只有 UNAVAILABLE 错误计入失败，NOT_FOUND 等业务错误视为成功；
// 熔断期间直接返回 UNAVAILABLE，不再访问底层存储。
type BreakerFeedStore struct {
	next core.FeedStore
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

var _ core.FeedStore = (*BreakerFeedStore)(nil)

// NewBreakerFeedStore 包装存储协作方。
func NewBreakerFeedStore(next core.FeedStore, opts BreakerOptions) *BreakerFeedStore {
	def := DefaultBreakerOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = def.MaxRequests
	}
	logger := opts.Logger.With().Str("component", "store.breaker").Logger()

	metrics.RecordBreakerState(opts.Name, breakerStateValue(gobreaker.StateClosed))
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("feed store breaker state changed")
			metrics.RecordBreakerState(name, breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !core.IsUnavailable(err)
		},
	})
	return &BreakerFeedStore{next: next, cb: cb, name: opts.Name}
}

// State 返回熔断器当前状态。
func (b *BreakerFeedStore) State() gobreaker.State { return b.cb.State() }

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// call 在熔断器内执行 fn 并还原类型。
func call[T any](b *BreakerFeedStore, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordBreakerRejected(b.name)
			return zero, core.ErrStoreUnavailable(op, err)
		}
		return zero, err
	}
	v, ok := res.(T)
	if !ok && res != nil {
		return zero, fmt.Errorf("store breaker: unexpected result type %T for %s", res, op)
	}
	return v, nil
}

func (b *BreakerFeedStore) GetEngagementData(ctx context.Context, start, end time.Time) ([]core.EngagementEvent, error) {
	return call(b, "engagement data", func() ([]core.EngagementEvent, error) {
		return b.next.GetEngagementData(ctx, start, end)
	})
}

func (b *BreakerFeedStore) GetUserEngagementHistory(ctx context.Context, userID string, days int) ([]core.EngagementEvent, error) {
	return call(b, "user engagement history", func() ([]core.EngagementEvent, error) {
		return b.next.GetUserEngagementHistory(ctx, userID, days)
	})
}

func (b *BreakerFeedStore) GetPostData(ctx context.Context, postID string) (*core.Post, error) {
	return call(b, "post data", func() (*core.Post, error) {
		return b.next.GetPostData(ctx, postID)
	})
}

func (b *BreakerFeedStore) GetPostEngagementData(ctx context.Context, postID string) (core.PostEngagement, error) {
	return call(b, "post engagement", func() (core.PostEngagement, error) {
		return b.next.GetPostEngagementData(ctx, postID)
	})
}

func (b *BreakerFeedStore) GetPostAuthor(ctx context.Context, postID string) (string, error) {
	return call(b, "post author", func() (string, error) {
		return b.next.GetPostAuthor(ctx, postID)
	})
}

func (b *BreakerFeedStore) GetUserAuthorInteractions(ctx context.Context, userID, authorID string) ([]core.EngagementEvent, error) {
	return call(b, "user author interactions", func() ([]core.EngagementEvent, error) {
		return b.next.GetUserAuthorInteractions(ctx, userID, authorID)
	})
}

func (b *BreakerFeedStore) GetAuthorStats(ctx context.Context, authorID string) (core.AuthorStats, error) {
	return call(b, "author stats", func() (core.AuthorStats, error) {
		return b.next.GetAuthorStats(ctx, authorID)
	})
}

func (b *BreakerFeedStore) FindUsersByPosts(ctx context.Context, postIDs []string) ([]string, error) {
	return call(b, "users by posts", func() ([]string, error) {
		return b.next.FindUsersByPosts(ctx, postIDs)
	})
}

func (b *BreakerFeedStore) FindSimilarPosts(ctx context.Context, engagementVelocity, authorPopularity float64, limit int) ([]string, error) {
	return call(b, "similar posts", func() ([]string, error) {
		return b.next.FindSimilarPosts(ctx, engagementVelocity, authorPopularity, limit)
	})
}

func (b *BreakerFeedStore) GetRecentPosts(ctx context.Context, hours, limit int) ([]string, error) {
	return call(b, "recent posts", func() ([]string, error) {
		return b.next.GetRecentPosts(ctx, hours, limit)
	})
}

func (b *BreakerFeedStore) GetTrendingPosts(ctx context.Context, limit int) ([]string, error) {
	return call(b, "trending posts", func() ([]string, error) {
		return b.next.GetTrendingPosts(ctx, limit)
	})
}

func (b *BreakerFeedStore) SaveModelMetadata(ctx context.Context, meta core.ModelMetadata) error {
	_, err := call(b, "save model metadata", func() (struct{}, error) {
		return struct{}{}, b.next.SaveModelMetadata(ctx, meta)
	})
	return err
}

func (b *BreakerFeedStore) GetLatestModelMetadata(ctx context.Context) (*core.ModelMetadata, error) {
	return call(b, "latest model metadata", func() (*core.ModelMetadata, error) {
		return b.next.GetLatestModelMetadata(ctx)
	})
}
