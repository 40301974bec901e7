package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/feedrec/core"
)

// MemoryFeedStore 是内存实现的 core.FeedStore，语义与 PostgresFeedStore 一致，用于测试/本地运行。
type MemoryFeedStore struct {
	mu     sync.RWMutex
	posts  map[string]core.Post
	events []core.EngagementEvent
	models map[string]core.ModelMetadata
	now    func() time.Time
}

// MemoryFeedOption 配置 MemoryFeedStore。
type MemoryFeedOption func(*MemoryFeedStore)

// WithFeedClock 注入时钟。
func WithFeedClock(now func() time.Time) MemoryFeedOption {
	return func(s *MemoryFeedStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryFeedStore(opts ...MemoryFeedOption) *MemoryFeedStore {
	s := &MemoryFeedStore{
		posts:  make(map[string]core.Post),
		models: make(map[string]core.ModelMetadata),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ core.FeedStore = (*MemoryFeedStore)(nil)

// AddPost 写入或覆盖帖子。
func (s *MemoryFeedStore) AddPost(p core.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

// AddEngagement 追加互动记录。
func (s *MemoryFeedStore) AddEngagement(events ...core.EngagementEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *MemoryFeedStore) GetEngagementData(_ context.Context, start, end time.Time) ([]core.EngagementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.EngagementEvent, 0)
	for _, ev := range s.events {
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryFeedStore) GetUserEngagementHistory(_ context.Context, userID string, days int) ([]core.EngagementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	out := make([]core.EngagementEvent, 0)
	for _, ev := range s.events {
		if ev.UserID == userID && !ev.Timestamp.Before(start) {
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryFeedStore) GetPostData(_ context.Context, postID string) (*core.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil, core.ErrPostNotFound
	}
	return &p, nil
}

func (s *MemoryFeedStore) GetPostEngagementData(_ context.Context, postID string) (core.PostEngagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engagementLocked(postID), nil
}

func (s *MemoryFeedStore) engagementLocked(postID string) core.PostEngagement {
	var e core.PostEngagement
	for _, ev := range s.events {
		if ev.PostID != postID {
			continue
		}
		switch ev.Type {
		case core.EngagementView:
			e.Views++
		case core.EngagementLike:
			e.Likes++
		case core.EngagementComment:
			e.Comments++
		case core.EngagementShare:
			e.Shares++
		}
	}
	return e
}

func (s *MemoryFeedStore) GetPostAuthor(_ context.Context, postID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[postID]
	if !ok {
		return "", core.ErrAuthorNotFound
	}
	return p.AuthorID, nil
}

func (s *MemoryFeedStore) GetUserAuthorInteractions(_ context.Context, userID, authorID string) ([]core.EngagementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.EngagementEvent, 0)
	for _, ev := range s.events {
		if ev.UserID != userID {
			continue
		}
		if p, ok := s.posts[ev.PostID]; ok && p.AuthorID == authorID {
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	if len(out) > 50 {
		out = out[:50]
	}
	return out, nil
}

func (s *MemoryFeedStore) GetAuthorStats(_ context.Context, authorID string) (core.AuthorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorStatsLocked(authorID), nil
}

func (s *MemoryFeedStore) authorStatsLocked(authorID string) core.AuthorStats {
	var st core.AuthorStats
	owned := make(map[string]struct{})
	for id, p := range s.posts {
		if p.AuthorID == authorID {
			owned[id] = struct{}{}
		}
	}
	st.TotalPosts = len(owned)
	for _, ev := range s.events {
		if _, ok := owned[ev.PostID]; ok {
			st.TotalEngagements++
		}
	}
	if st.TotalPosts > 0 {
		st.AvgEngagementPerPost = float64(st.TotalEngagements) / float64(st.TotalPosts)
	}
	return st
}

func (s *MemoryFeedStore) FindUsersByPosts(_ context.Context, postIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ev := range s.events {
		if _, ok := wanted[ev.PostID]; !ok {
			continue
		}
		if _, dup := seen[ev.UserID]; dup {
			continue
		}
		seen[ev.UserID] = struct{}{}
		out = append(out, ev.UserID)
	}
	sort.Strings(out)
	if len(out) > 50 {
		out = out[:50]
	}
	return out, nil
}

func (s *MemoryFeedStore) FindSimilarPosts(_ context.Context, engagementVelocity, authorPopularity float64, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	now := s.now()
	type scored struct {
		id   string
		dist float64
	}
	popularity := make(map[string]float64)
	all := make([]scored, 0, len(s.posts))
	for id, p := range s.posts {
		pop, ok := popularity[p.AuthorID]
		if !ok {
			pop = s.authorStatsLocked(p.AuthorID).AvgEngagementPerPost
			popularity[p.AuthorID] = pop
		}
		age := math.Max(now.Sub(p.CreatedAt).Hours(), 1)
		velocity := s.engagementLocked(id).WeightedSum() / age
		all = append(all, scored{id: id, dist: math.Abs(velocity-engagementVelocity) + math.Abs(pop-authorPopularity)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].id < all[j].id
	})
	out := make([]string, 0, limit)
	for i := 0; i < len(all) && i < limit; i++ {
		out = append(out, all[i].id)
	}
	return out, nil
}

func (s *MemoryFeedStore) GetRecentPosts(_ context.Context, hours, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.now().Add(-time.Duration(hours) * time.Hour)
	recent := make([]core.Post, 0)
	for _, p := range s.posts {
		if !p.CreatedAt.Before(start) {
			recent = append(recent, p)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID < recent[j].ID
	})
	out := make([]string, 0, len(recent))
	for i := 0; i < len(recent) && (limit <= 0 || i < limit); i++ {
		out = append(out, recent[i].ID)
	}
	return out, nil
}

func (s *MemoryFeedStore) GetTrendingPosts(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().Add(-24 * time.Hour)
	counts := make(map[string]int)
	for _, ev := range s.events {
		if !ev.Timestamp.Before(since) {
			counts[ev.PostID]++
		}
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryFeedStore) SaveModelMetadata(_ context.Context, meta core.ModelMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[meta.ModelVersion] = meta
	return nil
}

func (s *MemoryFeedStore) GetLatestModelMetadata(_ context.Context) (*core.ModelMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *core.ModelMetadata
	for _, m := range s.models {
		m := m
		if latest == nil || m.TrainingDate.After(latest.TrainingDate) ||
			(m.TrainingDate.Equal(latest.TrainingDate) && m.ModelVersion > latest.ModelVersion) {
			latest = &m
		}
	}
	if latest == nil {
		return nil, core.ErrModelNotFound
	}
	return latest, nil
}

func sortNewestFirst(events []core.EngagementEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
