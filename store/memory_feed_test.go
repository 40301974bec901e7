package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rushteam/feedrec/core"
)

var feedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSeededFeed() *MemoryFeedStore {
	s := NewMemoryFeedStore(WithFeedClock(func() time.Time { return feedNow }))
	s.AddPost(core.Post{ID: "p1", AuthorID: "a1", Content: "hello", CreatedAt: feedNow.Add(-2 * time.Hour)})
	s.AddPost(core.Post{ID: "p2", AuthorID: "a1", Content: "world", CreatedAt: feedNow.Add(-30 * time.Hour)})
	s.AddPost(core.Post{ID: "p3", AuthorID: "a2", Content: "", HasMedia: true, CreatedAt: feedNow.Add(-1 * time.Hour)})
	s.AddEngagement(
		core.EngagementEvent{UserID: "u1", PostID: "p1", Type: core.EngagementView, Timestamp: feedNow.Add(-1 * time.Hour)},
		core.EngagementEvent{UserID: "u1", PostID: "p1", Type: core.EngagementLike, Timestamp: feedNow.Add(-50 * time.Minute)},
		core.EngagementEvent{UserID: "u2", PostID: "p2", Type: core.EngagementShare, Timestamp: feedNow.Add(-3 * time.Hour)},
		core.EngagementEvent{UserID: "u2", PostID: "p1", Type: core.EngagementComment, Timestamp: feedNow.Add(-40 * 24 * time.Hour)},
	)
	return s
}

func TestMemoryFeedStore_Posts(t *testing.T) {
	s := newSeededFeed()
	ctx := context.Background()

	if _, err := s.GetPostData(ctx, "nope"); !core.IsNotFound(err) {
		t.Fatalf("GetPostData(nope) err = %v", err)
	}
	if _, err := s.GetPostAuthor(ctx, "nope"); !core.IsNotFound(err) {
		t.Fatalf("GetPostAuthor(nope) err = %v", err)
	}

	eng, _ := s.GetPostEngagementData(ctx, "p1")
	want := core.PostEngagement{Views: 1, Likes: 1, Comments: 1}
	if eng != want {
		t.Errorf("GetPostEngagementData(p1) = %+v, want %+v", eng, want)
	}

	stats, _ := s.GetAuthorStats(ctx, "a1")
	if stats.TotalPosts != 2 || stats.TotalEngagements != 4 || stats.AvgEngagementPerPost != 2 {
		t.Errorf("GetAuthorStats(a1) = %+v", stats)
	}
	empty, _ := s.GetAuthorStats(ctx, "ghost")
	if empty != (core.AuthorStats{}) {
		t.Errorf("GetAuthorStats(ghost) = %+v, want zero", empty)
	}
}

func TestMemoryFeedStore_Windows(t *testing.T) {
	s := newSeededFeed()
	ctx := context.Background()

	hist, _ := s.GetUserEngagementHistory(ctx, "u2", 30)
	if len(hist) != 1 || hist[0].PostID != "p2" {
		t.Fatalf("GetUserEngagementHistory(u2, 30) = %+v", hist)
	}

	recent, _ := s.GetRecentPosts(ctx, 24, 10)
	if !reflect.DeepEqual(recent, []string{"p3", "p1"}) {
		t.Errorf("GetRecentPosts = %v", recent)
	}

	trending, _ := s.GetTrendingPosts(ctx, 10)
	if !reflect.DeepEqual(trending, []string{"p1", "p2"}) {
		t.Errorf("GetTrendingPosts = %v", trending)
	}

	users, _ := s.FindUsersByPosts(ctx, []string{"p1", "p2"})
	if !reflect.DeepEqual(users, []string{"u1", "u2"}) {
		t.Errorf("FindUsersByPosts = %v", users)
	}

	inter, _ := s.GetUserAuthorInteractions(ctx, "u1", "a1")
	if len(inter) != 2 || inter[0].Type != core.EngagementLike {
		t.Errorf("GetUserAuthorInteractions = %+v", inter)
	}
}

func TestMemoryFeedStore_FindSimilarPosts(t *testing.T) {
	s := newSeededFeed()
	ids, err := s.FindSimilarPosts(context.Background(), 0, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "p3" {
		t.Errorf("FindSimilarPosts(0,0) = %v, want p3 first", ids)
	}
}

func TestMemoryFeedStore_ModelMetadata(t *testing.T) {
	s := NewMemoryFeedStore()
	ctx := context.Background()

	if _, err := s.GetLatestModelMetadata(ctx); !core.IsNotFound(err) {
		t.Fatalf("empty store err = %v", err)
	}

	_ = s.SaveModelMetadata(ctx, core.ModelMetadata{ModelVersion: "v1", TrainingDate: feedNow, DataSize: 10})
	_ = s.SaveModelMetadata(ctx, core.ModelMetadata{ModelVersion: "v2", TrainingDate: feedNow.Add(time.Hour), DataSize: 20})
	_ = s.SaveModelMetadata(ctx, core.ModelMetadata{ModelVersion: "v1", TrainingDate: feedNow, DataSize: 11})

	latest, err := s.GetLatestModelMetadata(ctx)
	if err != nil || latest.ModelVersion != "v2" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
}
