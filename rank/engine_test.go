package rank

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/filter"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
	"github.com/rushteam/feedrec/store"
)

var rankNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rankClock() time.Time { return rankNow }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// staticModels 是固定快照的 SnapshotProvider。
type staticModels struct {
	m       *model.RecommendationModel
	loadErr error
	loads   int
}

func (s *staticModels) Current() *model.RecommendationModel { return s.m }

func (s *staticModels) LoadLatest(context.Context) (*model.RecommendationModel, error) {
	s.loads++
	return s.m, s.loadErr
}

// 协同部分：u1=[1] u2=[2]，p1=[1] p2=[0.5]
func handModel() *model.RecommendationModel {
	m := &model.RecommendationModel{
		Collaborative: model.CollaborativeModel{
			UserFactors: [][]float64{{1}, {2}},
			ItemFactors: [][]float64{{1, 0.5}},
			UserIndex:   []string{"u1", "u2"},
			ItemIndex:   []string{"p1", "p2"},
			NFactors:    1,
		},
		Metadata: core.ModelMetadata{ModelVersion: "v20240501_000000", TrainingDate: rankNow.Add(-12 * time.Hour), DataSize: 150},
	}
	m.BuildIndex()
	return m
}

func seededFeed() *store.MemoryFeedStore {
	fs := store.NewMemoryFeedStore(store.WithFeedClock(rankClock))
	fs.AddPost(core.Post{ID: "p1", AuthorID: "a1", Content: "first", CreatedAt: rankNow.Add(-time.Hour)})
	fs.AddPost(core.Post{ID: "p2", AuthorID: "a1", Content: "second", CreatedAt: rankNow.Add(-30 * time.Hour)})
	fs.AddPost(core.Post{ID: "p9", AuthorID: "a2", Content: "brand new", CreatedAt: rankNow.Add(-10 * time.Minute)})
	fs.AddEngagement(
		core.EngagementEvent{UserID: "u1", PostID: "p1", Type: core.EngagementLike, Timestamp: rankNow.Add(-50 * time.Minute)},
		core.EngagementEvent{UserID: "u2", PostID: "p2", Type: core.EngagementShare, Timestamp: rankNow.Add(-3 * time.Hour)},
		core.EngagementEvent{UserID: "newbie", PostID: "p1", Type: core.EngagementView, Timestamp: rankNow.Add(-2 * time.Hour)},
	)
	return fs
}

func newEngine(fs core.FeedStore, models SnapshotProvider, opts ...EngineOption) *Engine {
	ext := feature.NewExtractor(fs, feature.WithClock(rankClock))
	return NewEngine(fs, ext, models, append([]EngineOption{WithClock(rankClock)}, opts...)...)
}

func TestCollaborativeSignal_ColdStart(t *testing.T) {
	fs := seededFeed()
	m := handModel()
	e := newEngine(fs, &staticModels{m: m})
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		post   string
		model  *model.RecommendationModel
		want   float64
		detail string
	}{
		{name: "known pair", user: "u2", post: "p1", model: m, want: model.Sigmoid(2)},
		{name: "unseen user without history", user: "stranger", post: "p1", model: m, want: 0.3},
		{name: "unseen user with neighbors", user: "newbie", post: "p2", model: m, want: model.Sigmoid(0.5), detail: "neighbor u1 scores p2"},
		{name: "unseen user and unseen post", user: "newbie", post: "p9", model: m, want: (model.Sigmoid(1) + model.Sigmoid(0.5)) / 2, detail: "neighbor u1 scores p9 through similar posts"},
		{name: "unseen post by store similarity", user: "u2", post: "p9", model: m, want: (model.Sigmoid(2) + model.Sigmoid(1)) / 2},
		{name: "unseen post without neighbors", user: "u2", post: "ghost", model: m, want: (model.Sigmoid(2) + model.Sigmoid(1)) / 2},
		{name: "empty factors", user: "u1", post: "p1", model: model.NewFallback("v0", rankNow, 10), want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.collaborativeSignal(ctx, tt.model, tt.user, tt.post)
			if !s.Available {
				t.Fatalf("signal unavailable: %v", s.Err)
			}
			if !approx(s.Value, tt.want) {
				t.Errorf("collaborative = %v, want %v %s", s.Value, tt.want, tt.detail)
			}
		})
	}
}

func TestCollaborativeSignal_ContentNeighbors(t *testing.T) {
	m := handModel()
	m.Content = model.ContentModel{
		PostIDs:        []string{"p9", "p1", "p2"},
		FeatureColumns: []string{"x"},
		Features:       [][]float64{{1}, {0.9}, {-1}},
		Scaler:         model.Scaler{Mean: []float64{0}, Scale: []float64{1}},
		Similarity:     [][]float64{{1, 0.9, 0.1}, {0.9, 1, 0.2}, {0.1, 0.2, 1}},
	}
	m.BuildIndex()

	opts := DefaultOptions()
	opts.NeighborLimit = 1
	e := newEngine(seededFeed(), &staticModels{m: m}, WithOptions(opts))

	s := e.collaborativeSignal(context.Background(), m, "u2", "p9")
	if !approx(s.Value, model.Sigmoid(2)) {
		t.Errorf("collaborative = %v, want nearest content neighbor p1 = %v", s.Value, model.Sigmoid(2))
	}
}

func TestPredictScore(t *testing.T) {
	fs := seededFeed()
	m := handModel()
	e := newEngine(fs, &staticModels{m: m})
	ctx := context.Background()

	pred, err := e.PredictScore(ctx, m, "u1", "p1")
	if err != nil {
		t.Fatal(err)
	}

	f, _ := e.extractor.ExtractInteractionFeatures(ctx, "u1", "p1")
	eng, _ := fs.GetPostEngagementData(ctx, "p1")
	want := 0.4*model.Sigmoid(1) +
		0.3*model.Clamp01(ContentScore(f)) +
		0.2*model.Clamp01(Popularity(eng)) +
		0.1*feature.Freshness(1)
	if !approx(pred.Score, model.Clamp01(want)) {
		t.Errorf("score = %v, want %v", pred.Score, want)
	}
	if pred.Score < 0 || pred.Score > 1 {
		t.Errorf("score %v out of bounds", pred.Score)
	}
	breakdown := pred.Breakdown(0.5)
	if len(breakdown) != 4 || !approx(breakdown[SignalCollaborative], model.Sigmoid(1)) {
		t.Errorf("breakdown = %v", breakdown)
	}

	missing, err := e.PredictScore(ctx, m, "u1", "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if got := missing.Breakdown(0.5)[SignalFreshness]; got != 0.5 {
		t.Errorf("missing post freshness = %v, want 0.5", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.PredictScore(cancelled, m, "u1", "p1"); err == nil {
		t.Error("cancelled context should fail the pair")
	}
}

// failingFeed 对指定帖子的读取返回不可用错误。
type failingFeed struct {
	*store.MemoryFeedStore
	bad string
}

var errConn = core.ErrStoreUnavailable("query", errors.New("connection refused"))

func (s *failingFeed) GetPostData(ctx context.Context, postID string) (*core.Post, error) {
	if postID == s.bad {
		return nil, errConn
	}
	return s.MemoryFeedStore.GetPostData(ctx, postID)
}

func (s *failingFeed) GetPostEngagementData(ctx context.Context, postID string) (core.PostEngagement, error) {
	if postID == s.bad {
		return core.PostEngagement{}, errConn
	}
	return s.MemoryFeedStore.GetPostEngagementData(ctx, postID)
}

func TestRankForUser_SentinelIsolation(t *testing.T) {
	fs := &failingFeed{MemoryFeedStore: seededFeed(), bad: "bad"}
	e := newEngine(fs, &staticModels{m: handModel()})

	before := testutil.ToFloat64(metrics.ScoreSentinelTotal)
	results, err := e.RankForUser(context.Background(), "u1", []string{"bad", "p1", "p2"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	last := results[2]
	if last.PostID != "bad" || last.Score != 0.1 {
		t.Errorf("failing post = %+v, want sentinel 0.1 at the end", last)
	}
	if got := testutil.ToFloat64(metrics.ScoreSentinelTotal); got != before+1 {
		t.Errorf("sentinel count = %v, want %v", got, before+1)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Errorf("results not descending at %d: %v", i, results)
		}
	}
	for _, r := range results {
		if !r.Timestamp.Equal(rankNow) {
			t.Errorf("timestamp = %v", r.Timestamp)
		}
	}
}

// panickingFeed 读取指定帖子的互动数据时 panic。
type panickingFeed struct {
	*store.MemoryFeedStore
	bad string
}

func (s *panickingFeed) GetPostEngagementData(ctx context.Context, postID string) (core.PostEngagement, error) {
	if postID == s.bad {
		panic("nil row")
	}
	return s.MemoryFeedStore.GetPostEngagementData(ctx, postID)
}

func TestRankForUser_PanicIsSentinel(t *testing.T) {
	tests := []struct {
		name   string
		models *staticModels
	}{
		{"model", &staticModels{m: handModel()}},
		{"fallback", &staticModels{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(&panickingFeed{MemoryFeedStore: seededFeed(), bad: "p2"}, tt.models)

			before := testutil.ToFloat64(metrics.ScoreSentinelTotal)
			results, err := e.RankForUser(context.Background(), "u1", []string{"p2", "p1", "p9"}, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 3 {
				t.Fatalf("results = %d, want 3", len(results))
			}
			last := results[2]
			if last.PostID != "p2" || last.Score != 0.1 {
				t.Errorf("panicking post = %+v, want sentinel 0.1 at the end", last)
			}
			for _, r := range results[:2] {
				if r.Score == 0.1 {
					t.Errorf("%s got sentinel score", r.PostID)
				}
			}
			if got := testutil.ToFloat64(metrics.ScoreSentinelTotal); got != before+1 {
				t.Errorf("sentinel count = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRankForUser_Fallback(t *testing.T) {
	fs := seededFeed()
	models := &staticModels{}
	e := newEngine(fs, models)

	before := testutil.ToFloat64(metrics.RankRequestsTotal.WithLabelValues(metrics.ModeFallback))
	results, err := e.RankForUser(context.Background(), "u1", []string{"ghost-a", "p1", "ghost-b", "p2"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if models.loads != 1 {
		t.Errorf("LoadLatest calls = %d, want 1", models.loads)
	}
	if got := testutil.ToFloat64(metrics.RankRequestsTotal.WithLabelValues(metrics.ModeFallback)); got != before+1 {
		t.Errorf("fallback requests = %v", got)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want every candidate", len(results))
	}

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.PostID
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("%s score %v out of bounds", r.PostID, r.Score)
		}
	}
	// 同分的 ghost-a / ghost-b 保持输入顺序
	if got[2] != "ghost-a" || got[3] != "ghost-b" {
		t.Errorf("order = %v", got)
	}
	if !approx(results[3].Score, 0.15) {
		t.Errorf("missing post fallback score = %v, want 0.3·0.5", results[3].Score)
	}

	p1 := results[0]
	eng, _ := fs.GetPostEngagementData(context.Background(), "p1")
	want := 0.7*model.Clamp01(Popularity(eng)) + 0.3*feature.Freshness(1)
	if p1.PostID != "p1" || !approx(p1.Score, want) {
		t.Errorf("top = %+v, want p1 with %v", p1, want)
	}

	limited, _ := e.RankForUser(context.Background(), "u1", []string{"ghost-a", "p1", "ghost-b", "p2"}, 2)
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}

	empty, err := e.RankForUser(context.Background(), "u1", nil, 5)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty candidates = %v, %v", empty, err)
	}
}

func TestRankForUser_LoadFailureIsFatal(t *testing.T) {
	loadErr := core.NewDomainError(core.ModuleModel, core.ErrorCodeCorrupted, "model: bad artifact")
	e := newEngine(seededFeed(), &staticModels{loadErr: loadErr})
	if _, err := e.RankForUser(context.Background(), "u1", []string{"p1"}, 1); !core.IsCorrupted(err) {
		t.Errorf("err = %v, want CORRUPTED", err)
	}
}

func TestRankForUser_FallbackModel(t *testing.T) {
	e := newEngine(seededFeed(), &staticModels{m: model.NewFallback("v20240501_000000", rankNow, 12)})
	results, err := e.RankForUser(context.Background(), "stranger", []string{"p1", "p2", "p9"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results {
		if r.Signals[SignalCollaborative] != 0.5 {
			t.Errorf("%s collaborative = %v, want neutral 0.5", r.PostID, r.Signals[SignalCollaborative])
		}
	}
}

func TestGetUserRecommendations(t *testing.T) {
	fs := seededFeed()
	e := newEngine(fs, &staticModels{m: handModel()}, WithCandidateFilters(filter.NewBlacklistFilter([]string{"p9"})))

	results, err := e.GetUserRecommendations(context.Background(), "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	ids := []string{results[0].PostID, results[1].PostID}
	for _, id := range ids {
		if id == "p9" {
			t.Errorf("blacklisted post recommended: %v", ids)
		}
	}
	if ids[0] == ids[1] {
		t.Errorf("duplicate recommendation: %v", ids)
	}

	empty := newEngine(store.NewMemoryFeedStore(store.WithFeedClock(rankClock)), &staticModels{m: handModel()})
	got, err := empty.GetUserRecommendations(context.Background(), "u1", 5)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("empty pool = %v, %v", got, err)
	}
}

func TestSortByScore_Stable(t *testing.T) {
	items := core.ItemsFromIDs([]string{"a", "b", "c", "d"})
	for i, s := range []float64{0.2, 0.5, 0.2, 0.5} {
		items[i].Score = s
	}
	sortByScore(items)
	got := []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID}
	if !reflect.DeepEqual(got, []string{"b", "d", "a", "c"}) {
		t.Errorf("order = %v", got)
	}
}
