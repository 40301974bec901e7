package train

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/feature"
	"github.com/rushteam/feedrec/metrics"
	"github.com/rushteam/feedrec/model"
	"github.com/rushteam/feedrec/store"
)

func trainClock() time.Time { return trainNow }

type fixture struct {
	feed      *store.MemoryFeedStore
	blobs     *store.MemoryStore
	artifacts *model.ArtifactStore
}

func newFixture(t *testing.T, users, posts int) *fixture {
	t.Helper()
	feed := store.NewMemoryFeedStore(store.WithFeedClock(trainClock))
	for p := 0; p < posts; p++ {
		feed.AddPost(core.Post{
			ID:        postID(p),
			AuthorID:  "author" + string(rune('a'+p%3)),
			Content:   "post body",
			HasMedia:  p%2 == 0,
			CreatedAt: trainNow.Add(-time.Duration(p*6+1) * time.Hour),
		})
	}
	feed.AddEngagement(syntheticEvents(users, posts)...)
	blobs := store.NewMemoryStore()
	t.Cleanup(func() { _ = blobs.Close() })
	return &fixture{feed: feed, blobs: blobs, artifacts: model.NewArtifactStore(blobs, "test")}
}

func (f *fixture) trainer(fs core.FeedStore, opts ...Option) *Trainer {
	ext := feature.NewExtractor(fs, feature.WithClock(trainClock))
	opts = append([]Option{WithClock(trainClock)}, opts...)
	return NewTrainer(fs, ext, f.artifacts, nil, opts...)
}

func TestTrainer_Train(t *testing.T) {
	f := newFixture(t, 20, 10)
	tr := f.trainer(f.feed)
	if tr.State() != StateUntrained {
		t.Fatalf("initial state = %s", tr.State())
	}

	before := testutil.ToFloat64(metrics.TrainingRunsTotal.WithLabelValues(metrics.ResultTrained))
	m, err := tr.Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TrainingRunsTotal.WithLabelValues(metrics.ResultTrained)); got != before+1 {
		t.Errorf("trained runs = %v, want %v", got, before+1)
	}

	if m.IsFallback() || tr.State() != StateTrained {
		t.Fatalf("fallback = %v state = %s", m.IsFallback(), tr.State())
	}
	if m.Metadata.ModelVersion != "v20240501_120000" {
		t.Errorf("version = %s", m.Metadata.ModelVersion)
	}
	c := m.Collaborative
	if c.NFactors != 5 || len(c.UserIndex) != 20 || len(c.ItemIndex) != 10 {
		t.Errorf("factors = %d users = %d items = %d", c.NFactors, len(c.UserIndex), len(c.ItemIndex))
	}
	if len(c.UserSimilarity) != 20 || len(c.ItemSimilarity) != 10 {
		t.Errorf("similarity shapes %d %d", len(c.UserSimilarity), len(c.ItemSimilarity))
	}
	if m.Content.Empty() || len(m.Content.FeatureColumns) != len(feature.NumericColumns) {
		t.Errorf("content model = %d posts, %v", len(m.Content.PostIDs), m.Content.FeatureColumns)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if tr.Current() != m {
		t.Error("trained model not published")
	}

	meta, err := f.feed.GetLatestModelMetadata(context.Background())
	if err != nil || meta.ModelVersion != m.Metadata.ModelVersion {
		t.Fatalf("metadata = %+v, %v", meta, err)
	}
	if _, err := f.artifacts.Load(context.Background(), m.Metadata.ModelVersion); err != nil {
		t.Errorf("artifact not persisted: %v", err)
	}

	second, err := tr.Retrain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.Metadata.ModelVersion != "v20240501_120001" {
		t.Errorf("retrain version = %s, want one second later", second.Metadata.ModelVersion)
	}
}

func TestTrainer_InsufficientDataFallback(t *testing.T) {
	f := newFixture(t, 3, 3)
	tr := f.trainer(f.feed)

	m, err := tr.Train(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsFallback() || tr.State() != StateFallback {
		t.Fatalf("fallback = %v state = %s", m.IsFallback(), tr.State())
	}
	if m.Metadata.DataSize == 0 || m.Metadata.DataSize >= 100 {
		t.Errorf("DataSize = %d", m.Metadata.DataSize)
	}
	if !m.Collaborative.Empty() || !m.Content.Empty() {
		t.Error("fallback model must be empty")
	}

	report, err := tr.Evaluate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Error != "" || report.ModelSize.Factors != 0 || report.UserCoverage != 1 {
		t.Errorf("report = %+v", report)
	}
	if info := tr.ModelInfo(); info.Status != "loaded" || !info.IsFallback || info.State != StateFallback {
		t.Errorf("info = %+v", info)
	}

	other := f.trainer(f.feed)
	loaded, err := other.LoadLatest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || !loaded.IsFallback() || other.State() != StateFallback {
		t.Errorf("loaded fallback = %+v state %s", loaded, other.State())
	}
}

func TestTrainer_Evaluate(t *testing.T) {
	f := newFixture(t, 20, 10)
	tr := f.trainer(f.feed)

	report, err := tr.Evaluate(context.Background())
	if err != nil || report.Error != "No model available for evaluation" {
		t.Fatalf("report = %+v, %v", report, err)
	}
	if info := tr.ModelInfo(); info.Status != "no_model" {
		t.Errorf("info = %+v", info)
	}

	if _, err := tr.Train(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err = tr.Evaluate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.TestPeriodDays != 7 || report.TestInteractions == 0 {
		t.Errorf("report = %+v", report)
	}
	if report.UserCoverage <= 0 || report.UserCoverage > 1 || report.ItemCoverage <= 0 || report.ItemCoverage > 1 {
		t.Errorf("coverage = %v / %v", report.UserCoverage, report.ItemCoverage)
	}

	empty := newFixture(t, 0, 0)
	etr := empty.trainer(empty.feed)
	etr.Holder().Publish(model.NewFallback("v1", trainNow, 0))
	report, err = etr.Evaluate(context.Background())
	if err != nil || report.Error != "No test data available" {
		t.Errorf("empty report = %+v, %v", report, err)
	}
}

func TestTrainer_LoadLatest(t *testing.T) {
	f := newFixture(t, 20, 10)
	tr := f.trainer(f.feed)

	m, err := tr.LoadLatest(context.Background())
	if err != nil || m != nil {
		t.Fatalf("LoadLatest without models = %v, %v", m, err)
	}

	trained, err := tr.Train(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fresh := f.trainer(f.feed)
	loaded, err := fresh.LoadLatest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Metadata.ModelVersion != trained.Metadata.ModelVersion || fresh.State() != StateTrained {
		t.Errorf("loaded %s state %s", loaded.Metadata.ModelVersion, fresh.State())
	}
	if _, ok := loaded.Collaborative.UserPos(trained.Collaborative.UserIndex[0]); !ok {
		t.Error("loaded model index not built")
	}

	if next, _ := fresh.Train(context.Background()); next.Metadata.ModelVersion <= loaded.Metadata.ModelVersion {
		t.Errorf("version %s not after loaded %s", next.Metadata.ModelVersion, loaded.Metadata.ModelVersion)
	}
}

func TestTrainer_LoadLatestCorrupted(t *testing.T) {
	f := newFixture(t, 3, 3)
	ctx := context.Background()
	_ = f.feed.SaveModelMetadata(ctx, core.ModelMetadata{ModelVersion: "v20240101_000000", TrainingDate: trainNow})
	_ = f.blobs.Set(ctx, f.artifacts.Key("v20240101_000000"), []byte(`{"collaborative_model":`))

	tr := f.trainer(f.feed)
	if _, err := tr.LoadLatest(ctx); !core.IsCorrupted(err) {
		t.Fatalf("LoadLatest err = %v, want CORRUPTED", err)
	}
	if tr.Current() != nil {
		t.Error("corrupted artifact must not be published")
	}
	if _, err := tr.LoadVersion(ctx, "v-missing"); !core.IsNotFound(err) {
		t.Errorf("LoadVersion(missing) err = %v", err)
	}
}

// flakyFeed 在 fail 置位后训练数据查询返回不可用错误。
type flakyFeed struct {
	*store.MemoryFeedStore
	fail atomic.Bool
}

func (s *flakyFeed) GetEngagementData(ctx context.Context, start, end time.Time) ([]core.EngagementEvent, error) {
	if s.fail.Load() {
		return nil, core.ErrStoreUnavailable("engagement data", errors.New("connection reset"))
	}
	return s.MemoryFeedStore.GetEngagementData(ctx, start, end)
}

func TestTrainer_FailureKeepsPreviousModel(t *testing.T) {
	f := newFixture(t, 20, 10)
	fs := &flakyFeed{MemoryFeedStore: f.feed}
	tr := f.trainer(fs)

	first, err := tr.Train(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fs.fail.Store(true)
	if _, err := tr.Retrain(context.Background()); !core.IsUnavailable(err) {
		t.Fatalf("Retrain err = %v, want UNAVAILABLE", err)
	}
	if tr.Current() != first || tr.State() != StateTrained {
		t.Errorf("previous model or state lost: state %s", tr.State())
	}
}

// gatedFeed 阻塞训练数据查询直到 release 关闭，并统计调用次数。
type gatedFeed struct {
	*store.MemoryFeedStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *gatedFeed) GetEngagementData(ctx context.Context, start, end time.Time) ([]core.EngagementEvent, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return s.MemoryFeedStore.GetEngagementData(ctx, start, end)
}

func TestTrainer_SingleFlight(t *testing.T) {
	f := newFixture(t, 20, 10)
	fs := &gatedFeed{MemoryFeedStore: f.feed, entered: make(chan struct{}), release: make(chan struct{})}
	tr := f.trainer(fs)

	results := make([]*model.RecommendationModel, 3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = tr.Train(context.Background())
	}()
	<-fs.entered
	if tr.State() != StateTraining {
		t.Errorf("state during run = %s", tr.State())
	}
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = tr.Train(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fs.release)
	wg.Wait()

	if n := fs.calls.Load(); n != 1 {
		t.Errorf("training ran %d times, want 1", n)
	}
	for i, m := range results {
		if m == nil || m != results[0] {
			t.Errorf("caller %d got a different result", i)
		}
	}
}

func TestTrainer_Async(t *testing.T) {
	f := newFixture(t, 3, 3)
	tr := f.trainer(f.feed)

	if got := tr.TrainAsync(false); got != StatusTraining {
		t.Errorf("TrainAsync(false) without model = %s", got)
	}
	tr.Wait()
	if tr.Current() == nil {
		t.Fatal("background training did not publish")
	}
	if got := tr.TrainAsync(false); got != StatusReady {
		t.Errorf("TrainAsync(false) with model = %s", got)
	}
	if got := tr.TrainAsync(true); got != StatusTraining {
		t.Errorf("TrainAsync(true) = %s", got)
	}
	if got := tr.RetrainAsync(); got != StatusRetraining {
		t.Errorf("RetrainAsync = %s", got)
	}
	tr.Wait()
}

// gatedBlobs 在 armed 置位后阻塞制品读取，直到 release 关闭。
type gatedBlobs struct {
	core.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if s.armed.Load() {
		close(s.entered)
		<-s.release
	}
	return s.Store.Get(ctx, key)
}

func TestTrainer_LoadLatestKeepsNewerSnapshot(t *testing.T) {
	f := newFixture(t, 20, 10)
	blobs := &gatedBlobs{Store: f.blobs, entered: make(chan struct{}), release: make(chan struct{})}
	ext := feature.NewExtractor(f.feed, feature.WithClock(trainClock))
	tr := NewTrainer(f.feed, ext, model.NewArtifactStore(blobs, "test"), nil, WithClock(trainClock))
	ctx := context.Background()

	first, err := tr.Train(ctx)
	if err != nil {
		t.Fatal(err)
	}

	blobs.armed.Store(true)
	var (
		loaded  *model.RecommendationModel
		loadErr error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loaded, loadErr = tr.LoadLatest(ctx)
	}()
	<-blobs.entered
	blobs.armed.Store(false)

	second, err := tr.Retrain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	close(blobs.release)
	wg.Wait()

	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if second.Metadata.ModelVersion <= first.Metadata.ModelVersion {
		t.Fatalf("retrain version %s not after %s", second.Metadata.ModelVersion, first.Metadata.ModelVersion)
	}
	if tr.Current() != second || loaded != second {
		t.Errorf("current = %s loaded = %s, want %s", tr.Current().Metadata.ModelVersion, loaded.Metadata.ModelVersion, second.Metadata.ModelVersion)
	}
	if tr.State() != StateTrained {
		t.Errorf("state = %s", tr.State())
	}

	if rolled, err := tr.LoadVersion(ctx, first.Metadata.ModelVersion); err != nil || tr.Current() != rolled {
		t.Errorf("explicit LoadVersion should publish older version: %v", err)
	}
}

func TestTrainer_VersionAfterPersistedModel(t *testing.T) {
	f := newFixture(t, 20, 10)
	ctx := context.Background()
	if err := f.feed.SaveModelMetadata(ctx, core.ModelMetadata{ModelVersion: "v20240501_120000", TrainingDate: trainNow}); err != nil {
		t.Fatal(err)
	}

	tr := f.trainer(f.feed)
	m, err := tr.Train(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Metadata.ModelVersion != "v20240501_120001" {
		t.Errorf("version = %s, want one second after the persisted model", m.Metadata.ModelVersion)
	}
	meta, err := f.feed.GetLatestModelMetadata(ctx)
	if err != nil || meta.ModelVersion != m.Metadata.ModelVersion {
		t.Errorf("latest metadata = %+v, %v", meta, err)
	}
}
