package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRank(t *testing.T) {
	before := testutil.ToFloat64(RankRequestsTotal.WithLabelValues(ModeFallback))
	RecordRank(ModeFallback, 3*time.Millisecond)
	if got := testutil.ToFloat64(RankRequestsTotal.WithLabelValues(ModeFallback)); got != before+1 {
		t.Errorf("rank requests = %v, want %v", got, before+1)
	}
}

func TestRecordTraining(t *testing.T) {
	before := testutil.ToFloat64(TrainingRunsTotal.WithLabelValues(ResultFailed))
	RecordTraining(ResultFailed, time.Second)
	if got := testutil.ToFloat64(TrainingRunsTotal.WithLabelValues(ResultFailed)); got != before+1 {
		t.Errorf("training runs = %v, want %v", got, before+1)
	}
}

func TestRecordSignalsAndSentinel(t *testing.T) {
	sig := testutil.ToFloat64(SignalUnavailableTotal.WithLabelValues("content"))
	sen := testutil.ToFloat64(ScoreSentinelTotal)
	RecordSignalUnavailable("content")
	RecordSentinel()
	if testutil.ToFloat64(SignalUnavailableTotal.WithLabelValues("content")) != sig+1 {
		t.Error("signal unavailable not incremented")
	}
	if testutil.ToFloat64(ScoreSentinelTotal) != sen+1 {
		t.Error("sentinel not incremented")
	}

	now := time.Unix(1700000000, 0)
	RecordModelPublished(now)
	if testutil.ToFloat64(ModelLoadedTimestamp) != 1700000000 {
		t.Error("model loaded timestamp not set")
	}
}

func TestRecordBreaker(t *testing.T) {
	RecordBreakerState("feed", 2)
	if got := testutil.ToFloat64(StoreBreakerState.WithLabelValues("feed")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	before := testutil.ToFloat64(StoreBreakerRejectedTotal.WithLabelValues("feed"))
	RecordBreakerRejected("feed")
	if got := testutil.ToFloat64(StoreBreakerRejectedTotal.WithLabelValues("feed")); got != before+1 {
		t.Errorf("rejected = %v, want %v", got, before+1)
	}
}
