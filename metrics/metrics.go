// Package metrics 提供推荐引擎的 Prometheus 指标。
//
// 指标分类：
//   - 排序请求：按模式（model / fallback）计数与耗时
//   - 信号降级：不可用信号计数、哨兵分计数
//   - 训练：按结果计数、耗时、当前模型发布时间
//   - 存储熔断：状态与被拒绝的调用数
//
// 使用示例：
//
//	metrics.RecordRank(metrics.ModeModel, time.Since(start))
//	metrics.RecordTraining(metrics.ResultTrained, time.Since(start))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 排序模式
const (
	ModeModel    = "model"
	ModeFallback = "fallback"
)

// 训练结果
const (
	ResultTrained  = "trained"
	ResultFallback = "fallback"
	ResultFailed   = "failed"
)

var (
	// RankRequestsTotal 按模式统计排序请求数。
	RankRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrec_rank_requests_total",
			Help: "Total number of rank requests by scoring mode",
		},
		[]string{"mode"},
	)

	// RankDuration 统计排序耗时。
	RankDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedrec_rank_duration_seconds",
			Help:    "Duration of rank requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	// SignalUnavailableTotal 统计按中性值计分的信号。
	SignalUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrec_signal_unavailable_total",
			Help: "Total number of signals scored with the neutral default",
		},
		[]string{"signal"},
	)

	// ScoreSentinelTotal 统计整体打分失败、使用哨兵分的候选数。
	ScoreSentinelTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrec_score_sentinel_total",
			Help: "Total number of candidates assigned the sentinel score",
		},
	)

	// TrainingRunsTotal 按结果统计训练次数。
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrec_training_runs_total",
			Help: "Total number of training runs by result",
		},
		[]string{"result"},
	)

	// TrainingDuration 统计训练耗时。
	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedrec_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// ModelLoadedTimestamp 记录当前模型发布的 Unix 时间。
	ModelLoadedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrec_model_loaded_timestamp",
			Help: "Unix timestamp at which the current model snapshot was published",
		},
	)

	// StoreBreakerState 记录存储熔断器状态：0 closed，1 half-open，2 open。
	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedrec_store_breaker_state",
			Help: "Circuit breaker state of the feed store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// StoreBreakerRejectedTotal 统计熔断期间被拒绝的存储调用。
	StoreBreakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrec_store_breaker_rejected_total",
			Help: "Total number of feed store calls rejected by the circuit breaker",
		},
		[]string{"name"},
	)
)

// RecordRank 记录一次排序请求。
func RecordRank(mode string, d time.Duration) {
	RankRequestsTotal.WithLabelValues(mode).Inc()
	RankDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordSignalUnavailable 记录一次信号降级。
func RecordSignalUnavailable(signal string) {
	SignalUnavailableTotal.WithLabelValues(signal).Inc()
}

// RecordSentinel 记录一次哨兵分。
func RecordSentinel() {
	ScoreSentinelTotal.Inc()
}

// RecordTraining 记录一次训练。
func RecordTraining(result string, d time.Duration) {
	TrainingRunsTotal.WithLabelValues(result).Inc()
	TrainingDuration.Observe(d.Seconds())
}

// RecordModelPublished 记录模型发布时间。
func RecordModelPublished(at time.Time) {
	ModelLoadedTimestamp.Set(float64(at.Unix()))
}

// RecordBreakerState 记录熔断器状态。
func RecordBreakerState(name string, state float64) {
	StoreBreakerState.WithLabelValues(name).Set(state)
}

// RecordBreakerRejected 记录一次被熔断拒绝的调用。
func RecordBreakerRejected(name string) {
	StoreBreakerRejectedTotal.WithLabelValues(name).Inc()
}
