// Package config 加载 feedrec 的 YAML 配置，支持 FEEDREC_* 环境变量覆盖。
//
// 加载顺序：默认值 -> YAML 文件（可选）-> 环境变量 -> Validate。
//
// 示例：
//
//	cfg, err := config.Load("feedrec.yaml")
//	if err != nil {
//	    return err
//	}
//	trainer := train.NewTrainer(fs, ext, artifacts, nil, train.WithOptions(cfg.Training.Options()))
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/feedrec/rank"
	"github.com/rushteam/feedrec/store"
	"github.com/rushteam/feedrec/train"
)

// Config 是完整配置。
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Training  TrainingConfig  `yaml:"training"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Recommend RecommendConfig `yaml:"recommend"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig 是 Postgres 连接池配置。URL 为空时使用内存存储。
type DatabaseConfig struct {
	URL      string        `yaml:"url"`
	MaxConns int32         `yaml:"max_conns"`
	MinConns int32         `yaml:"min_conns"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig 是存储熔断配置，FailureThreshold 为 0 时不启用。
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ArtifactsConfig 是模型制品存储配置。
type ArtifactsConfig struct {
	Backend    string `yaml:"backend"` // memory / redis / badger
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	BadgerPath string `yaml:"badger_path"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// TrainingConfig 是训练参数。
type TrainingConfig struct {
	WindowDays      int     `yaml:"window_days"`
	EvalDays        int     `yaml:"eval_days"`
	MinInteractions int     `yaml:"min_interactions"`
	MaxFactors      int     `yaml:"max_factors"`
	MaxIterations   int     `yaml:"max_iterations"`
	Tolerance       float64 `yaml:"tolerance"`
	ContentSample   int     `yaml:"content_sample"`
	Seed            uint64  `yaml:"seed"`
}

// ScoringConfig 是推理打分参数。
type ScoringConfig struct {
	Weights        rank.Weights `yaml:"weights"`
	ColdStartScore float64      `yaml:"cold_start_score"`
	NeutralScore   float64      `yaml:"neutral_score"`
	SentinelScore  float64      `yaml:"sentinel_score"`
	Concurrency    int          `yaml:"concurrency"`
}

// RecommendConfig 是候选池参数。
type RecommendConfig struct {
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
	RecentHours         int           `yaml:"recent_hours"`
	SourceTimeout       time.Duration `yaml:"source_timeout"`
	DefaultLimit        int           `yaml:"default_limit"`
	CandidateFilter     string        `yaml:"candidate_filter"` // CEL 表达式，为 false 的候选被过滤
	BlockedPosts        []string      `yaml:"blocked_posts"`
}

// LoggingConfig 是日志配置。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json / console
}

// MetricsConfig 是指标暴露配置，Addr 为空时不启动 /metrics。
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default 返回默认配置。
func Default() *Config {
	to := train.DefaultOptions()
	ro := rank.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 2,
			Breaker:  BreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second},
		},
		Artifacts: ArtifactsConfig{
			Backend:   string(store.BackendMemory),
			RedisAddr: "localhost:6379",
			KeyPrefix: "feedrec",
		},
		Training: TrainingConfig{
			WindowDays:      to.WindowDays,
			EvalDays:        to.EvalDays,
			MinInteractions: to.MinInteractions,
			MaxFactors:      to.MaxFactors,
			MaxIterations:   to.MaxIter,
			Tolerance:       to.Tolerance,
			ContentSample:   to.ContentSample,
			Seed:            to.Seed,
		},
		Scoring: ScoringConfig{
			Weights:        ro.Weights,
			ColdStartScore: ro.ColdStartScore,
			NeutralScore:   ro.NeutralScore,
			SentinelScore:  ro.SentinelScore,
			Concurrency:    ro.Concurrency,
		},
		Recommend: RecommendConfig{
			CandidateMultiplier: ro.CandidateMultiplier,
			RecentHours:         ro.RecentHours,
			SourceTimeout:       ro.SourceTimeout,
			DefaultLimit:        ro.DefaultLimit,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load 读取配置。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options 转换为训练参数。
func (c TrainingConfig) Options() train.Options {
	return train.Options{
		WindowDays:      c.WindowDays,
		EvalDays:        c.EvalDays,
		MinInteractions: c.MinInteractions,
		MaxFactors:      c.MaxFactors,
		MaxIter:         c.MaxIterations,
		Tolerance:       c.Tolerance,
		ContentSample:   c.ContentSample,
		Seed:            c.Seed,
	}
}

// RankOptions 转换为推理参数。
func (c *Config) RankOptions() rank.Options {
	o := rank.DefaultOptions()
	o.Weights = c.Scoring.Weights
	o.ColdStartScore = c.Scoring.ColdStartScore
	o.NeutralScore = c.Scoring.NeutralScore
	o.SentinelScore = c.Scoring.SentinelScore
	o.Concurrency = c.Scoring.Concurrency
	o.CandidateMultiplier = c.Recommend.CandidateMultiplier
	o.RecentHours = c.Recommend.RecentHours
	o.SourceTimeout = c.Recommend.SourceTimeout
	o.DefaultLimit = c.Recommend.DefaultLimit
	return o
}

// BreakerOptions 转换为存储熔断参数。
func (c BreakerConfig) BreakerOptions() store.BreakerOptions {
	o := store.DefaultBreakerOptions()
	o.FailureThreshold = uint32(c.FailureThreshold)
	o.Timeout = c.Timeout
	return o
}

// BlobOptions 转换为制品存储参数。
func (c ArtifactsConfig) BlobOptions() store.BlobOptions {
	return store.BlobOptions{
		Backend:    store.Backend(c.Backend),
		RedisAddr:  c.RedisAddr,
		RedisDB:    c.RedisDB,
		BadgerPath: c.BadgerPath,
	}
}
