package config

import (
	"fmt"
	"math"

	"github.com/rushteam/feedrec/core"
	"github.com/rushteam/feedrec/store"
)

// Validate 检查配置取值，返回 INVALID_INPUT 错误。
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateDatabase,
		c.validateArtifacts,
		c.validateTraining,
		c.validateScoring,
		c.validateRecommend,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: "+fmt.Sprintf(format, args...))
}

func (c *Config) validateDatabase() error {
	d := c.Database
	if d.MaxConns < 1 {
		return invalid("database.max_conns must be >= 1, got %d", d.MaxConns)
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		return invalid("database.min_conns must be in [0, max_conns], got %d", d.MinConns)
	}
	if d.Breaker.FailureThreshold < 0 {
		return invalid("database.breaker.failure_threshold must be >= 0, got %d", d.Breaker.FailureThreshold)
	}
	if d.Breaker.FailureThreshold > 0 && d.Breaker.Timeout <= 0 {
		return invalid("database.breaker.timeout must be positive when the breaker is enabled")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	a := c.Artifacts
	switch store.Backend(a.Backend) {
	case store.BackendMemory, store.BackendBadger:
	case store.BackendRedis:
		if a.RedisAddr == "" {
			return invalid("artifacts.redis_addr is required for the redis backend")
		}
	default:
		return invalid("artifacts.backend must be memory, redis or badger, got %q", a.Backend)
	}
	return nil
}

func (c *Config) validateTraining() error {
	t := c.Training
	for _, f := range []struct {
		name  string
		value int
	}{
		{"training.window_days", t.WindowDays},
		{"training.eval_days", t.EvalDays},
		{"training.min_interactions", t.MinInteractions},
		{"training.max_factors", t.MaxFactors},
		{"training.max_iterations", t.MaxIterations},
		{"training.content_sample", t.ContentSample},
	} {
		if f.value < 1 {
			return invalid("%s must be >= 1, got %d", f.name, f.value)
		}
	}
	if t.Tolerance < 0 {
		return invalid("training.tolerance must be >= 0, got %v", t.Tolerance)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	w := s.Weights
	for name, v := range map[string]float64{
		"scoring.cold_start_score": s.ColdStartScore,
		"scoring.neutral_score":    s.NeutralScore,
		"scoring.sentinel_score":   s.SentinelScore,
	} {
		if v < 0 || v > 1 {
			return invalid("%s must be in [0, 1], got %v", name, v)
		}
	}
	if w.Collaborative < 0 || w.Content < 0 || w.Popularity < 0 || w.Freshness < 0 {
		return invalid("scoring.weights must be non-negative")
	}
	if sum := w.Collaborative + w.Content + w.Popularity + w.Freshness; math.Abs(sum-1) > 1e-6 {
		return invalid("scoring.weights must sum to 1, got %v", sum)
	}
	if s.Concurrency < 1 {
		return invalid("scoring.concurrency must be >= 1, got %d", s.Concurrency)
	}
	return nil
}

func (c *Config) validateRecommend() error {
	r := c.Recommend
	if r.CandidateMultiplier < 1 {
		return invalid("recommend.candidate_multiplier must be >= 1, got %d", r.CandidateMultiplier)
	}
	if r.RecentHours < 1 {
		return invalid("recommend.recent_hours must be >= 1, got %d", r.RecentHours)
	}
	if r.DefaultLimit < 1 {
		return invalid("recommend.default_limit must be >= 1, got %d", r.DefaultLimit)
	}
	if r.SourceTimeout < 0 {
		return invalid("recommend.source_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return invalid("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return invalid("logging.level %q is not a valid level", c.Logging.Level)
	}
	return nil
}
