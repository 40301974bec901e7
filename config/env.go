package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix 是环境变量前缀。
const EnvPrefix = "FEEDREC_"

// applyEnv 用 FEEDREC_* 环境变量覆盖配置，无法解析的值被忽略。
func (c *Config) applyEnv() {
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = int32(getIntEnv("DATABASE_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.MinConns = int32(getIntEnv("DATABASE_MIN_CONNS", int(c.Database.MinConns)))
	c.Database.Breaker.FailureThreshold = getIntEnv("DATABASE_BREAKER_THRESHOLD", c.Database.Breaker.FailureThreshold)
	c.Database.Breaker.Timeout = getDurationEnv("DATABASE_BREAKER_TIMEOUT", c.Database.Breaker.Timeout)

	c.Artifacts.Backend = getEnv("ARTIFACTS_BACKEND", c.Artifacts.Backend)
	c.Artifacts.RedisAddr = getEnv("ARTIFACTS_REDIS_ADDR", c.Artifacts.RedisAddr)
	c.Artifacts.RedisDB = getIntEnv("ARTIFACTS_REDIS_DB", c.Artifacts.RedisDB)
	c.Artifacts.BadgerPath = getEnv("ARTIFACTS_BADGER_PATH", c.Artifacts.BadgerPath)
	c.Artifacts.KeyPrefix = getEnv("ARTIFACTS_KEY_PREFIX", c.Artifacts.KeyPrefix)

	c.Training.WindowDays = getIntEnv("TRAINING_WINDOW_DAYS", c.Training.WindowDays)
	c.Training.EvalDays = getIntEnv("TRAINING_EVAL_DAYS", c.Training.EvalDays)
	c.Training.MinInteractions = getIntEnv("TRAINING_MIN_INTERACTIONS", c.Training.MinInteractions)
	c.Training.MaxFactors = getIntEnv("TRAINING_MAX_FACTORS", c.Training.MaxFactors)
	c.Training.MaxIterations = getIntEnv("TRAINING_MAX_ITERATIONS", c.Training.MaxIterations)
	c.Training.Tolerance = getFloatEnv("TRAINING_TOLERANCE", c.Training.Tolerance)
	c.Training.ContentSample = getIntEnv("TRAINING_CONTENT_SAMPLE", c.Training.ContentSample)

	c.Scoring.Concurrency = getIntEnv("SCORING_CONCURRENCY", c.Scoring.Concurrency)

	c.Recommend.CandidateMultiplier = getIntEnv("RECOMMEND_CANDIDATE_MULTIPLIER", c.Recommend.CandidateMultiplier)
	c.Recommend.RecentHours = getIntEnv("RECOMMEND_RECENT_HOURS", c.Recommend.RecentHours)
	c.Recommend.SourceTimeout = getDurationEnv("RECOMMEND_SOURCE_TIMEOUT", c.Recommend.SourceTimeout)
	c.Recommend.CandidateFilter = getEnv("RECOMMEND_CANDIDATE_FILTER", c.Recommend.CandidateFilter)
	c.Recommend.BlockedPosts = getSliceEnv("RECOMMEND_BLOCKED_POSTS", c.Recommend.BlockedPosts)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
}

// getEnv retrieves FEEDREC_<key> or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getSliceEnv 按逗号切分，忽略空项
func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
