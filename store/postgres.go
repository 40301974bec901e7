package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rushteam/feedrec/core"
)

// PoolOption 配置连接池。
type PoolOption func(*pgxpool.Config)

// WithMaxConns 设置最大连接数。
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithMinConns 设置最小空闲连接数。
func WithMinConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MinConns = n
		}
	}
}

// WithMaxConnLifetime 设置连接最长存活时间。
func WithMaxConnLifetime(d time.Duration) PoolOption {
	return func(c *pgxpool.Config) {
		if d > 0 {
			c.MaxConnLifetime = d
		}
	}
}

// NewPostgresPool 创建连接池（默认 2~10 个连接）并检查连通性。
func NewPostgresPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MinConns = 2
	config.MaxConns = 10

	for _, opt := range opts {
		opt(config)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, core.ErrStoreUnavailable("create connection pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.ErrStoreUnavailable("ping database", err)
	}
	return pool, nil
}

// PostgresFeedStore 基于 posts / user_engagement / ml_models 三张表实现 core.FeedStore。
type PostgresFeedStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresFeedStore 创建存储协作方。
func NewPostgresFeedStore(db *pgxpool.Pool) *PostgresFeedStore {
	return &PostgresFeedStore{db: db, now: time.Now}
}

var _ core.FeedStore = (*PostgresFeedStore)(nil)

// Schema 是存储协作方依赖的表结构。
const Schema = `
CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	image_url  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_engagement (
	id              BIGSERIAL PRIMARY KEY,
	user_id         TEXT NOT NULL,
	post_id         TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	engagement_type TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
	duration        DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_user_engagement_user_ts ON user_engagement (user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_user_engagement_post ON user_engagement (post_id);

CREATE TABLE IF NOT EXISTS ml_models (
	model_version TEXT PRIMARY KEY,
	training_date TIMESTAMPTZ NOT NULL,
	data_size     INTEGER NOT NULL,
	metadata      JSONB
);
`

// EnsureSchema 创建缺失的表与索引。
func (s *PostgresFeedStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return core.ErrStoreUnavailable("ensure schema", err)
	}
	return nil
}

func (s *PostgresFeedStore) GetEngagementData(ctx context.Context, start, end time.Time) ([]core.EngagementEvent, error) {
	query := `
		SELECT user_id, post_id, engagement_type, timestamp, COALESCE(duration, 0)
		FROM user_engagement
		WHERE timestamp BETWEEN $1 AND $2
		ORDER BY timestamp DESC
	`
	rows, err := s.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, core.ErrStoreUnavailable("get engagement data", err)
	}
	return collectEvents(rows)
}

func (s *PostgresFeedStore) GetUserEngagementHistory(ctx context.Context, userID string, days int) ([]core.EngagementEvent, error) {
	query := `
		SELECT $1::text, post_id, engagement_type, timestamp, COALESCE(duration, 0)
		FROM user_engagement
		WHERE user_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
	`
	start := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := s.db.Query(ctx, query, userID, start)
	if err != nil {
		return nil, core.ErrStoreUnavailable("get user engagement history", err)
	}
	return collectEvents(rows)
}

func (s *PostgresFeedStore) GetPostData(ctx context.Context, postID string) (*core.Post, error) {
	query := `
		SELECT id, user_id, content, COALESCE(image_url, ''), created_at
		FROM posts
		WHERE id = $1
	`
	var (
		post     core.Post
		imageURL string
	)
	err := s.db.QueryRow(ctx, query, postID).Scan(&post.ID, &post.AuthorID, &post.Content, &imageURL, &post.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrPostNotFound
	}
	if err != nil {
		return nil, core.ErrStoreUnavailable("get post data", err)
	}
	post.HasMedia = imageURL != ""
	return &post, nil
}

func (s *PostgresFeedStore) GetPostEngagementData(ctx context.Context, postID string) (core.PostEngagement, error) {
	query := `
		SELECT
			COUNT(CASE WHEN engagement_type = 'VIEW' THEN 1 END),
			COUNT(CASE WHEN engagement_type = 'LIKE' THEN 1 END),
			COUNT(CASE WHEN engagement_type = 'COMMENT' THEN 1 END),
			COUNT(CASE WHEN engagement_type = 'SHARE' THEN 1 END)
		FROM user_engagement
		WHERE post_id = $1
	`
	var e core.PostEngagement
	if err := s.db.QueryRow(ctx, query, postID).Scan(&e.Views, &e.Likes, &e.Comments, &e.Shares); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.PostEngagement{}, nil
		}
		return core.PostEngagement{}, core.ErrStoreUnavailable("get post engagement", err)
	}
	return e, nil
}

func (s *PostgresFeedStore) GetPostAuthor(ctx context.Context, postID string) (string, error) {
	var author string
	err := s.db.QueryRow(ctx, `SELECT user_id FROM posts WHERE id = $1`, postID).Scan(&author)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrAuthorNotFound
	}
	if err != nil {
		return "", core.ErrStoreUnavailable("get post author", err)
	}
	return author, nil
}

func (s *PostgresFeedStore) GetUserAuthorInteractions(ctx context.Context, userID, authorID string) ([]core.EngagementEvent, error) {
	query := `
		SELECT ue.user_id, ue.post_id, ue.engagement_type, ue.timestamp, COALESCE(ue.duration, 0)
		FROM user_engagement ue
		JOIN posts p ON ue.post_id = p.id
		WHERE ue.user_id = $1 AND p.user_id = $2
		ORDER BY ue.timestamp DESC
		LIMIT 50
	`
	rows, err := s.db.Query(ctx, query, userID, authorID)
	if err != nil {
		return nil, core.ErrStoreUnavailable("get user author interactions", err)
	}
	return collectEvents(rows)
}

func (s *PostgresFeedStore) GetAuthorStats(ctx context.Context, authorID string) (core.AuthorStats, error) {
	query := `
		SELECT
			COUNT(DISTINCT p.id),
			COUNT(ue.id),
			COALESCE(COUNT(ue.id)::float / NULLIF(COUNT(DISTINCT p.id), 0), 0)
		FROM posts p
		LEFT JOIN user_engagement ue ON p.id = ue.post_id
		WHERE p.user_id = $1
	`
	var st core.AuthorStats
	if err := s.db.QueryRow(ctx, query, authorID).Scan(&st.TotalPosts, &st.TotalEngagements, &st.AvgEngagementPerPost); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.AuthorStats{}, nil
		}
		return core.AuthorStats{}, core.ErrStoreUnavailable("get author stats", err)
	}
	return st, nil
}

func (s *PostgresFeedStore) FindUsersByPosts(ctx context.Context, postIDs []string) ([]string, error) {
	if len(postIDs) == 0 {
		return []string{}, nil
	}
	query := `
		SELECT DISTINCT user_id
		FROM user_engagement
		WHERE post_id = ANY($1)
		ORDER BY user_id
		LIMIT 50
	`
	rows, err := s.db.Query(ctx, query, postIDs)
	if err != nil {
		return nil, core.ErrStoreUnavailable("find users by posts", err)
	}
	return collectIDs(rows)
}

// FindSimilarPosts 按 (互动速度, 作者热度) 的 L1 距离取最近的帖子。
func (s *PostgresFeedStore) FindSimilarPosts(ctx context.Context, engagementVelocity, authorPopularity float64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		WITH post_stats AS (
			SELECT p.id, p.user_id,
				COALESCE(SUM(CASE ue.engagement_type
					WHEN 'VIEW' THEN 1 WHEN 'LIKE' THEN 3
					WHEN 'COMMENT' THEN 5 WHEN 'SHARE' THEN 7 ELSE 0 END), 0)
				/ GREATEST(EXTRACT(EPOCH FROM ($1::timestamptz - p.created_at)) / 3600, 1) AS velocity
			FROM posts p
			LEFT JOIN user_engagement ue ON p.id = ue.post_id
			GROUP BY p.id, p.user_id, p.created_at
		),
		author_stats AS (
			SELECT p.user_id,
				COALESCE(COUNT(ue.id)::float / NULLIF(COUNT(DISTINCT p.id), 0), 0) AS popularity
			FROM posts p
			LEFT JOIN user_engagement ue ON p.id = ue.post_id
			GROUP BY p.user_id
		)
		SELECT ps.id
		FROM post_stats ps
		JOIN author_stats a ON a.user_id = ps.user_id
		ORDER BY ABS(ps.velocity - $2) + ABS(a.popularity - $3), ps.id
		LIMIT $4
	`
	rows, err := s.db.Query(ctx, query, s.now(), engagementVelocity, authorPopularity, limit)
	if err != nil {
		return nil, core.ErrStoreUnavailable("find similar posts", err)
	}
	return collectIDs(rows)
}

func (s *PostgresFeedStore) GetRecentPosts(ctx context.Context, hours, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM posts
		WHERE created_at >= $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	start := s.now().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.db.Query(ctx, query, start, limit)
	if err != nil {
		return nil, core.ErrStoreUnavailable("get recent posts", err)
	}
	return collectIDs(rows)
}

func (s *PostgresFeedStore) GetTrendingPosts(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT ue.post_id
		FROM user_engagement ue
		WHERE ue.timestamp >= $1
		GROUP BY ue.post_id
		ORDER BY COUNT(*) DESC, ue.post_id
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, s.now().Add(-24*time.Hour), limit)
	if err != nil {
		return nil, core.ErrStoreUnavailable("get trending posts", err)
	}
	return collectIDs(rows)
}

func (s *PostgresFeedStore) SaveModelMetadata(ctx context.Context, meta core.ModelMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal model metadata: %w", err)
	}
	query := `
		INSERT INTO ml_models (model_version, training_date, data_size, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model_version) DO UPDATE
		SET training_date = $2, data_size = $3, metadata = $4
	`
	if _, err := s.db.Exec(ctx, query, meta.ModelVersion, meta.TrainingDate, meta.DataSize, payload); err != nil {
		return core.ErrStoreUnavailable("save model metadata", err)
	}
	return nil
}

func (s *PostgresFeedStore) GetLatestModelMetadata(ctx context.Context) (*core.ModelMetadata, error) {
	query := `
		SELECT model_version, training_date, data_size, COALESCE(metadata, '{}'::jsonb)
		FROM ml_models
		ORDER BY training_date DESC
		LIMIT 1
	`
	var (
		meta    core.ModelMetadata
		payload []byte
	)
	err := s.db.QueryRow(ctx, query).Scan(&meta.ModelVersion, &meta.TrainingDate, &meta.DataSize, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrModelNotFound
	}
	if err != nil {
		return nil, core.ErrStoreUnavailable("get latest model metadata", err)
	}
	var extra struct {
		IsFallback bool `json:"is_fallback"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &extra); err == nil {
			meta.IsFallback = extra.IsFallback
		}
	}
	return &meta, nil
}

// collectEvents 跳过未知互动类型的行。
func collectEvents(rows pgx.Rows) ([]core.EngagementEvent, error) {
	defer rows.Close()

	out := make([]core.EngagementEvent, 0)
	for rows.Next() {
		var (
			ev  core.EngagementEvent
			typ string
		)
		if err := rows.Scan(&ev.UserID, &ev.PostID, &typ, &ev.Timestamp, &ev.Duration); err != nil {
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		t, err := core.ParseEngagementType(typ)
		if err != nil {
			continue
		}
		ev.Type = t
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStoreUnavailable("iterate engagement rows", err)
	}
	return out, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStoreUnavailable("iterate id rows", err)
	}
	return out, nil
}
