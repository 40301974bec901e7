// Package store 提供存储协作方与制品存储的实现，接口定义在 core 包。
//
//   - core.FeedStore：PostgresFeedStore（生产）、MemoryFeedStore（测试/本地）
//   - core.Store：MemoryStore、RedisStore、BadgerStore
//
// 示例：
//
//	pool, _ := store.NewPostgresPool(ctx, url, store.WithMaxConns(10))
//	var feed core.FeedStore = store.NewPostgresFeedStore(pool)
//	var blobs core.Store = store.NewMemoryStore()
package store

import (
	"fmt"

	"github.com/rushteam/feedrec/core"
)

// Backend 是制品存储后端类型。
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendBadger Backend = "badger"
)

// BlobOptions 描述制品存储后端的连接参数。
type BlobOptions struct {
	Backend    Backend
	RedisAddr  string
	RedisDB    int
	BadgerPath string
}

// NewBlobStore 按配置创建制品存储。
func NewBlobStore(opts BlobOptions) (core.Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisDB)
	case BackendBadger:
		return NewBadgerStore(opts.BadgerPath)
	default:
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported,
			fmt.Sprintf("store: unknown artifact backend %q", opts.Backend))
	}
}
