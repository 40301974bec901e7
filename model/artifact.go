package model

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rushteam/feedrec/core"
)

// ArtifactStore 把模型序列化为 JSON 存入 core.Store，按版本寻址。
type ArtifactStore struct {
	store  core.Store
	prefix string
}

// NewArtifactStore 创建制品存储，prefix 为空时使用 "feedrec"。
func NewArtifactStore(store core.Store, prefix string) *ArtifactStore {
	if prefix == "" {
		prefix = "feedrec"
	}
	return &ArtifactStore{store: store, prefix: prefix}
}

// Key 返回版本对应的存储 key。
func (a *ArtifactStore) Key(version string) string {
	return a.prefix + ":artifact:" + version
}

// Save 持久化模型。
func (a *ArtifactStore) Save(ctx context.Context, m *RecommendationModel) error {
	data, err := json.Marshal(m)
	if err != nil {
		return core.WrapDomainError(core.ModuleModel, core.ErrorCodeInternalError, "model: encode artifact", err)
	}
	if err := a.store.Set(ctx, a.Key(m.Metadata.ModelVersion), data); err != nil {
		return fmt.Errorf("save artifact %s to %s: %w", m.Metadata.ModelVersion, a.store.Name(), err)
	}
	return nil
}

// Load 读取、校验并建立索引，返回可直接发布的模型。
// 制品缺失返回 NOT_FOUND，无法解码或结构不合法返回 CORRUPTED。
func (a *ArtifactStore) Load(ctx context.Context, version string) (*RecommendationModel, error) {
	data, err := a.store.Get(ctx, a.Key(version))
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.WrapDomainError(core.ModuleModel, core.ErrorCodeNotFound, "model: artifact "+version+" not found", err)
		}
		return nil, fmt.Errorf("load artifact %s from %s: %w", version, a.store.Name(), err)
	}

	var m RecommendationModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.WrapDomainError(core.ModuleModel, core.ErrorCodeCorrupted, "model: decode artifact "+version, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.BuildIndex()
	return &m, nil
}

// Delete 删除某个版本的制品。
func (a *ArtifactStore) Delete(ctx context.Context, version string) error {
	return a.store.Delete(ctx, a.Key(version))
}
