// Package feedrec 是信息流推荐的打分引擎。
//
// 组成：
//   - feature：从存储协作方抽取用户、帖子与交叉特征
//   - train：NMF 协同模型与内容相似度模型的训练、版本化持久化与评估
//   - rank：四路信号融合打分、冷启动、无模型时的启发式排序与候选池推荐
//
// 所有打分链路都是 pipeline.Node 串联（召回 -> 打分 -> 过滤 -> 截断），
// 每个帖子上的 Labels 记录召回来源与所用模型版本。
//
//	fs := store.NewPostgresFeedStore(pool)
//	ext := feature.NewExtractor(fs)
//	trainer := train.NewTrainer(fs, ext, model.NewArtifactStore(blobs, "feedrec"), nil)
//	engine := rank.NewEngine(fs, ext, trainer)
//	results, err := engine.GetUserRecommendations(ctx, "u1", 20)
package feedrec
