package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// FileModulePrefix 文件模块
	FileModulePrefix = "file"
	// PredictModulePrefix 预测模块
	PredictModulePrefix = "predict"

	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityResult 结果缓存实体
	EntityResult = "result"

	// KeyFileMD5Set 上传文件MD5集合，用于快速去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyPredictionResult 场景预测结果缓存 (STRING)
	// 格式: app:predict:result:{scenarioHash}
	KeyPredictionResult = AppPrefix + ":" + PredictModulePrefix + ":" + EntityResult + ":%s"

	// PredictionCacheTTL 预测结果缓存时长，0 表示关闭缓存
	PredictionCacheTTL = 10 * time.Minute
)
