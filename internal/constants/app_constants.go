package constants

const (
	// KnowledgeCollection 知识库向量集合
	KnowledgeCollection = "healthcare_knowledge"
	// PredictionCollection 预测文档集合（dummy 向量，仅做文档存储）
	PredictionCollection = "healthcare_predictions"

	// EmbeddingDimension 知识向量维度（text-embedding-3-small）
	EmbeddingDimension = 1536
	// PredictionDimension 预测集合的占位向量维度
	PredictionDimension = 1

	// ChunkSize 非结构化文本的切块大小（字符数）
	ChunkSize = 3000
	// ChunkOverlap 相邻块之间的重叠
	ChunkOverlap = 200

	// DefaultSearchLimit 知识检索默认返回条数
	DefaultSearchLimit = 3
)

// 文档摄取结果状态
const (
	// StatusIndexed 摄取成功，条目已写入向量库与数据库
	StatusIndexed = "INDEXED"
	// StatusDuplicateFileSkipped 文件MD5重复，跳过处理
	StatusDuplicateFileSkipped = "DUPLICATE_FILE_SKIPPED"
	// StatusNoEntries 文档解析成功但未抽取到任何条目
	StatusNoEntries = "NO_ENTRIES_EXTRACTED"
)
