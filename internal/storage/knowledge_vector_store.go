package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
)

// VectorDatabase 向量数据库接口，*Qdrant 是默认实现
type VectorDatabase interface {
	UpsertPoints(ctx context.Context, collection string, points []Point) error
	SearchPoints(ctx context.Context, collection string, queryVector []float64, limit int) ([]SearchResult, error)
	DeletePoints(ctx context.Context, collection string, pointIDs []string) error
	CountPoints(ctx context.Context, collection string) (int64, error)
}

// 确保Qdrant实现了VectorDatabase接口
var _ VectorDatabase = (*Qdrant)(nil)

// 定义通用错误
var (
	ErrVectorDBNotConfigured = fmt.Errorf("vector database not configured")
	ErrEmbedderNotConfigured = fmt.Errorf("embedder not configured")
)

// KnowledgeVectorStore 把规范化的知识条目落入向量库，并提供语义检索。
// 预测记录也经由它写入专用集合（占位向量，仅做文档存储）。
type KnowledgeVectorStore struct {
	vectorDB             VectorDatabase
	embedder             embedding.Embedder
	knowledgeCollection  string
	predictionCollection string
	defaultSearchLimit   int
}

// KnowledgeVectorStoreOption 构造函数选项
type KnowledgeVectorStoreOption func(*KnowledgeVectorStore)

// WithDefaultSearchLimit 设置检索默认返回条数
func WithDefaultSearchLimit(limit int) KnowledgeVectorStoreOption {
	return func(s *KnowledgeVectorStore) {
		if limit > 0 {
			s.defaultSearchLimit = limit
		}
	}
}

// NewKnowledgeVectorStore 创建知识向量存储
func NewKnowledgeVectorStore(vectorDB VectorDatabase, embedder embedding.Embedder, knowledgeCollection, predictionCollection string, opts ...KnowledgeVectorStoreOption) *KnowledgeVectorStore {
	s := &KnowledgeVectorStore{
		vectorDB:             vectorDB,
		embedder:             embedder,
		knowledgeCollection:  knowledgeCollection,
		predictionCollection: predictionCollection,
		defaultSearchLimit:   3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbeddingText 生成条目的规范嵌入文本。
// 字段顺序与占位符固定，同一条目永远产生同一段文本。
func EmbeddingText(e types.KnowledgeEntry) string {
	orNA := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "N/A"
		}
		return v
	}
	return fmt.Sprintf(
		"Festival/Event: %s\nAQI Level: %s\nSeason: %s\nHealth Impact: %s\nRecommended Staffing: %s\nRequired Supplies: %s\nPatient Advisory: %s",
		orNA(e.Festival),
		orNA(e.AQI),
		orNA(e.Season),
		orNA(e.HealthImpact),
		orNA(e.RecommendedStaffing),
		orNA(e.RequiredSupplies),
		orNA(e.PatientAdvisory),
	)
}

// PointIDFor 生成条目的确定性向量点ID。
// 以来源文档和嵌入文本为源做UUIDv5，重复摄取同一条目得到同一ID。
func PointIDFor(e types.KnowledgeEntry) string {
	idSource := fmt.Sprintf("source:%s|%s", e.Source, EmbeddingText(e))
	return uuid.NewV5(KnowledgePointIDNamespace, idSource).String()
}

// entryPayload 条目在向量库中的载荷
func entryPayload(e types.KnowledgeEntry) map[string]interface{} {
	return map[string]interface{}{
		"festival":            e.Festival,
		"aqi":                 e.AQI,
		"season":              e.Season,
		"healthImpact":        e.HealthImpact,
		"recommendedStaffing": e.RecommendedStaffing,
		"requiredSupplies":    e.RequiredSupplies,
		"patientAdvisory":     e.PatientAdvisory,
		"source":              e.Source,
		"createdAt":           time.Now().UTC().Format(time.RFC3339),
	}
}

// IndexEntries 批量嵌入并写入知识条目，返回与入参等长的点ID列表
func (s *KnowledgeVectorStore) IndexEntries(ctx context.Context, entries []types.KnowledgeEntry) ([]string, error) {
	if s.vectorDB == nil {
		return nil, ErrVectorDBNotConfigured
	}
	if s.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	if len(entries) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = EmbeddingText(e)
	}

	vectors, err := s.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("嵌入知识条目失败: %w", err)
	}
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("嵌入结果数量(%d)与条目数量(%d)不匹配", len(vectors), len(entries))
	}

	points := make([]Point, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		id := PointIDFor(e)
		ids[i] = id
		points[i] = Point{
			ID:      id,
			Vector:  vectors[i],
			Payload: entryPayload(e),
		}
	}

	if err := s.vectorDB.UpsertPoints(ctx, s.knowledgeCollection, points); err != nil {
		return nil, fmt.Errorf("写入向量点失败: %w", err)
	}
	return ids, nil
}

// SearchKnowledge 语义检索知识条目
func (s *KnowledgeVectorStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]types.ScoredEntry, error) {
	if s.vectorDB == nil {
		return nil, ErrVectorDBNotConfigured
	}
	if s.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	if limit <= 0 {
		limit = s.defaultSearchLimit
	}

	vectors, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("嵌入查询失败: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("嵌入查询返回空结果")
	}

	results, err := s.vectorDB.SearchPoints(ctx, s.knowledgeCollection, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	scored := make([]types.ScoredEntry, 0, len(results))
	for _, r := range results {
		scored = append(scored, types.ScoredEntry{
			Entry: entryFromPayload(r.ID, r.Payload),
			Score: r.Score,
		})
	}
	return scored, nil
}

// DeleteEntry 删除知识条目的向量点，ID不存在不算错误
func (s *KnowledgeVectorStore) DeleteEntry(ctx context.Context, pointID string) error {
	if s.vectorDB == nil {
		return ErrVectorDBNotConfigured
	}
	if pointID == "" {
		return nil
	}
	return s.vectorDB.DeletePoints(ctx, s.knowledgeCollection, []string{pointID})
}

// KnowledgeCount 知识集合中的点数量
func (s *KnowledgeVectorStore) KnowledgeCount(ctx context.Context) (int64, error) {
	if s.vectorDB == nil {
		return 0, ErrVectorDBNotConfigured
	}
	return s.vectorDB.CountPoints(ctx, s.knowledgeCollection)
}

// StorePredictionDocument 把预测记录镜像到预测集合。
// 集合维度为1，使用占位向量[0]，永远不会被语义检索。
func (s *KnowledgeVectorStore) StorePredictionDocument(ctx context.Context, record *types.PredictionRecord) error {
	if s.vectorDB == nil {
		return ErrVectorDBNotConfigured
	}

	scenarioJSON, err := json.Marshal(types.ScenarioInput{
		Festival:        record.Festival,
		AQI:             record.AQI,
		Epidemic:        record.Epidemic,
		CurrentStaffing: &record.CurrentStaffing,
		CurrentSupply:   record.CurrentSupply,
	})
	if err != nil {
		return fmt.Errorf("序列化场景失败: %w", err)
	}
	recommendationJSON, err := json.Marshal(record.Recommendations)
	if err != nil {
		return fmt.Errorf("序列化建议失败: %w", err)
	}

	docID := uuid.NewV5(KnowledgePointIDNamespace, "prediction:"+record.ID).String()
	point := Point{
		ID:     docID,
		Vector: []float64{0},
		Payload: map[string]interface{}{
			"predictionId":    record.ID,
			"scenario":        string(scenarioJSON),
			"recommendations": string(recommendationJSON),
			"createdAt":       record.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	return s.vectorDB.UpsertPoints(ctx, s.predictionCollection, []Point{point})
}

// entryFromPayload 从向量载荷还原知识条目
func entryFromPayload(id string, payload map[string]interface{}) types.KnowledgeEntry {
	str := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	return types.KnowledgeEntry{
		ID:                  id,
		Festival:            str("festival"),
		AQI:                 str("aqi"),
		Season:              str("season"),
		HealthImpact:        str("healthImpact"),
		RecommendedStaffing: str("recommendedStaffing"),
		RequiredSupplies:    str("requiredSupplies"),
		PatientAdvisory:     str("patientAdvisory"),
		Source:              str("source"),
	}
}
