package storage_test

import (
	"context"
	"strings"
	"testing"

	"health-agent-go/internal/storage"
	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVectorDB 内存实现，记录调用用于断言
type fakeVectorDB struct {
	upserted      map[string][]storage.Point
	deleted       map[string][]string
	searchResults []storage.SearchResult
	count         int64
}

func newFakeVectorDB() *fakeVectorDB {
	return &fakeVectorDB{
		upserted: make(map[string][]storage.Point),
		deleted:  make(map[string][]string),
	}
}

func (f *fakeVectorDB) UpsertPoints(ctx context.Context, collection string, points []storage.Point) error {
	f.upserted[collection] = append(f.upserted[collection], points...)
	return nil
}

func (f *fakeVectorDB) SearchPoints(ctx context.Context, collection string, queryVector []float64, limit int) ([]storage.SearchResult, error) {
	return f.searchResults, nil
}

func (f *fakeVectorDB) DeletePoints(ctx context.Context, collection string, pointIDs []string) error {
	f.deleted[collection] = append(f.deleted[collection], pointIDs...)
	return nil
}

func (f *fakeVectorDB) CountPoints(ctx context.Context, collection string) (int64, error) {
	return f.count, nil
}

// fakeEmbedder 为每个文本返回固定维度的向量
type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, f.dim)
		v[0] = float64(len(texts[i]))
		vectors[i] = v
	}
	return vectors, nil
}

func sampleEntry() types.KnowledgeEntry {
	return types.KnowledgeEntry{
		Festival:            "Diwali",
		AQI:                 "Severe",
		Season:              "Winter",
		HealthImpact:        "Respiratory and burn cases rise sharply",
		RecommendedStaffing: "Increase ER staff by 30%",
		RequiredSupplies:    "Nebulizers, burn dressings",
		Source:              "festival_guidelines.pdf",
	}
}

// TestEmbeddingText 同一条目永远产生同一段嵌入文本，空字段以N/A占位
func TestEmbeddingText(t *testing.T) {
	entry := sampleEntry()
	first := storage.EmbeddingText(entry)
	second := storage.EmbeddingText(entry)
	assert.Equal(t, first, second, "同一条目的嵌入文本必须逐字节一致")

	assert.Contains(t, first, "Festival/Event: Diwali")
	assert.Contains(t, first, "AQI Level: Severe")
	// PatientAdvisory为空，占位N/A
	assert.Contains(t, first, "Patient Advisory: N/A")
	assert.Equal(t, 6, strings.Count(first, "\n"), "七个字段各占一行")
}

// TestPointIDFor 确定性点ID：同一条目同一ID，不同来源不同ID
func TestPointIDFor(t *testing.T) {
	entry := sampleEntry()
	id1 := storage.PointIDFor(entry)
	id2 := storage.PointIDFor(entry)
	assert.Equal(t, id1, id2, "重复摄取同一条目必须得到同一点ID")

	other := entry
	other.Source = "another_source.csv"
	assert.NotEqual(t, id1, storage.PointIDFor(other), "来源不同的条目ID不应碰撞")
}

// TestIndexEntries 批量写入返回与入参等长的ID列表，且写入了知识集合
func TestIndexEntries(t *testing.T) {
	db := newFakeVectorDB()
	store := storage.NewKnowledgeVectorStore(db, &fakeEmbedder{dim: 4}, "knowledge", "predictions")

	entries := []types.KnowledgeEntry{sampleEntry(), {
		Season:       "Summer",
		HealthImpact: "Heat stroke admissions",
	}}
	ids, err := store.IndexEntries(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, storage.PointIDFor(entries[0]), ids[0])

	require.Len(t, db.upserted["knowledge"], 2)
	assert.Equal(t, ids[0], db.upserted["knowledge"][0].ID)
	assert.Equal(t, "Diwali", db.upserted["knowledge"][0].Payload["festival"])
	assert.Empty(t, db.upserted["predictions"], "知识条目不应写入预测集合")
}

// TestIndexEntries_Empty 空批次是无操作
func TestIndexEntries_Empty(t *testing.T) {
	db := newFakeVectorDB()
	store := storage.NewKnowledgeVectorStore(db, &fakeEmbedder{dim: 4}, "knowledge", "predictions")

	ids, err := store.IndexEntries(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, db.upserted["knowledge"])
}

// TestSearchKnowledge 检索结果从载荷还原为知识条目
func TestSearchKnowledge(t *testing.T) {
	db := newFakeVectorDB()
	db.searchResults = []storage.SearchResult{
		{
			ID:    "p1",
			Score: 0.9,
			Payload: map[string]interface{}{
				"festival":     "Diwali",
				"healthImpact": "Burn cases rise",
				"source":       "festival_guidelines.pdf",
			},
		},
	}
	store := storage.NewKnowledgeVectorStore(db, &fakeEmbedder{dim: 4}, "knowledge", "predictions",
		storage.WithDefaultSearchLimit(5))

	results, err := store.SearchKnowledge(context.Background(), "diwali staffing", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Entry.ID)
	assert.Equal(t, "Burn cases rise", results[0].Entry.HealthImpact)
	assert.InDelta(t, 0.9, float64(results[0].Score), 1e-6)
}

// TestDeleteEntry 空ID是无操作，不会发起删除
func TestDeleteEntry(t *testing.T) {
	db := newFakeVectorDB()
	store := storage.NewKnowledgeVectorStore(db, &fakeEmbedder{dim: 4}, "knowledge", "predictions")

	require.NoError(t, store.DeleteEntry(context.Background(), ""))
	assert.Empty(t, db.deleted["knowledge"])

	require.NoError(t, store.DeleteEntry(context.Background(), "p1"))
	assert.Equal(t, []string{"p1"}, db.deleted["knowledge"])
}

// TestStorePredictionDocument 预测文档进入预测集合，占位向量维度为1
func TestStorePredictionDocument(t *testing.T) {
	db := newFakeVectorDB()
	store := storage.NewKnowledgeVectorStore(db, &fakeEmbedder{dim: 4}, "knowledge", "predictions")

	record := &types.PredictionRecord{
		ID:       "7",
		Festival: "Diwali",
		AQI:      "Severe",
		Epidemic: "Dengue outbreak",
		CurrentStaffing: types.StaffCount{
			Doctors: 50, Nurses: 100, Specialists: 10, SupportStaff: 40,
		},
		CurrentSupply: map[string]int{"oxygen_cylinders": 20},
		Recommendations: types.StructuredRecommendation{
			Reasoning: "Severe AQI during Diwali strains respiratory care",
		},
	}
	require.NoError(t, store.StorePredictionDocument(context.Background(), record))

	require.Len(t, db.upserted["predictions"], 1)
	point := db.upserted["predictions"][0]
	assert.Equal(t, []float64{0}, point.Vector)
	assert.Equal(t, "7", point.Payload["predictionId"])
	scenario, ok := point.Payload["scenario"].(string)
	require.True(t, ok)
	assert.Contains(t, scenario, `"festival":"Diwali"`)
	assert.Contains(t, scenario, `"epidemic":"Dengue outbreak"`)
	recs, ok := point.Payload["recommendations"].(string)
	require.True(t, ok)
	assert.Contains(t, recs, "strains respiratory care")
	assert.Empty(t, db.upserted["knowledge"])
}
