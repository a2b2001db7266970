package storage_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockQdrantServer 返回一个模拟Qdrant REST API的服务器。
// 两个集合（知识库+预测文档）在NewQdrant初始化时都会被检查，
// 这里统一响应"已存在"，额外的路由由handlers按 method+path 提供。
func newMockQdrantServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections/test_knowledge" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"size": 1536, "distance": "Cosine"}}}}}`))
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/collections/test_predictions" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"size": 1, "distance": "Cosine"}}}}}`))
			return
		}
		if h, ok := handlers[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status": {"error": "Not found"}}`))
	}))
}

func newTestQdrant(t *testing.T, serverURL string) *storage.Qdrant {
	t.Helper()
	cfg := &config.QdrantConfig{
		Endpoint:             serverURL,
		KnowledgeCollection:  "test_knowledge",
		PredictionCollection: "test_predictions",
		Dimension:            1536,
	}
	client, err := storage.NewQdrant(cfg,
		storage.WithDistanceMetric("Cosine"),
		storage.WithHTTPTimeout(5*time.Second))
	require.NoError(t, err, "应该成功创建Qdrant客户端")
	require.NotNil(t, client)
	return client
}

// TestQdrant_NewQdrant 测试客户端初始化时两个集合都已存在的情况
func TestQdrant_NewQdrant(t *testing.T) {
	server := newMockQdrantServer(t, nil)
	defer server.Close()

	client := newTestQdrant(t, server.URL)
	assert.NotNil(t, client)
}

// TestQdrant_NewQdrant_CreatesMissingCollection 集合不存在时应自动创建
func TestQdrant_NewQdrant_CreatesMissingCollection(t *testing.T) {
	var created []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			// 两个集合都不存在
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status": {"error": "Not found"}}`))
		case r.Method == http.MethodPut:
			var body map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Contains(t, body, "vectors", "创建集合请求应包含向量配置")
			created = append(created, r.URL.Path)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": true, "status": "ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestQdrant(t, server.URL)
	assert.NotNil(t, client)
	assert.Contains(t, created, "/collections/test_knowledge")
	assert.Contains(t, created, "/collections/test_predictions")
}

// TestQdrant_UpsertPoints 测试写入向量点
func TestQdrant_UpsertPoints(t *testing.T) {
	var gotBody map[string]interface{}
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"PUT /collections/test_knowledge/points": func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, &gotBody))
			// 写入必须带 wait=true，确保落盘后才返回
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"status": "completed"}, "status": "ok", "time": 0.002}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	points := []storage.Point{
		{
			ID:     "11111111-2222-3333-4444-555555555555",
			Vector: []float64{0.1, 0.2, 0.3},
			Payload: map[string]interface{}{
				"source": "winter_guidelines.pdf",
				"season": "Winter",
			},
		},
	}
	err := client.UpsertPoints(context.Background(), "test_knowledge", points)
	require.NoError(t, err)

	rawPoints, ok := gotBody["points"].([]interface{})
	require.True(t, ok, "请求体应包含points数组")
	require.Len(t, rawPoints, 1)
	first := rawPoints[0].(map[string]interface{})
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", first["id"])
}

// TestQdrant_UpsertPoints_Empty 空输入是无操作，不应发起请求
func TestQdrant_UpsertPoints_Empty(t *testing.T) {
	requested := false
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"PUT /collections/test_knowledge/points": func(w http.ResponseWriter, r *http.Request) {
			requested = true
			w.WriteHeader(http.StatusOK)
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)
	err := client.UpsertPoints(context.Background(), "test_knowledge", nil)
	require.NoError(t, err)
	assert.False(t, requested, "空点集不应触发HTTP请求")
}

// TestQdrant_SearchPoints 测试向量相似度搜索
func TestQdrant_SearchPoints(t *testing.T) {
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"POST /collections/test_knowledge/points/search": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &req))
			assert.Equal(t, float64(3), req["limit"])
			assert.Equal(t, true, req["with_payload"])

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": [
					{"id": "p1", "score": 0.92, "payload": {"healthImpact": "Respiratory cases rise", "season": "Winter"}},
					{"id": "p2", "score": 0.81, "payload": {"healthImpact": "Flu admissions peak", "season": "Winter"}}
				],
				"status": "ok",
				"time": 0.004
			}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	results, err := client.SearchPoints(context.Background(), "test_knowledge", []float64{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ID)
	assert.InDelta(t, 0.92, float64(results[0].Score), 1e-6)
	assert.Equal(t, "Respiratory cases rise", results[0].Payload["healthImpact"])
	assert.Equal(t, "p2", results[1].ID)
}

// TestQdrant_SearchPoints_ServerError 非2xx响应应返回错误
func TestQdrant_SearchPoints_ServerError(t *testing.T) {
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"POST /collections/test_knowledge/points/search": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status": {"error": "internal error"}}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	_, err := client.SearchPoints(context.Background(), "test_knowledge", []float64{0.1}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

// TestQdrant_DeletePoints 测试按ID删除向量点
func TestQdrant_DeletePoints(t *testing.T) {
	var gotIDs []interface{}
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"POST /collections/test_knowledge/points/delete": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &req))
			gotIDs, _ = req["points"].([]interface{})
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"status": "completed"}, "status": "ok"}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	err := client.DeletePoints(context.Background(), "test_knowledge", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"p1", "p2"}, gotIDs)
}

// TestQdrant_CountPoints 测试精确计数
func TestQdrant_CountPoints(t *testing.T) {
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"POST /collections/test_knowledge/points/count": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &req))
			assert.Equal(t, true, req["exact"])
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"count": 42}, "status": "ok"}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	count, err := client.CountPoints(context.Background(), "test_knowledge")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

// TestQdrant_ScrollBySource 测试按来源文档过滤滚动
func TestQdrant_ScrollBySource(t *testing.T) {
	server := newMockQdrantServer(t, map[string]http.HandlerFunc{
		"POST /collections/test_knowledge/points/scroll": func(w http.ResponseWriter, r *http.Request) {
			var req map[string]interface{}
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &req))
			filter, ok := req["filter"].(map[string]interface{})
			require.True(t, ok, "scroll请求应包含filter")
			must := filter["must"].([]interface{})
			cond := must[0].(map[string]interface{})
			assert.Equal(t, "source", cond["key"])

			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": {"points": [
					{"id": "p1", "payload": {"source": "winter_guidelines.pdf"}},
					{"id": "p2", "payload": {"source": "winter_guidelines.pdf"}}
				]},
				"status": "ok"
			}`))
		},
	})
	defer server.Close()

	client := newTestQdrant(t, server.URL)

	results, err := client.ScrollBySource(context.Background(), "test_knowledge", "winter_guidelines.pdf", 100)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "winter_guidelines.pdf", results[0].Payload["source"])
	assert.Zero(t, results[0].Score)
}
