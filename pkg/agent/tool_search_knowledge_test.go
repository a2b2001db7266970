package agent

import (
	"context"
	"errors"
	"testing"

	"health-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSearcher 是 KnowledgeSearcher 的测试桩
type stubSearcher struct {
	results []types.ScoredEntry
	err     error

	lastQuery string
	lastLimit int
}

func (s *stubSearcher) SearchKnowledge(ctx context.Context, query string, limit int) ([]types.ScoredEntry, error) {
	s.lastQuery = query
	s.lastLimit = limit
	return s.results, s.err
}

func TestSearchKnowledgeToolFormatsResults(t *testing.T) {
	searcher := &stubSearcher{
		results: []types.ScoredEntry{
			{
				Score: 0.92,
				Entry: types.KnowledgeEntry{
					Festival:            "Diwali",
					AQI:                 "Severe",
					HealthImpact:        "Burn injuries spike",
					RecommendedStaffing: "3 extra doctors",
				},
			},
			{
				Score: 0.55,
				Entry: types.KnowledgeEntry{
					Season:           "Winter",
					RequiredSupplies: "Nebulizers",
				},
			},
		},
	}

	toolInstance := NewSearchKnowledgeTool(searcher, 3)
	result, err := toolInstance.InvokableRun(context.Background(), `{"query": "Diwali staffing"}`)
	require.NoError(t, err)

	assert.Contains(t, result, "Result 1 (Relevance: 92%)")
	assert.Contains(t, result, "Festival/Event: Diwali")
	assert.Contains(t, result, "Result 2 (Relevance: 55%)")
	assert.Contains(t, result, "Required Supplies: Nebulizers")
	// 空字段不应出现在格式化结果中
	assert.NotContains(t, result, "Patient Advisory:")

	assert.Equal(t, "Diwali staffing", searcher.lastQuery)
	assert.Equal(t, 3, searcher.lastLimit, "未指定limit时应使用默认值")
}

func TestSearchKnowledgeToolEmptyResults(t *testing.T) {
	toolInstance := NewSearchKnowledgeTool(&stubSearcher{}, 3)
	result, err := toolInstance.InvokableRun(context.Background(), `{"query": "unknown scenario"}`)
	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeFoundMessage, result)
}

func TestSearchKnowledgeToolDegradesOnError(t *testing.T) {
	// 向量库不可用时工具不报错，返回"未找到"让代理继续
	searcher := &stubSearcher{err: errors.New("qdrant unreachable")}
	toolInstance := NewSearchKnowledgeTool(searcher, 3)

	result, err := toolInstance.InvokableRun(context.Background(), `{"query": "Diwali"}`)
	require.NoError(t, err, "检索失败应降级而不是报错")
	assert.Equal(t, NoKnowledgeFoundMessage, result)
}

func TestSearchKnowledgeToolCustomLimit(t *testing.T) {
	searcher := &stubSearcher{}
	toolInstance := NewSearchKnowledgeTool(searcher, 3)

	_, err := toolInstance.InvokableRun(context.Background(), `{"query": "flu season", "limit": 5}`)
	require.NoError(t, err)
	assert.Equal(t, 5, searcher.lastLimit)
}
