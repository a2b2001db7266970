package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// SearchKnowledgeToolName 是知识库检索工具注册给LLM的名称
const SearchKnowledgeToolName = "search_knowledge_base"

// NoKnowledgeFoundMessage 检索不到结果时返回给LLM的固定文案
const NoKnowledgeFoundMessage = "No relevant information found in the knowledge base."

// KnowledgeSearcher 是知识检索工具对向量检索层的最小依赖
type KnowledgeSearcher interface {
	SearchKnowledge(ctx context.Context, query string, limit int) ([]types.ScoredEntry, error)
}

// SearchKnowledgeTool 让代理在推荐过程中检索历史知识条目。
// 实现了 eino 的 tool.BaseTool 和 tool.InvokableTool 接口。
type SearchKnowledgeTool struct {
	searcher     KnowledgeSearcher
	defaultLimit int
}

// NewSearchKnowledgeTool 创建知识库检索工具
func NewSearchKnowledgeTool(searcher KnowledgeSearcher, defaultLimit int) *SearchKnowledgeTool {
	if defaultLimit <= 0 {
		defaultLimit = 3
	}
	return &SearchKnowledgeTool{
		searcher:     searcher,
		defaultLimit: defaultLimit,
	}
}

// Info 返回工具的元信息，符合 tool.BaseTool 接口。
func (t *SearchKnowledgeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: SearchKnowledgeToolName,
		Desc: "Search the hospital knowledge base for historical guidance on staffing, supplies and health impact for a given scenario (festival/event, AQI level, season).",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     "string",
				Desc:     "A natural language description of the scenario to look up, e.g. 'Diwali severe AQI winter staffing'",
				Required: true,
			},
			"limit": {
				Type: "integer",
				Desc: "Maximum number of knowledge entries to return. Defaults to 3.",
			},
		}),
	}, nil
}

// InvokableRun 执行检索，符合 tool.InvokableTool 接口。
// 检索层故障时不报错，返回"未找到"文案，让代理基于通用知识继续推理。
func (t *SearchKnowledgeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	log.Printf("[知识检索工具] 开始执行，原始输入 JSON: %s", argumentsInJSON)

	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}

	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		log.Printf("[知识检索工具] 解析输入 JSON '%s' 失败: %v。将尝试直接使用原始输入作为查询。", argumentsInJSON, err)
		if strings.TrimSpace(argumentsInJSON) == "" {
			return "", fmt.Errorf("工具 '%s' 的输入JSON解析失败且原始输入为空: %w", SearchKnowledgeToolName, err)
		}
		args.Query = argumentsInJSON
	}

	if strings.TrimSpace(args.Query) == "" {
		return NoKnowledgeFoundMessage, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}

	results, err := t.searcher.SearchKnowledge(ctx, args.Query, limit)
	if err != nil {
		// 检索失败降级为空结果，推荐流程不因向量库不可用而中断
		log.Printf("[知识检索工具] 检索失败，降级为空结果: %v", err)
		return NoKnowledgeFoundMessage, nil
	}

	if len(results) == 0 {
		return NoKnowledgeFoundMessage, nil
	}

	return FormatSearchResults(results), nil
}

// FormatSearchResults 将检索结果格式化为LLM可读的上下文文本
func FormatSearchResults(results []types.ScoredEntry) string {
	var sb strings.Builder
	for i, scored := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("Result %d (Relevance: %.0f%%)\n", i+1, scored.Score*100))

		entry := scored.Entry
		if entry.Festival != "" {
			sb.WriteString(fmt.Sprintf("Festival/Event: %s\n", entry.Festival))
		}
		if entry.AQI != "" {
			sb.WriteString(fmt.Sprintf("AQI Level: %s\n", entry.AQI))
		}
		if entry.Season != "" {
			sb.WriteString(fmt.Sprintf("Season: %s\n", entry.Season))
		}
		if entry.HealthImpact != "" {
			sb.WriteString(fmt.Sprintf("Health Impact: %s\n", entry.HealthImpact))
		}
		if entry.RecommendedStaffing != "" {
			sb.WriteString(fmt.Sprintf("Recommended Staffing: %s\n", entry.RecommendedStaffing))
		}
		if entry.RequiredSupplies != "" {
			sb.WriteString(fmt.Sprintf("Required Supplies: %s\n", entry.RequiredSupplies))
		}
		if entry.PatientAdvisory != "" {
			sb.WriteString(fmt.Sprintf("Patient Advisory: %s\n", entry.PatientAdvisory))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

var _ tool.BaseTool = (*SearchKnowledgeTool)(nil)
var _ tool.InvokableTool = (*SearchKnowledgeTool)(nil)
