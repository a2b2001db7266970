package agent

import (
	"context"
	"testing"

	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReActLoopWithStructuredToolCall(t *testing.T) {
	searcher := &stubSearcher{
		results: []types.ScoredEntry{
			{Score: 0.9, Entry: types.KnowledgeEntry{Festival: "Diwali", RecommendedStaffing: "3 extra doctors"}},
		},
	}

	tools := map[string]tool.InvokableTool{
		SearchKnowledgeToolName:   NewSearchKnowledgeTool(searcher, 3),
		CalculateStaffingToolName: NewCalculateStaffingTool(),
	}

	finalAnswer := `{"staffingRecommendations":{"doctors":13,"nurses":26,"specialists":3,"supportStaff":10}}`
	mockClient := NewMockChatClientSequential([]MockResponse{
		{
			Content: "I should look up historical guidance for Diwali.",
			ToolCalls: []*schema.ToolCall{
				{
					ID: "call_1",
					Function: schema.FunctionCall{
						Name:      SearchKnowledgeToolName,
						Arguments: `{"query": "Diwali severe AQI staffing"}`,
					},
				},
			},
		},
		{
			Content: "Thought: I have enough context now.\nAction: Final Answer\nAction Input: " + finalAnswer,
		},
	})

	stepper := NewReActStepper(tools)
	baseAgent := NewBaseAgent("recommendation-agent", "", 5, mockClient, stepper, NewInMemoryChatMemory(), "session-1")

	result, err := baseAgent.Run(context.Background(), "Recommend staffing for Diwali with severe AQI.")
	require.NoError(t, err, "代理运行不应返回错误")

	assert.Equal(t, AgentStateFinished, baseAgent.GetState())
	assert.Contains(t, result, `"doctors":13`, "最终输出应是最后一步的Final Answer")

	// 历史记录中应包含工具观察消息
	history, err := baseAgent.GetHistory()
	require.NoError(t, err)

	var foundToolMsg bool
	for _, msg := range history {
		if msg.Role == "tool" {
			foundToolMsg = true
			assert.Contains(t, msg.Content, "Diwali", "工具观察结果应包含检索内容")
		}
	}
	assert.True(t, foundToolMsg, "历史记录中应有工具消息")
	assert.Equal(t, "Diwali severe AQI staffing", searcher.lastQuery, "检索工具应收到结构化调用的查询")
}

func TestReActLoopTextFallback(t *testing.T) {
	// 模型不支持结构化工具调用时，从ReAct文本中解析行动
	tools := map[string]tool.InvokableTool{
		CalculateStaffingToolName: NewCalculateStaffingTool(),
	}

	mockClient := NewMockChatClientSequential([]MockResponse{
		{Content: "Thought: I need to compute the surge.\nAction: calculate_staffing\nAction Input: {\"currentStaffing\": {\"doctors\": 50, \"nurses\": 0, \"specialists\": 0, \"supportStaff\": 0}, \"surgePercentage\": 30}"},
		{Content: "Thought: Done.\nAction: Final Answer\nAction Input: You need 65 doctors."},
	})

	stepper := NewReActStepper(tools)
	baseAgent := NewBaseAgent("recommendation-agent", "", 5, mockClient, stepper, NewInMemoryChatMemory(), "session-2")

	result, err := baseAgent.Run(context.Background(), "How many doctors for a 30% surge on 50?")
	require.NoError(t, err)
	assert.Equal(t, "You need 65 doctors.", result)
	assert.Equal(t, AgentStateFinished, baseAgent.GetState())
}

func TestReActLoopUnknownToolObservation(t *testing.T) {
	tools := map[string]tool.InvokableTool{}

	mockClient := NewMockChatClientSequential([]MockResponse{
		{Content: "Thought: Try something.\nAction: nonexistent_tool\nAction Input: {}"},
		{Content: "Thought: Fall back.\nAction: Final Answer\nAction Input: fallback answer"},
	})

	stepper := NewReActStepper(tools)
	baseAgent := NewBaseAgent("recommendation-agent", "", 5, mockClient, stepper, NewInMemoryChatMemory(), "session-3")

	result, err := baseAgent.Run(context.Background(), "do something")
	require.NoError(t, err, "未知工具不应中断代理循环")
	assert.Equal(t, "fallback answer", result)
}

func TestReActLoopStopsAtMaxSteps(t *testing.T) {
	tools := map[string]tool.InvokableTool{
		CalculateStaffingToolName: NewCalculateStaffingTool(),
	}

	// 模型永远只请求工具，不给最终答案
	loop := MockResponse{Content: "Thought: again.\nAction: calculate_staffing\nAction Input: {\"currentStaffing\": {\"doctors\": 1, \"nurses\": 1, \"specialists\": 0, \"supportStaff\": 0}, \"surgePercentage\": 1}"}
	mockClient := NewMockChatClientSequential([]MockResponse{loop, loop, loop})

	stepper := NewReActStepper(tools)
	baseAgent := NewBaseAgent("recommendation-agent", "", 3, mockClient, stepper, NewInMemoryChatMemory(), "session-4")

	_, err := baseAgent.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, AgentStateFinished, baseAgent.GetState(), "达到最大步数后也应标记为完成")
	assert.Equal(t, 3, baseAgent.CurrentStep)
}

func TestReActLoopBareFinalAnswerPrefix(t *testing.T) {
	// 模型直接输出 "Final Answer: ..." 一行（不带 Action/Action Input 包装）
	// 也必须被识别为终止，答案内容是标记之后的全部文本
	tools := map[string]tool.InvokableTool{
		CalculateStaffingToolName: NewCalculateStaffingTool(),
	}

	recommendation := `{"staffingRecommendations":{"doctors":65,"nurses":130,"specialists":13,"supportStaff":52},"reasoning":"surge planning"}`
	mockClient := NewMockChatClientSequential([]MockResponse{
		{Content: "Thought: I have everything I need.\nFinal Answer: " + recommendation},
	})

	stepper := NewReActStepper(tools)
	baseAgent := NewBaseAgent("recommendation-agent", "", 4, mockClient, stepper, NewInMemoryChatMemory(), "session-5")

	result, err := baseAgent.Run(context.Background(), "Recommend staffing.")
	require.NoError(t, err)
	assert.Equal(t, AgentStateFinished, baseAgent.GetState())
	assert.Equal(t, 1, baseAgent.CurrentStep, "首轮给出最终答案就应停止，不应空转")
	assert.Equal(t, recommendation, result)
}

func TestParseReActText(t *testing.T) {
	t.Run("裸Final Answer前缀", func(t *testing.T) {
		step, err := parseReActText("Final Answer: all good")
		require.NoError(t, err)
		assert.True(t, step.IsFinal)
		assert.Equal(t, "all good", step.FinalAnswer)
	})

	t.Run("Action形式的最终答案", func(t *testing.T) {
		step, err := parseReActText("Thought: done\nAction: Final Answer\nAction Input: the answer")
		require.NoError(t, err)
		assert.True(t, step.IsFinal)
		assert.Equal(t, "the answer", step.FinalAnswer)
	})

	t.Run("工具行动", func(t *testing.T) {
		step, err := parseReActText("Thought: look it up\nAction: search_knowledge_base\nAction Input: {\"query\": \"Diwali\"}")
		require.NoError(t, err)
		assert.False(t, step.IsFinal)
		assert.Equal(t, "search_knowledge_base", step.ToolName)
		assert.Equal(t, `{"query": "Diwali"}`, step.ToolInput)
	})

	t.Run("仅有思考视为最终答案", func(t *testing.T) {
		step, err := parseReActText("Thought: nothing else to do")
		require.NoError(t, err)
		assert.True(t, step.IsFinal)
		assert.Equal(t, "nothing else to do", step.FinalAnswer)
	})

	t.Run("空输出报错", func(t *testing.T) {
		_, err := parseReActText("   ")
		require.Error(t, err)
	})
}
