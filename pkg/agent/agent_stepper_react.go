package agent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// FinalAnswerMarker 是终止推理循环的标记。模型在该标记之后输出最终答案，
// 既接受独立的 "Final Answer: ..." 行，也接受 "Action: Final Answer" 加
// "Action Input:" 的传统写法。
const FinalAnswerMarker = "Final Answer:"

// parsedStep 是单步LLM输出的解析结果：要么执行一个工具，要么给出最终答案。
type parsedStep struct {
	Thought     string
	ToolName    string
	ToolInput   string
	FinalAnswer string
	IsFinal     bool
	ToolCall    *schema.ToolCall
	Raw         string
}

// ReActStepper 实现 Stepper 接口，驱动"思考-行动-观察"推理循环。
// 优先使用模型的结构化工具调用，对纯文本输出做协议解析兜底。
type ReActStepper struct {
	AvailableTools map[string]tool.InvokableTool
}

// NewReActStepper 创建一个新的 ReActStepper。
func NewReActStepper(tools map[string]tool.InvokableTool) *ReActStepper {
	return &ReActStepper{AvailableTools: tools}
}

// Step 执行一轮推理：调用LLM，然后执行工具或落定最终答案。
// 思考阶段的错误直接上抛，由 BaseAgent.Run 终止本次运行。
func (rs *ReActStepper) Step(ctx context.Context, agent *BaseAgent) (string, error) {
	history, err := agent.GetHistory()
	if err != nil {
		return "", fmt.Errorf("获取历史记录失败: %w", err)
	}

	step, err := rs.think(ctx, agent, history)
	if err != nil {
		return "", fmt.Errorf("步骤 %d 思考失败: %w", agent.CurrentStep, err)
	}

	if step.IsFinal {
		agent.AddMessage(&schema.Message{Role: "assistant", Content: step.FinalAnswer})
		log.Printf("[ReActStepper] 步骤 %d: 最终答案: %s", agent.CurrentStep, truncateString(step.FinalAnswer, 300))
		agent.SetState(AgentStateFinished)
		return step.FinalAnswer, nil
	}

	// 工具步骤：先把模型的决策写入历史，再追加观察结果
	if step.ToolCall != nil {
		agent.AddMessage(&schema.Message{
			Role:      "assistant",
			Content:   step.Thought,
			ToolCalls: []schema.ToolCall{*step.ToolCall},
		})
	} else {
		agent.AddMessage(&schema.Message{Role: "assistant", Content: step.Raw})
	}

	observation := rs.act(ctx, step)
	log.Printf("[ReActStepper] 步骤 %d: 工具 '%s' 观察结果: %s", agent.CurrentStep, step.ToolName, truncateString(observation, 300))

	toolCallID := step.ToolName
	if step.ToolCall != nil {
		toolCallID = step.ToolCall.ID
	}
	agent.AddMessage(&schema.Message{Role: "tool", ToolCallID: toolCallID, Content: observation})
	return observation, nil
}

// think 调用LLM并把响应解析为一个推理步骤。
func (rs *ReActStepper) think(ctx context.Context, agent *BaseAgent, history []*schema.Message) (*parsedStep, error) {
	prompt := rs.buildReActPrompt(ctx, history, agent.Name)

	var toolInfos []*schema.ToolInfo
	for name, executor := range rs.AvailableTools {
		info, err := executor.Info(ctx)
		if err != nil || info == nil {
			log.Printf("[ReActStepper] 获取工具 %s 的信息失败: %v", name, err)
			continue
		}
		toolInfos = append(toolInfos, info)
	}

	response, err := agent.ChatClient.Generate(ctx,
		[]*schema.Message{{Role: "user", Content: prompt}},
		model.WithTools(toolInfos))
	if err != nil {
		return nil, fmt.Errorf("LLM Generate 调用失败: %w", err)
	}

	return rs.parseResponse(response)
}

// parseResponse 解析LLM响应。结构化工具调用优先；
// 指向未知工具的结构化调用按文本协议兜底，避免模型幻觉中断循环。
func (rs *ReActStepper) parseResponse(response *schema.Message) (*parsedStep, error) {
	if len(response.ToolCalls) > 0 {
		tc := response.ToolCalls[0] // 每步只执行一个动作
		if _, ok := rs.AvailableTools[tc.Function.Name]; ok {
			return &parsedStep{
				Thought:   strings.TrimSpace(response.Content),
				ToolName:  tc.Function.Name,
				ToolInput: tc.Function.Arguments,
				ToolCall:  &tc,
				Raw:       response.Content,
			}, nil
		}
		log.Printf("[ReActStepper] 模型请求未知工具 '%s'，回退到文本解析", tc.Function.Name)
	}
	return parseReActText(response.Content)
}

// buildReActPrompt 把工具清单和会话历史渲染为单条推理提示。
func (rs *ReActStepper) buildReActPrompt(ctx context.Context, history []*schema.Message, agentName string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("你是 %s。按步骤思考，并决定是调用工具还是给出最终答案。\n", agentName))
	sb.WriteString("调用工具时使用以下格式：\n")
	sb.WriteString("Thought: [你的推理过程]\n")
	sb.WriteString("Action: [工具名称]\n")
	sb.WriteString("Action Input: [工具的JSON参数]\n")
	sb.WriteString("Observation: [系统填充的工具结果，请勿自行填写]\n")
	sb.WriteString("信息足够后，用一行以 \"Final Answer:\" 开头的内容结束，后面直接跟最终答案。\n")

	if len(rs.AvailableTools) > 0 {
		sb.WriteString("\n可用工具：\n")
		for name, toolInstance := range rs.AvailableTools {
			info, err := toolInstance.Info(ctx)
			if err == nil && info != nil {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", name, info.Desc))
			} else {
				sb.WriteString(fmt.Sprintf("- %s\n", name))
			}
		}
	}

	sb.WriteString("\n对话历史：\n")
	for _, msg := range history {
		switch msg.Role {
		case "system":
			sb.WriteString(fmt.Sprintf("System: %s\n", msg.Content))
		case "user":
			sb.WriteString(fmt.Sprintf("User: %s\n", msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				sb.WriteString(fmt.Sprintf("Thought: %s\n", msg.Content))
				for _, tc := range msg.ToolCalls {
					sb.WriteString(fmt.Sprintf("Action: %s\nAction Input: %s\n", tc.Function.Name, tc.Function.Arguments))
				}
			} else {
				sb.WriteString(fmt.Sprintf("%s\n", msg.Content))
			}
		case "tool":
			sb.WriteString(fmt.Sprintf("Observation: %s\n", msg.Content))
		default:
			sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
		}
	}
	sb.WriteString("\nThought:")
	return sb.String()
}

var (
	thoughtRegex = regexp.MustCompile(`(?is)Thought:\s*(.*?)(?:\n(?:Action|Final Answer):|$)`)
	actionRegex  = regexp.MustCompile(`(?is)Action:\s*(.*?)(?:\nAction Input:|$)`)
	inputRegex   = regexp.MustCompile(`(?is)Action Input:\s*(.*)`)
)

// parseReActText 从纯文本响应中解析出一个推理步骤。
// 识别顺序：最终答案标记 > 工具行动 > 仅有思考（视为最终答案）。
func parseReActText(text string) (*parsedStep, error) {
	text = strings.TrimSpace(text)
	step := &parsedStep{Raw: text}

	if m := thoughtRegex.FindStringSubmatch(text); len(m) > 1 {
		step.Thought = strings.TrimSpace(m[1])
	}

	// 两种终止写法都接受："Final Answer: ..." 与 "Action: Final Answer"
	if idx := findFinalAnswerMarker(text); idx >= 0 {
		step.IsFinal = true
		step.FinalAnswer = extractFinalAnswer(text, idx)
		if step.FinalAnswer == "" {
			step.FinalAnswer = step.Thought
		}
		if step.FinalAnswer == "" {
			return nil, fmt.Errorf("响应声明了最终答案但没有内容: %s", truncateString(text, 200))
		}
		return step, nil
	}

	if m := actionRegex.FindStringSubmatch(text); len(m) > 1 {
		step.ToolName = strings.TrimSpace(m[1])
		if im := inputRegex.FindStringSubmatch(text); len(im) > 1 {
			step.ToolInput = strings.TrimSpace(im[1])
		}
		return step, nil
	}

	// 没有行动也没有标记：把纯思考当作最终答案，避免空转
	if step.Thought == "" && text != "" {
		step.Thought = text
	}
	if step.Thought == "" {
		return nil, fmt.Errorf("无法从LLM输出中解析出行动或最终答案: %s", truncateString(text, 200))
	}
	step.IsFinal = true
	step.FinalAnswer = step.Thought
	return step, nil
}

// findFinalAnswerMarker 返回最终答案标记的位置，没有则返回-1
func findFinalAnswerMarker(text string) int {
	if idx := strings.Index(text, FinalAnswerMarker); idx >= 0 {
		return idx
	}
	if idx := strings.Index(text, "Action: Final Answer"); idx >= 0 {
		return idx
	}
	return -1
}

// extractFinalAnswer 取出标记之后的答案内容
func extractFinalAnswer(text string, markerIdx int) string {
	rest := text[markerIdx:]
	switch {
	case strings.HasPrefix(rest, FinalAnswerMarker):
		return strings.TrimSpace(rest[len(FinalAnswerMarker):])
	case strings.HasPrefix(rest, "Action: Final Answer"):
		if m := inputRegex.FindStringSubmatch(rest); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// act 执行工具并返回观察结果。工具不存在或执行失败都转成观察文本，
// 让模型看到错误后自行调整，而不是中断整次运行。
func (rs *ReActStepper) act(ctx context.Context, step *parsedStep) string {
	toolToUse, ok := rs.AvailableTools[step.ToolName]
	if !ok {
		return fmt.Sprintf("错误：找不到名为 '%s' 的工具。可用工具: %s", step.ToolName, strings.Join(rs.toolNames(), ", "))
	}

	argumentsInJSON := step.ToolInput
	if step.ToolCall != nil {
		argumentsInJSON = step.ToolCall.Function.Arguments
	}
	if argumentsInJSON == "" {
		argumentsInJSON = "{}"
	}

	output, err := toolToUse.InvokableRun(ctx, argumentsInJSON)
	if err != nil {
		return fmt.Sprintf("工具 '%s' 执行时出错: %v", step.ToolName, err)
	}
	return output
}

// toolNames 返回所有可用工具的名称。
func (rs *ReActStepper) toolNames() []string {
	names := make([]string, 0, len(rs.AvailableTools))
	for name := range rs.AvailableTools {
		names = append(names, name)
	}
	return names
}

// truncateString 截断字符串用于日志输出。
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen > 3 {
		return s[:maxLen-3] + "..."
	}
	return s[:maxLen]
}
