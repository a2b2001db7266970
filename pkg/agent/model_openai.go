package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultOpenAIChatAPIURL = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModelName  = "gpt-4o-mini"
)

// --- OpenAI 接口结构 ---

type OpenAIToolFunctionParamsProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type OpenAIToolFunctionParams struct {
	Type       string                                      `json:"type"` // 通常是 "object"
	Properties map[string]OpenAIToolFunctionParamsProperty `json:"properties"`
	Required   []string                                    `json:"required,omitempty"`
}

type OpenAIFunction struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  OpenAIToolFunctionParams `json:"parameters"`
}

type OpenAITool struct {
	Type     string         `json:"type"` // 必须是 "function"
	Function OpenAIFunction `json:"function"`
}

// OpenAIChatModel 实现了 model.ToolCallingChatModel 接口，
// 通过 OpenAI 兼容的 /chat/completions 端点与模型交互。
type OpenAIChatModel struct {
	apiKey           string
	modelName        string
	apiURL           string
	temperature      float64
	maxTokens        int
	httpClient       *http.Client
	boundOpenAITools []OpenAITool
}

// OpenAIModelOption OpenAIChatModel 的配置选项
type OpenAIModelOption func(*OpenAIChatModel)

// WithTemperature 设置采样温度
func WithTemperature(temperature float64) OpenAIModelOption {
	return func(m *OpenAIChatModel) {
		m.temperature = temperature
	}
}

// WithMaxTokens 设置单次响应的最大token数
func WithMaxTokens(maxTokens int) OpenAIModelOption {
	return func(m *OpenAIChatModel) {
		m.maxTokens = maxTokens
	}
}

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例。
func NewOpenAIChatModel(apiKey string, modelName string, apiURL string, options ...OpenAIModelOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultOpenAIModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultOpenAIChatAPIURL
	}

	chatModel := &OpenAIChatModel{
		apiKey:           apiKey,
		modelName:        mn,
		apiURL:           url,
		httpClient:       &http.Client{},
		boundOpenAITools: make([]OpenAITool, 0),
	}
	for _, option := range options {
		option(chatModel)
	}

	log.Printf("使用 OpenAI LLM 客户端，API URL: %s, 模型: %s", url, mn)
	return chatModel, nil
}

type OpenAIChatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"` // schema.Message 的 role/content 字段与 OpenAI 兼容
	Tools       []OpenAITool      `json:"tools,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type OpenAIMessage struct {
	Role      string               `json:"role"`
	Content   *string              `json:"content"` // 存在 tool_calls 时 content 可能为 null
	ToolCalls []OpenAIToolCallData `json:"tool_calls,omitempty"`
}

type OpenAIToolCallData struct {
	Id       string `json:"id"`
	Type     string `json:"type"` // 应为 "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // 参数的JSON字符串
	} `json:"function"`
}

type OpenAIChatChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAICompletionResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
}

// Generate 实现 model.ChatModel 接口
func (oc *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	// 工具配置通过 WithTools -> BindTools 完成，这里不处理其他通用选项
	for _, opt := range options {
		_ = opt
	}

	// 过滤消息：ReAct 文本解析产生的 tool 消息（前一条助手消息没有结构化 tool_calls）
	// 不能发给 OpenAI API，观察结果已经在 ReAct 提示中
	var llmMessagesForAPI []*schema.Message
	for i, currentMsg := range messages {
		if currentMsg.Role == schema.RoleType("tool") {
			if i > 0 {
				prevMsgInHistory := messages[i-1]
				if prevMsgInHistory.Role == schema.RoleType("assistant") && len(prevMsgInHistory.ToolCalls) == 0 {
					log.Printf("[OpenAI模型] 因前一条助手消息缺少 tool_calls，跳过 API 调用的工具消息 (ToolCallID: %s, Name: %s)。", currentMsg.ToolCallID, currentMsg.Name)
					continue
				}
			}
		}
		llmMessagesForAPI = append(llmMessagesForAPI, currentMsg)
	}

	reqPayload := OpenAIChatCompletionRequest{
		Model:    oc.modelName,
		Messages: llmMessagesForAPI,
	}

	if oc.temperature > 0 {
		temperature := oc.temperature
		reqPayload.Temperature = &temperature
	}
	if oc.maxTokens > 0 {
		reqPayload.MaxTokens = oc.maxTokens
	}

	if len(oc.boundOpenAITools) > 0 {
		reqPayload.Tools = oc.boundOpenAITools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+oc.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	log.Printf("[OpenAI模型] 发送请求到 %s，模型 %s。消息数: %d", oc.apiURL, oc.modelName, len(llmMessagesForAPI))

	httpResp, err := oc.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var openAIResp OpenAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w。响应体: %s", err, string(bodyBytes))
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", string(bodyBytes))
	}

	apiMessage := openAIResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: responseContent,
	}

	if len(apiMessage.ToolCalls) > 0 {
		resultMessage.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			resultMessage.ToolCalls[i] = schema.ToolCall{
				ID: tc.Id,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}

	if resultMessage.Role == "" {
		resultMessage.Role = schema.RoleType("assistant")
	}

	return resultMessage, nil
}

// Stream 实现 model.ChatModel 接口 (未实现)
func (oc *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	log.Println("[OpenAI模型] Stream 方法被调用，但尚未实现。")
	return nil, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口。
// 由于无法可靠地从 schema.ParamsOneOf 外部访问参数的详细信息，
// 已知工具的 OpenAI 参数 schema 在这里显式定义。
func (oc *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	oc.boundOpenAITools = make([]OpenAITool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}

		var params OpenAIToolFunctionParams
		switch toolInfo.Name {
		case SearchKnowledgeToolName:
			params = OpenAIToolFunctionParams{
				Type: "object",
				Properties: map[string]OpenAIToolFunctionParamsProperty{
					"query": {Type: "string", Description: "A natural language description of the scenario to look up, e.g. 'Diwali severe AQI winter staffing'"},
					"limit": {Type: "integer", Description: "Maximum number of knowledge entries to return. Defaults to 3."},
				},
				Required: []string{"query"},
			}
		case CalculateStaffingToolName:
			params = OpenAIToolFunctionParams{
				Type: "object",
				Properties: map[string]OpenAIToolFunctionParamsProperty{
					"current_count":    {Type: "integer", Description: "The current number of staff of this type"},
					"surge_percentage": {Type: "number", Description: "The expected surge in demand, as a percentage, e.g. 30 for a 30% increase"},
				},
				Required: []string{"current_count", "surge_percentage"},
			}
		default:
			log.Printf("[OpenAI模型] 工具 '%s' 的参数 schema 未在 BindTools 中显式定义，将使用空对象。", toolInfo.Name)
			params = OpenAIToolFunctionParams{Type: "object", Properties: map[string]OpenAIToolFunctionParamsProperty{}}
		}

		oc.boundOpenAITools = append(oc.boundOpenAITools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
				Parameters:  params,
			},
		})
	}

	if len(oc.boundOpenAITools) > 0 {
		log.Printf("[OpenAI模型] 已绑定 %d 个工具。第一个工具名称: %s", len(oc.boundOpenAITools), oc.boundOpenAITools[0].Function.Name)
	} else {
		log.Println("[OpenAI模型] 未绑定任何工具。")
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口。
// 工具信息通过 BindTools 在模型内部处理。
func (oc *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := oc.BindTools(tools); err != nil {
		return nil, err
	}
	return oc, nil
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)
var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
