package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"health-agent-go/internal/constants"
	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
)

// LLMKnowledgeExtractor 使用LLM从非结构化文档文本中抽取结构化医疗知识条目
type LLMKnowledgeExtractor struct {
	// LLM模型接口
	llmModel model.ToolCallingChatModel

	// 分块大小（字符数）
	chunkSize int

	// 相邻分块的重叠字符数
	chunkOverlap int

	// 提示词模板
	promptTemplate string

	// 少样本示例
	fewShotExamples string

	logger *log.Logger
}

// LLMExtractorOption 是知识抽取器的配置选项
type LLMExtractorOption func(*LLMKnowledgeExtractor)

// WithChunkSize 设置文本分块大小
func WithChunkSize(size int) LLMExtractorOption {
	return func(e *LLMKnowledgeExtractor) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

// WithChunkOverlap 设置分块重叠字符数
func WithChunkOverlap(overlap int) LLMExtractorOption {
	return func(e *LLMKnowledgeExtractor) {
		if overlap >= 0 {
			e.chunkOverlap = overlap
		}
	}
}

// WithCustomFewShotExamples 设置自定义少样本示例
func WithCustomFewShotExamples(examples string) LLMExtractorOption {
	return func(e *LLMKnowledgeExtractor) {
		e.fewShotExamples = examples
	}
}

// NewLLMKnowledgeExtractor 创建新的LLM知识抽取器
func NewLLMKnowledgeExtractor(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...LLMExtractorOption) *LLMKnowledgeExtractor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	extractor := &LLMKnowledgeExtractor{
		llmModel:     llmModel,
		logger:       logger,
		chunkSize:    constants.ChunkSize,
		chunkOverlap: constants.ChunkOverlap,
	}

	for _, opt := range options {
		opt(extractor)
	}

	// 首先生成或确认 fewShotExamples，因为 promptTemplate 会拼接它
	if extractor.fewShotExamples == "" {
		extractor.generateFewShotExamples()
	}

	if extractor.promptTemplate == "" {
		extractor.generatePromptTemplate()
	}

	return extractor
}

// 生成提示词模板
func (e *LLMKnowledgeExtractor) generatePromptTemplate() {
	baseTemplate := `你是一个医疗运营知识抽取专家，专注于从医院运营文档（节假日应对预案、空气质量健康指引、季节性疾病手册等）中提取结构化知识条目。

核心任务：
1. 通读给定的文档片段，识别其中描述的每一个独立场景（某个节日/事件、某个空气质量等级、某个季节，或它们的组合）。
2. 为每个场景输出一条知识条目，包含该场景下的健康影响、建议人员配置和所需物资。
3. 严格按照指定的JSON数组格式输出结果。

重要指令：
- 信息缺失处理：若某字段在文档中没有对应信息，输出空字符串 ""。请勿编造信息。
- 场景拆分：一个文档片段可能描述多个场景（例如同一份预案覆盖多个节日），每个场景必须是独立的一条。
- 内容保真：healthImpact、recommendedStaffing、requiredSupplies、patientAdvisory 的内容应忠实概括文档原文，不要添加文档之外的建议。
- aqi 使用文档中出现的等级描述（如 "Good"、"Moderate"、"Severe"、"Hazardous" 或 "201-300" 等），不要自行换算。
- 如果片段中没有任何可抽取的场景，输出空数组 []。

JSON输出格式规范：
[
  {
    "festival": "string",
    "aqi": "string",
    "season": "string",
    "healthImpact": "string",
    "recommendedStaffing": "string",
    "requiredSupplies": "string",
    "patientAdvisory": "string"
  }
]

请严格按照上述JSON格式规范输出，不要包含任何解释性文字或Markdown标记。确保JSON的完整性和可解析性。
接下来，你将收到一个文档片段，请对其进行分析。`

	if e.fewShotExamples != "" {
		e.promptTemplate = fmt.Sprintf("%s\n\n%s", e.fewShotExamples, baseTemplate)
	} else {
		e.promptTemplate = baseTemplate
	}
}

func (e *LLMKnowledgeExtractor) generateFewShotExamples() {
	e.fewShotExamples = `以下是一些示例分析，请参考这些模式进行学习：

示例1 (演示：单一节日场景抽取)
输入文档片段：
"""
Diwali Festival Emergency Preparedness

During Diwali, hospitals typically see a 40% increase in burn injuries and
respiratory complaints due to firecracker smoke. Emergency departments should
schedule 3 additional doctors and 6 additional nurses for the festival week.
Stock burn dressings, silver sulfadiazine cream, and nebulizers in advance.
Advise patients with asthma to stay indoors during peak firecracker hours.
"""
输出：
[
  {
    "festival": "Diwali",
    "aqi": "",
    "season": "",
    "healthImpact": "40% increase in burn injuries and respiratory complaints due to firecracker smoke",
    "recommendedStaffing": "3 additional doctors and 6 additional nurses for the festival week",
    "requiredSupplies": "Burn dressings, silver sulfadiazine cream, nebulizers",
    "patientAdvisory": "Patients with asthma should stay indoors during peak firecracker hours"
  }
]

示例2 (演示：多场景拆分 + 字段缺失处理)
输入文档片段：
"""
Air Quality Response Protocol

Severe AQI (301-400): Respiratory admissions rise sharply. Add 2 pulmonologists
per shift. Ensure oxygen cylinders and N95 masks are stocked.

Moderate AQI (101-200): Sensitive groups may experience discomfort. No extra
staffing required.
"""
输出：
[
  {
    "festival": "",
    "aqi": "Severe (301-400)",
    "season": "",
    "healthImpact": "Respiratory admissions rise sharply",
    "recommendedStaffing": "Add 2 pulmonologists per shift",
    "requiredSupplies": "Oxygen cylinders, N95 masks",
    "patientAdvisory": ""
  },
  {
    "festival": "",
    "aqi": "Moderate (101-200)",
    "season": "",
    "healthImpact": "Sensitive groups may experience discomfort",
    "recommendedStaffing": "No extra staffing required",
    "requiredSupplies": "",
    "patientAdvisory": ""
  }
]

示例3 (演示：无可抽取场景)
输入文档片段：
"""
Table of Contents
1. Introduction ................ 2
2. Scope ....................... 3
"""
输出：
[]`
}

// ExtractEntries 对整篇文档文本做分块抽取，合并所有分块的结果。
// 缺少全部核心字段（healthImpact/recommendedStaffing/requiredSupplies）的条目会被丢弃。
func (e *LLMKnowledgeExtractor) ExtractEntries(ctx context.Context, text string, sourceDocument string) ([]types.KnowledgeEntry, error) {
	chunks := SplitTextIntoChunks(text, e.chunkSize, e.chunkOverlap)
	e.logger.Printf("[LLMKnowledgeExtractor] 文档 %s 分为 %d 个分块 (chunkSize=%d, overlap=%d)",
		sourceDocument, len(chunks), e.chunkSize, e.chunkOverlap)

	var entries []types.KnowledgeEntry
	skipped := 0

	for i, chunk := range chunks {
		chunkEntries, err := e.extractFromChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("分块 %d/%d 抽取失败: %w", i+1, len(chunks), err)
		}

		for _, entry := range chunkEntries {
			entry.Festival = strings.TrimSpace(entry.Festival)
			entry.AQI = strings.TrimSpace(entry.AQI)
			entry.Season = strings.TrimSpace(entry.Season)
			entry.HealthImpact = strings.TrimSpace(entry.HealthImpact)
			entry.RecommendedStaffing = strings.TrimSpace(entry.RecommendedStaffing)
			entry.RequiredSupplies = strings.TrimSpace(entry.RequiredSupplies)
			entry.PatientAdvisory = strings.TrimSpace(entry.PatientAdvisory)

			if entry.IsEmpty() {
				skipped++
				continue
			}
			entry.Source = sourceDocument
			entries = append(entries, entry)
		}
	}

	e.logger.Printf("[LLMKnowledgeExtractor] 文档 %s 抽取完成: %d 条有效, %d 条被丢弃",
		sourceDocument, len(entries), skipped)
	return entries, nil
}

// extractFromChunk 对单个分块调用LLM并解析结果
func (e *LLMKnowledgeExtractor) extractFromChunk(ctx context.Context, chunk string) ([]types.KnowledgeEntry, error) {
	response, err := e.callLLM(ctx, e.promptTemplate, chunk)
	if err != nil {
		return nil, fmt.Errorf("LLM调用失败: %w", err)
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		e.logger.Printf("无法从LLM响应中提取有效的JSON。原始响应: %s", response)
		return nil, fmt.Errorf("无法从LLM响应中提取有效的JSON")
	}

	// 个别模型会把单条结果输出为对象而非数组
	var result []types.KnowledgeEntry
	if strings.HasPrefix(jsonStr, "{") {
		var single types.KnowledgeEntry
		if err := json.Unmarshal([]byte(jsonStr), &single); err != nil {
			return nil, fmt.Errorf("解析JSON失败: %w", err)
		}
		result = append(result, single)
		return result, nil
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %w", err)
	}
	return result, nil
}

// callLLM 调用LLM处理提示词
func (e *LLMKnowledgeExtractor) callLLM(ctx context.Context, systemContent string, userContent string) (string, error) {
	messages := []*einoschema.Message{
		{Role: "system", Content: systemContent},
		{Role: "user", Content: userContent},
	}

	// 设置最大重试次数
	maxRetries := 2
	retryDelay := 2 * time.Second

	var response *einoschema.Message
	var err error

	e.logger.Printf("[LLMKnowledgeExtractor] System Prompt: %.50s...", systemContent)
	e.logger.Printf("[LLMKnowledgeExtractor] User Prompt: %.50s...", userContent)

	for retry := 0; retry <= maxRetries; retry++ {
		// 如果是重试，则先检查上下文是否已取消
		if retry > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				// 增加退避时间
				retryDelay *= 2
				e.logger.Printf("重试LLM调用 (第%d次)", retry)
			}
		}

		// 创建带超时的上下文，继承上游的取消信号
		callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)

		response, err = e.llmModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			break
		}

		if !isRetryableError(err) || retry >= maxRetries {
			e.logger.Printf("[LLMKnowledgeExtractor] LLM call final error after retries: %v", err)
			return "", fmt.Errorf("LLM Generate failed: %w", err)
		}
	}

	e.logger.Printf("[LLMKnowledgeExtractor] LLM Response: %.50s", response.Content)
	return response.Content, nil
}

// isRetryableError 判断错误是否应该重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// 检查常见的可重试错误
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host")
}

// SplitTextIntoChunks 按固定大小和重叠量切分文本。
// overlap >= size 时会被收缩，避免死循环。
func SplitTextIntoChunks(text string, size int, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// 从文本中提取JSON（对象或数组）
func extractJSON(text string) string {
	// 尝试使用正则表达式提取 ```json ... ``` 代码块中的内容
	re := regexp.MustCompile("(?s)```json\\s*([\\[{].*?[\\]}])\\s*```")
	matches := re.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// 如果正则没有匹配到，寻找最先出现的 [ 或 { 并做括号匹配作为回退
	startArr := strings.Index(text, "[")
	startObj := strings.Index(text, "{")

	start := -1
	var open, close byte
	switch {
	case startArr == -1 && startObj == -1:
		return ""
	case startArr == -1 || (startObj != -1 && startObj < startArr):
		start, open, close = startObj, '{', '}'
	default:
		start, open, close = startArr, '[', ']'
	}

	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == open {
			level++
		} else if text[i] == close {
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
