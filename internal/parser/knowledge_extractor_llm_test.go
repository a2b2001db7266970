package parser

import (
	"context"
	"strings"
	"testing"

	"health-agent-go/pkg/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "纯JSON数组",
			input:    `[{"festival":"Diwali"}]`,
			expected: `[{"festival":"Diwali"}]`,
		},
		{
			name:     "Markdown代码块中的数组",
			input:    "好的，结果如下：\n```json\n[{\"season\":\"Winter\"}]\n```\n以上。",
			expected: `[{"season":"Winter"}]`,
		},
		{
			name:     "Markdown代码块中的对象",
			input:    "```json\n{\"season\":\"Winter\"}\n```",
			expected: `{"season":"Winter"}`,
		},
		{
			name:     "带前后解释文字的数组",
			input:    "根据分析，抽取结果是 [{\"aqi\":\"Severe\"}] 希望有帮助",
			expected: `[{"aqi":"Severe"}]`,
		},
		{
			name:     "对象先于数组出现时取对象",
			input:    `{"chunks":[1,2]} trailing`,
			expected: `{"chunks":[1,2]}`,
		},
		{
			name:     "没有JSON",
			input:    "抱歉，我无法处理这个请求。",
			expected: "",
		},
		{
			name:     "括号不闭合",
			input:    `[{"festival":"Diwali"`,
			expected: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractJSON(tc.input))
		})
	}
}

func TestSplitTextIntoChunks(t *testing.T) {
	t.Run("空文本", func(t *testing.T) {
		assert.Nil(t, SplitTextIntoChunks("", 100, 10))
	})

	t.Run("短文本单分块", func(t *testing.T) {
		chunks := SplitTextIntoChunks("short text", 100, 10)
		require.Len(t, chunks, 1)
		assert.Equal(t, "short text", chunks[0])
	})

	t.Run("长文本带重叠", func(t *testing.T) {
		text := strings.Repeat("a", 250)
		chunks := SplitTextIntoChunks(text, 100, 20)
		require.True(t, len(chunks) >= 3, "250字符按步长80应至少3块")

		for i, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 100, "分块 %d 不应超过分块大小", i)
		}

		// 相邻分块应共享重叠部分
		first := chunks[0]
		second := chunks[1]
		assert.Equal(t, first[len(first)-20:], second[:20], "相邻分块应有20字符重叠")
	})

	t.Run("重叠大于分块大小时自动收缩", func(t *testing.T) {
		text := strings.Repeat("b", 50)
		chunks := SplitTextIntoChunks(text, 10, 10)
		require.NotEmpty(t, chunks)
		// 不应死循环，且最终应覆盖全文
		assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
	})

	t.Run("多字节字符不被截断", func(t *testing.T) {
		text := strings.Repeat("医", 30)
		chunks := SplitTextIntoChunks(text, 10, 2)
		for _, chunk := range chunks {
			assert.True(t, strings.HasPrefix(chunk, "医"), "分块应在字符边界切分")
		}
	})
}

func TestExtractEntries(t *testing.T) {
	mockResponse := `[
  {
    "festival": "Diwali",
    "aqi": "Severe",
    "season": " Winter ",
    "healthImpact": "Burn injuries and respiratory complaints spike",
    "recommendedStaffing": "3 additional doctors, 6 additional nurses",
    "requiredSupplies": "Burn dressings, nebulizers",
    "patientAdvisory": "Asthma patients should stay indoors"
  },
  {
    "festival": "Unknown Event",
    "aqi": "",
    "season": "",
    "healthImpact": "",
    "recommendedStaffing": "",
    "requiredSupplies": "",
    "patientAdvisory": "Some advisory only"
  }
]`

	mockClient := agent.NewMockChatClient(mockResponse, nil)
	extractor := NewLLMKnowledgeExtractor(mockClient, nil)

	entries, err := extractor.ExtractEntries(context.Background(), "some protocol document text", "diwali_protocol.pdf")
	require.NoError(t, err, "抽取不应返回错误")

	// 第二条缺少全部核心字段，应被丢弃
	require.Len(t, entries, 1)
	assert.Equal(t, "Diwali", entries[0].Festival)
	assert.Equal(t, "Winter", entries[0].Season, "字段应该被去除首尾空白")
	assert.Equal(t, "diwali_protocol.pdf", entries[0].Source)
}

func TestExtractEntriesObjectFallback(t *testing.T) {
	// 模型把单条结果输出为对象而非数组时也应能解析
	mockResponse := `{"festival":"Holi","healthImpact":"Eye irritation","recommendedStaffing":"","requiredSupplies":"","season":"","aqi":"","patientAdvisory":""}`

	mockClient := agent.NewMockChatClient(mockResponse, nil)
	extractor := NewLLMKnowledgeExtractor(mockClient, nil)

	entries, err := extractor.ExtractEntries(context.Background(), "holi notes", "holi.pdf")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Holi", entries[0].Festival)
}

func TestExtractEntriesInvalidResponse(t *testing.T) {
	mockClient := agent.NewMockChatClient("抱歉，我无法处理这个请求。", nil)
	extractor := NewLLMKnowledgeExtractor(mockClient, nil)

	_, err := extractor.ExtractEntries(context.Background(), "some text", "bad.pdf")
	require.Error(t, err, "无法解析的响应应该返回错误")
	assert.Contains(t, err.Error(), "JSON")
}
