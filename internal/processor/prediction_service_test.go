package processor

import (
	"context"
	"testing"

	"health-agent-go/internal/config"
	"health-agent-go/internal/storage"
	"health-agent-go/internal/types"
	agentpkg "health-agent-go/pkg/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseStaffing() *types.StaffCount {
	return &types.StaffCount{Doctors: 50, Nurses: 100, Specialists: 10, SupportStaff: 40}
}

func TestValidateScenario(t *testing.T) {
	t.Run("只有资源字段也合法", func(t *testing.T) {
		// festival/aqi/epidemic 全部可省，资源字段齐全即可
		scenario := types.ScenarioInput{
			CurrentStaffing: baseStaffing(),
			CurrentSupply:   map[string]int{"oxygen_cylinders": 20},
		}
		require.NoError(t, validateScenario(&scenario))
		assert.Empty(t, scenario.Festival, "缺省因子不应被回填")
	})

	t.Run("缺少currentStaffing", func(t *testing.T) {
		scenario := types.ScenarioInput{
			Festival:      "Diwali",
			AQI:           "Severe",
			CurrentSupply: map[string]int{"masks": 100},
		}
		err := validateScenario(&scenario)
		assert.ErrorIs(t, err, ErrInvalidScenario)
	})

	t.Run("缺少currentSupply", func(t *testing.T) {
		scenario := types.ScenarioInput{
			Festival:        "Diwali",
			AQI:             "Severe",
			CurrentStaffing: baseStaffing(),
		}
		err := validateScenario(&scenario)
		assert.ErrorIs(t, err, ErrInvalidScenario)
	})

	t.Run("负的人员数量", func(t *testing.T) {
		scenario := types.ScenarioInput{
			CurrentStaffing: &types.StaffCount{Doctors: -1},
			CurrentSupply:   map[string]int{},
		}
		err := validateScenario(&scenario)
		assert.ErrorIs(t, err, ErrInvalidScenario)
	})

	t.Run("负的物资数量", func(t *testing.T) {
		scenario := types.ScenarioInput{
			CurrentStaffing: baseStaffing(),
			CurrentSupply:   map[string]int{"ventilators": -2},
		}
		err := validateScenario(&scenario)
		assert.ErrorIs(t, err, ErrInvalidScenario)
	})

	t.Run("字段去空白", func(t *testing.T) {
		scenario := types.ScenarioInput{
			Festival:        " Diwali ",
			AQI:             " Severe ",
			Epidemic:        " Dengue ",
			CurrentStaffing: baseStaffing(),
			CurrentSupply:   map[string]int{},
		}
		require.NoError(t, validateScenario(&scenario))
		assert.Equal(t, "Diwali", scenario.Festival)
		assert.Equal(t, "Severe", scenario.AQI)
		assert.Equal(t, "Dengue", scenario.Epidemic)
	})
}

func TestHashScenarioStable(t *testing.T) {
	scenario := types.ScenarioInput{
		Festival:        "Diwali",
		AQI:             "Severe",
		CurrentStaffing: baseStaffing(),
		CurrentSupply:   map[string]int{"oxygen_cylinders": 20},
	}

	h1 := hashScenario(scenario)
	h2 := hashScenario(scenario)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	scenario.AQI = "Good"
	assert.NotEqual(t, h1, hashScenario(scenario))
}

func TestExtractJSONObject(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "纯JSON",
			input:    `{"a":1}`,
			expected: `{"a":1}`,
		},
		{
			name:     "前后有文本",
			input:    "Final Answer: here it is {\"a\":{\"b\":2}} thanks",
			expected: `{"a":{"b":2}}`,
		},
		{
			name:     "字符串里的大括号",
			input:    `{"reasoning":"use {caution} here"}`,
			expected: `{"reasoning":"use {caution} here"}`,
		},
		{
			name:     "没有JSON",
			input:    "no structure here",
			expected: "",
		},
		{
			name:     "未闭合",
			input:    `{"a":1`,
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractJSONObject(tc.input))
		})
	}
}

const fullRecommendationJSON = `{
	"staffingRecommendations": {"doctors": 65, "nurses": 130, "specialists": 13, "supportStaff": 52, "specialtyBreakdown": {"pulmonology": "add 3"}},
	"supplyRecommendations": {
		"critical": [{"item": "oxygen cylinders", "currentQuantity": 20, "recommendedAdditional": 30}],
		"essential": ["N95 masks"],
		"optional": []
	},
	"patientAdvisory": {
		"generalPublic": ["Limit outdoor activity"],
		"vulnerableGroups": ["Elderly should stay indoors"],
		"preventiveMeasures": ["Wear masks outdoors"]
	},
	"reasoning": "Severe AQI during Diwali increases respiratory admissions."
}`

func TestParseRecommendation(t *testing.T) {
	t.Run("完整建议", func(t *testing.T) {
		rec, err := parseRecommendation("Final Answer: " + fullRecommendationJSON)
		require.NoError(t, err)
		assert.Equal(t, 65, rec.StaffingRecommendations.Doctors)
		assert.Equal(t, 130, rec.StaffingRecommendations.Nurses)
		assert.Equal(t, 13, rec.StaffingRecommendations.Specialists)
		require.Len(t, rec.SupplyRecommendations.Critical, 1)
		assert.Equal(t, "oxygen cylinders", rec.SupplyRecommendations.Critical[0].Label())
		require.Len(t, rec.SupplyRecommendations.Essential, 1)
		assert.Equal(t, "N95 masks", rec.SupplyRecommendations.Essential[0].Label())
		assert.Equal(t, []string{"Limit outdoor activity"}, rec.PatientAdvisory.GeneralPublic)
		assert.Contains(t, rec.Reasoning, "respiratory admissions")
	})

	t.Run("空对象被拒绝", func(t *testing.T) {
		_, err := parseRecommendation("Final Answer: {}")
		assert.ErrorIs(t, err, ErrRecommendationJSON)
	})

	t.Run("缺少staffingRecommendations被拒绝", func(t *testing.T) {
		output := `{"supplyRecommendations":{},"patientAdvisory":{},"reasoning":"x"}`
		_, err := parseRecommendation(output)
		assert.ErrorIs(t, err, ErrRecommendationJSON)
	})

	t.Run("空reasoning被拒绝", func(t *testing.T) {
		output := `{"staffingRecommendations":{},"supplyRecommendations":{},"patientAdvisory":{},"reasoning":"  "}`
		_, err := parseRecommendation(output)
		assert.ErrorIs(t, err, ErrRecommendationJSON)
	})

	t.Run("缺失的列表字段补为空数组", func(t *testing.T) {
		output := `{"staffingRecommendations":{"doctors":10},"supplyRecommendations":{},"patientAdvisory":{},"reasoning":"judgment call"}`
		rec, err := parseRecommendation(output)
		require.NoError(t, err)
		assert.NotNil(t, rec.SupplyRecommendations.Critical)
		assert.NotNil(t, rec.SupplyRecommendations.Essential)
		assert.NotNil(t, rec.SupplyRecommendations.Optional)
		assert.NotNil(t, rec.PatientAdvisory.GeneralPublic)
		assert.NotNil(t, rec.PatientAdvisory.VulnerableGroups)
		assert.NotNil(t, rec.PatientAdvisory.PreventiveMeasures)
	})

	t.Run("无JSON报错", func(t *testing.T) {
		_, err := parseRecommendation("I cannot produce a recommendation.")
		assert.ErrorIs(t, err, ErrRecommendationJSON)
	})

	t.Run("JSON损坏报错", func(t *testing.T) {
		_, err := parseRecommendation(`{"staffingRecommendations": [broken]}`)
		assert.ErrorIs(t, err, ErrRecommendationJSON)
	})
}

func TestBuildScenarioPrompt(t *testing.T) {
	t.Run("完整场景", func(t *testing.T) {
		scenario := types.ScenarioInput{
			Festival:        "Diwali",
			AQI:             "Severe",
			Epidemic:        "Dengue",
			CurrentStaffing: &types.StaffCount{Doctors: 50, Nurses: 120, Specialists: 8, SupportStaff: 30},
			CurrentSupply:   map[string]int{"oxygen_cylinders": 80, "masks": 500},
		}

		prompt := buildScenarioPrompt(scenario)

		assert.Contains(t, prompt, "Festival/Event: Diwali")
		assert.Contains(t, prompt, "AQI Level: Severe")
		assert.Contains(t, prompt, "Epidemic/Disease Outbreak: Dengue")
		assert.Contains(t, prompt, "- Doctors: 50")
		assert.Contains(t, prompt, "- Specialists: 8")
		assert.Contains(t, prompt, "- oxygen_cylinders: 80")
		assert.Contains(t, prompt, "- masks: 500")
		assert.Contains(t, prompt, "IMPORTANT: Consider the Dengue epidemic/disease")
	})

	t.Run("缺省因子按None和Normal渲染", func(t *testing.T) {
		scenario := types.ScenarioInput{
			CurrentStaffing: baseStaffing(),
			CurrentSupply:   map[string]int{},
		}

		prompt := buildScenarioPrompt(scenario)

		assert.Contains(t, prompt, "Festival/Event: None")
		assert.Contains(t, prompt, "AQI Level: Normal")
		assert.Contains(t, prompt, "Epidemic/Disease Outbreak: None")
		assert.NotContains(t, prompt, "IMPORTANT:", "无疫情时不应出现疫情提示")
	})
}

// newTestComponents 构造只含代理依赖的组件集，供runAgent测试使用
func newTestComponents(model *agentpkg.MockChatClient) *Components {
	cfg := &config.Config{}
	cfg.Agent.MaxSteps = 4
	cfg.Agent.StepTimeout = "5s"
	cfg.Qdrant.DefaultSearchLimit = 3
	return &Components{
		Config:     cfg,
		Storage:    &storage.Storage{},
		AgentModel: model,
	}
}

func TestRunAgentReturnsStructuredRecommendation(t *testing.T) {
	// 模型不经过 Action 包装，直接一行 "Final Answer: {json}" 也要走通整条链路
	mockModel := agentpkg.NewMockChatClientSequential([]agentpkg.MockResponse{
		{Content: "Final Answer: " + fullRecommendationJSON},
	})

	service := &predictionServiceImpl{components: newTestComponents(mockModel)}

	rec, err := service.runAgent(context.Background(), types.ScenarioInput{
		Festival:        "Diwali",
		AQI:             "Severe",
		CurrentStaffing: &types.StaffCount{Doctors: 50, Nurses: 100, Specialists: 10, SupportStaff: 40},
		CurrentSupply:   map[string]int{"oxygen_cylinders": 20},
	})

	require.NoError(t, err)
	assert.Equal(t, 65, rec.StaffingRecommendations.Doctors)
	assert.Equal(t, 52, rec.StaffingRecommendations.SupportStaff)
	assert.Equal(t, []string{"Wear masks outdoors"}, rec.PatientAdvisory.PreventiveMeasures)
}

func TestRunAgentRejectsUnparseableOutput(t *testing.T) {
	mockModel := agentpkg.NewMockChatClientSequential([]agentpkg.MockResponse{
		{Content: "Final Answer: I would suggest adding more doctors."},
	})

	service := &predictionServiceImpl{components: newTestComponents(mockModel)}

	_, err := service.runAgent(context.Background(), types.ScenarioInput{
		CurrentStaffing: baseStaffing(),
		CurrentSupply:   map[string]int{},
	})

	assert.ErrorIs(t, err, ErrRecommendationJSON)
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "short", truncateForLog("short", 10))
	assert.Equal(t, "0123456789...", truncateForLog("0123456789ABCDEF", 10))
}
