package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"health-agent-go/internal/types"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// CalculateStaffingToolName 是人员配置计算工具注册给LLM的名称
const CalculateStaffingToolName = "calculate_staffing"

// ScaleStaffCount 按预期需求增幅放大各类人员数量，每类单独向上取整。
func ScaleStaffCount(current types.StaffCount, surgePercentage float64) types.StaffCount {
	scale := func(n int) int {
		if n <= 0 {
			return 0
		}
		return int(math.Ceil(float64(n) * (1 + surgePercentage/100)))
	}
	return types.StaffCount{
		Doctors:      scale(current.Doctors),
		Nurses:       scale(current.Nurses),
		Specialists:  scale(current.Specialists),
		SupportStaff: scale(current.SupportStaff),
	}
}

// CalculateStaffingTool 为代理提供确定性的人员配置计算，
// 避免LLM自己做算术。实现了 eino 的 tool.BaseTool 和 tool.InvokableTool 接口。
type CalculateStaffingTool struct{}

// NewCalculateStaffingTool 创建人员配置计算工具
func NewCalculateStaffingTool() *CalculateStaffingTool {
	return &CalculateStaffingTool{}
}

// Info 返回工具的元信息，符合 tool.BaseTool 接口。
func (t *CalculateStaffingTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: CalculateStaffingToolName,
		Desc: "Calculate recommended staffing adjustments based on current staffing and expected surge percentage.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"currentStaffing": {
				Type:     "object",
				Desc:     "Current staffing levels",
				Required: true,
				SubParams: map[string]*schema.ParameterInfo{
					"doctors":      {Type: "integer", Required: true},
					"nurses":       {Type: "integer", Required: true},
					"specialists":  {Type: "integer", Required: true},
					"supportStaff": {Type: "integer", Required: true},
				},
			},
			"surgePercentage": {
				Type:     "number",
				Desc:     "Expected surge percentage (e.g., 30 for 30% increase)",
				Required: true,
			},
			"specialtyAdjustments": {
				Type: "object",
				Desc: "Specific percentage adjustments for specialties (e.g., {\"pulmonology\": 40, \"cardiology\": 20})",
			},
		}),
	}, nil
}

// InvokableRun 执行计算，符合 tool.InvokableTool 接口。
func (t *CalculateStaffingTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	log.Printf("[人员计算工具] 开始执行，原始输入 JSON: %s", argumentsInJSON)

	var args struct {
		CurrentStaffing      *types.StaffCount  `json:"currentStaffing"`
		SurgePercentage      float64            `json:"surgePercentage"`
		SpecialtyAdjustments map[string]float64 `json:"specialtyAdjustments,omitempty"`
	}

	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("工具 '%s' 的输入JSON解析失败: %w", CalculateStaffingToolName, err)
	}
	if args.CurrentStaffing == nil {
		return "", fmt.Errorf("工具 '%s' 缺少 currentStaffing 参数", CalculateStaffingToolName)
	}
	current := *args.CurrentStaffing
	if current.Doctors < 0 || current.Nurses < 0 || current.Specialists < 0 || current.SupportStaff < 0 {
		return "", fmt.Errorf("currentStaffing 中的人数不能为负数")
	}

	recommended := ScaleStaffCount(current, args.SurgePercentage)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Staffing Recommendations (%g%% surge):\n", args.SurgePercentage)
	fmt.Fprintf(&sb, "- Doctors: %d → %d (+%d)\n", current.Doctors, recommended.Doctors, recommended.Doctors-current.Doctors)
	fmt.Fprintf(&sb, "- Nurses: %d → %d (+%d)\n", current.Nurses, recommended.Nurses, recommended.Nurses-current.Nurses)
	fmt.Fprintf(&sb, "- Specialists: %d → %d (+%d)\n", current.Specialists, recommended.Specialists, recommended.Specialists-current.Specialists)
	fmt.Fprintf(&sb, "- Support Staff: %d → %d (+%d)", current.SupportStaff, recommended.SupportStaff, recommended.SupportStaff-current.SupportStaff)

	if len(args.SpecialtyAdjustments) > 0 {
		sb.WriteString("\n\nSpecialty-specific adjustments:")
		specialties := make([]string, 0, len(args.SpecialtyAdjustments))
		for specialty := range args.SpecialtyAdjustments {
			specialties = append(specialties, specialty)
		}
		sort.Strings(specialties)
		for _, specialty := range specialties {
			percentage := args.SpecialtyAdjustments[specialty]
			fmt.Fprintf(&sb, "\n- %s: Increase by %g%% (multiplier: %.2f)", specialty, percentage, 1+percentage/100)
		}
	}

	result := sb.String()
	log.Printf("[人员计算工具] 计算完成: %s", result)
	return result, nil
}

var _ tool.BaseTool = (*CalculateStaffingTool)(nil)
var _ tool.InvokableTool = (*CalculateStaffingTool)(nil)
