package types

import (
	"encoding/json"
	"time"
)

// SourceType 表示知识文档的来源类型
type SourceType string

const (
	// SourcePDF PDF文档
	SourcePDF SourceType = "pdf"
	// SourceCSV CSV表格
	SourceCSV SourceType = "csv"
	// SourceExcel Excel工作簿
	SourceExcel SourceType = "excel"
	// SourceManual 手动录入的单条知识
	SourceManual SourceType = "manual"
)

// KnowledgeEntry 一条规范化后的医疗知识条目。
// 所有字段均为纯文本，空字段在嵌入文本中以 N/A 占位。
// Source 记录来源文件名，手动录入时为 "manual"。
type KnowledgeEntry struct {
	ID                  string    `json:"id,omitempty"`
	Festival            string    `json:"festival"`
	AQI                 string    `json:"aqi"`
	Season              string    `json:"season"`
	HealthImpact        string    `json:"healthImpact"`
	RecommendedStaffing string    `json:"recommendedStaffing"`
	RequiredSupplies    string    `json:"requiredSupplies"`
	PatientAdvisory     string    `json:"patientAdvisory"`
	Source              string    `json:"source"`
	CreatedAt           time.Time `json:"createdAt,omitempty"`
}

// IsEmpty 判断条目是否缺少全部核心字段。
// 规范化阶段用它丢弃无信息量的行。
func (e *KnowledgeEntry) IsEmpty() bool {
	return e.HealthImpact == "" && e.RecommendedStaffing == "" && e.RequiredSupplies == ""
}

// ScoredEntry 带相似度分数的检索结果
type ScoredEntry struct {
	Entry KnowledgeEntry
	Score float32
}

// StaffCount 各类医护人员数量
type StaffCount struct {
	Doctors      int `json:"doctors"`
	Nurses       int `json:"nurses"`
	Specialists  int `json:"specialists"`
	SupportStaff int `json:"supportStaff"`
}

// ScenarioInput 预测请求的场景输入。
// festival/aqi/epidemic 均可缺省；currentStaffing 与 currentSupply 为必填，
// 用指针与 nil map 区分"缺失"与"零值"。
type ScenarioInput struct {
	Festival        string         `json:"festival,omitempty"`
	AQI             string         `json:"aqi,omitempty"`
	Epidemic        string         `json:"epidemic,omitempty"`
	CurrentStaffing *StaffCount    `json:"currentStaffing"`
	CurrentSupply   map[string]int `json:"currentSupply"`
}

// SupplyItem 物资建议条目，线上是字符串与对象的联合类型。
// 模型既可能输出 "Oxygen cylinders" 这样的裸字符串，也可能输出
// 带数量与理由的对象，两种形态都要原样保留。
type SupplyItem struct {
	Name                  string   `json:"-"`
	Item                  string   `json:"item,omitempty"`
	CurrentQuantity       *float64 `json:"currentQuantity,omitempty"`
	RecommendedAdditional *float64 `json:"recommendedAdditional,omitempty"`
	TargetQty             *float64 `json:"targetQty,omitempty"`
	Recommended           *float64 `json:"recommended,omitempty"`
	Rationale             string   `json:"rationale,omitempty"`
	Note                  string   `json:"note,omitempty"`
}

// supplyItemObject 避免 UnmarshalJSON 递归的别名类型
type supplyItemObject SupplyItem

// UnmarshalJSON 同时接受字符串与对象两种形态
func (s *SupplyItem) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Name)
	}
	var obj supplyItemObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = SupplyItem(obj)
	return nil
}

// MarshalJSON 保持输入形态：裸字符串仍序列化为字符串
func (s SupplyItem) MarshalJSON() ([]byte, error) {
	if s.Name != "" {
		return json.Marshal(s.Name)
	}
	return json.Marshal(supplyItemObject(s))
}

// Label 返回物资名称，兼容两种形态
func (s SupplyItem) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Item
}

// StaffingRecommendations 推荐的人员配置。
// SpecialtyBreakdown 的值可以是数字，也可以是再按科室细分的对象。
type StaffingRecommendations struct {
	Doctors            int            `json:"doctors"`
	Nurses             int            `json:"nurses"`
	Specialists        int            `json:"specialists"`
	SupportStaff       int            `json:"supportStaff"`
	SpecialtyBreakdown map[string]any `json:"specialtyBreakdown,omitempty"`
}

// SupplyRecommendations 按优先级分组的物资建议
type SupplyRecommendations struct {
	Critical  []SupplyItem `json:"critical"`
	Essential []SupplyItem `json:"essential"`
	Optional  []SupplyItem `json:"optional"`
}

// PatientAdvisory 面向患者的三类公告
type PatientAdvisory struct {
	GeneralPublic      []string `json:"generalPublic"`
	VulnerableGroups   []string `json:"vulnerableGroups"`
	PreventiveMeasures []string `json:"preventiveMeasures"`
}

// StructuredRecommendation 代理最终输出的结构化建议
type StructuredRecommendation struct {
	StaffingRecommendations StaffingRecommendations `json:"staffingRecommendations"`
	SupplyRecommendations   SupplyRecommendations   `json:"supplyRecommendations"`
	PatientAdvisory         PatientAdvisory         `json:"patientAdvisory"`
	Reasoning               string                  `json:"reasoning"`
}

// PredictionRecord 一次完整的预测：场景 + 结构化建议，平铺存储
type PredictionRecord struct {
	ID              string                   `json:"id,omitempty"`
	Festival        string                   `json:"festival,omitempty"`
	AQI             string                   `json:"aqi,omitempty"`
	Epidemic        string                   `json:"epidemic,omitempty"`
	CurrentStaffing StaffCount               `json:"currentStaffing"`
	CurrentSupply   map[string]int           `json:"currentSupply"`
	Recommendations StructuredRecommendation `json:"recommendations"`
	CreatedAt       time.Time                `json:"createdAt"`
}

// IngestResult 一次文档摄取的汇总结果
type IngestResult struct {
	SourceDocument string `json:"sourceDocument"`
	EntriesParsed  int    `json:"entriesParsed"`
	EntriesIndexed int    `json:"entriesIndexed"`
	EntriesSkipped int    `json:"entriesSkipped"`
	Status         string `json:"status,omitempty"`
}

// KnowledgeListQuery 知识列表查询参数
type KnowledgeListQuery struct {
	Limit  int
	Offset int
	Search string
	Season string
	AQI    string
}

// PaginatedResult 通用分页响应载荷
type PaginatedResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}
