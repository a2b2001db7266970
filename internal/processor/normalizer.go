package processor

import (
	"strings"

	"health-agent-go/internal/types"
)

// headerAliases 表格列名到知识条目字段的映射。
// 键是规范化后的列名（小写、去空格和下划线）。
var headerAliases = map[string]string{
	"festival":            "festival",
	"event":               "festival",
	"festivalevent":       "festival",
	"festivalorevent":     "festival",
	"aqi":                 "aqi",
	"aqilevel":            "aqi",
	"airquality":          "aqi",
	"airqualityindex":     "aqi",
	"season":              "season",
	"impact":              "healthImpact",
	"healthimpact":        "healthImpact",
	"staffing":            "recommendedStaffing",
	"recommendedstaffing": "recommendedStaffing",
	"staffingrequired":    "recommendedStaffing",
	"supplies":            "requiredSupplies",
	"requiredsupplies":    "requiredSupplies",
	"supplyneeds":         "requiredSupplies",
	"advisory":            "patientAdvisory",
	"patientadvisory":     "patientAdvisory",
	"advisories":          "patientAdvisory",
}

// normalizeHeaderKey 去掉列名中的空格、下划线和连字符并转小写
func normalizeHeaderKey(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

// CanonicalFieldFor 把任意表格列名解析为知识条目字段名。
// 未识别的列返回空串，调用方应忽略该列。
func CanonicalFieldFor(header string) string {
	return headerAliases[normalizeHeaderKey(header)]
}

// RecordToEntry 把一行表格记录转换为知识条目。
// 多列命中同一字段时以后出现的非空值为准。
func RecordToEntry(record map[string]string, sourceDocument string) types.KnowledgeEntry {
	entry := types.KnowledgeEntry{Source: sourceDocument}
	for header, value := range record {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch CanonicalFieldFor(header) {
		case "festival":
			entry.Festival = value
		case "aqi":
			entry.AQI = value
		case "season":
			entry.Season = value
		case "healthImpact":
			entry.HealthImpact = value
		case "recommendedStaffing":
			entry.RecommendedStaffing = value
		case "requiredSupplies":
			entry.RequiredSupplies = value
		case "patientAdvisory":
			entry.PatientAdvisory = value
		}
	}
	return entry
}

// NormalizeRecords 把表格记录批量转换为知识条目，丢弃核心字段全空的行。
// 返回转换后的条目和被丢弃的行数。
func NormalizeRecords(records []map[string]string, sourceDocument string) ([]types.KnowledgeEntry, int) {
	entries := make([]types.KnowledgeEntry, 0, len(records))
	skipped := 0
	for _, record := range records {
		entry := RecordToEntry(record, sourceDocument)
		if entry.IsEmpty() {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}
