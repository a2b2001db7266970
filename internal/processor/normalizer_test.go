package processor

import (
	"testing"

	"health-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalFieldFor(t *testing.T) {
	testCases := []struct {
		header   string
		expected string
	}{
		{"Festival", "festival"},
		{"festival_or_event", "festival"},
		{"Festival/Event", "festival"},
		{"EVENT", "festival"},
		{"AQI", "aqi"},
		{"AQI Level", "aqi"},
		{"aqi_level", "aqi"},
		{"Air Quality", "aqi"},
		{"Season", "season"},
		{"Health Impact", "healthImpact"},
		{"impact", "healthImpact"},
		{"Recommended Staffing", "recommendedStaffing"},
		{"staffing", "recommendedStaffing"},
		{"Required Supplies", "requiredSupplies"},
		{"supplies", "requiredSupplies"},
		{"Patient Advisory", "patientAdvisory"},
		{"advisory", "patientAdvisory"},
		{"Remarks", ""},
		{"", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.header, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanonicalFieldFor(tc.header))
		})
	}
}

func TestRecordToEntry(t *testing.T) {
	record := map[string]string{
		"Festival":             "Diwali",
		"AQI Level":            "Severe (401-500)",
		"Season":               " Winter ",
		"Health Impact":        "Respiratory distress spike",
		"Recommended Staffing": "+40% pulmonology",
		"Required Supplies":    "Nebulizers, oxygen cylinders",
		"Patient Advisory":     "Avoid outdoor activity",
		"Remarks":              "should be ignored",
	}

	entry := RecordToEntry(record, "guidelines.csv")

	assert.Equal(t, "Diwali", entry.Festival)
	assert.Equal(t, "Severe (401-500)", entry.AQI)
	assert.Equal(t, "Winter", entry.Season)
	assert.Equal(t, "Respiratory distress spike", entry.HealthImpact)
	assert.Equal(t, "+40% pulmonology", entry.RecommendedStaffing)
	assert.Equal(t, "Nebulizers, oxygen cylinders", entry.RequiredSupplies)
	assert.Equal(t, "Avoid outdoor activity", entry.PatientAdvisory)
	assert.Equal(t, "guidelines.csv", entry.Source)
}

func TestNormalizeRecordsDropsEmptyRows(t *testing.T) {
	records := []map[string]string{
		{
			"Festival":      "Holi",
			"Health Impact": "Eye and skin injuries",
		},
		{
			// 只有维度字段，核心字段全空，应被丢弃
			"Festival": "Christmas",
			"Season":   "Winter",
		},
		{
			"Season":   "Summer",
			"Supplies": "ORS sachets, IV fluids",
		},
	}

	entries, skipped := NormalizeRecords(records, "table.xlsx")

	assert.Len(t, entries, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "Holi", entries[0].Festival)
	assert.Equal(t, "ORS sachets, IV fluids", entries[1].RequiredSupplies)
	for _, e := range entries {
		assert.Equal(t, "table.xlsx", e.Source)
	}
}

func TestNormalizeRecordsEmptyInput(t *testing.T) {
	entries, skipped := NormalizeRecords(nil, "empty.csv")
	assert.Empty(t, entries)
	assert.Zero(t, skipped)
}

func TestKnowledgeEntryIsEmpty(t *testing.T) {
	entry := types.KnowledgeEntry{
		Festival:     "Diwali",
		AQI:          "Severe",
		HealthImpact: "Burn injuries",
	}
	assert.False(t, entry.IsEmpty())

	empty := types.KnowledgeEntry{Festival: "Diwali", Season: "Winter"}
	assert.True(t, empty.IsEmpty())
}
