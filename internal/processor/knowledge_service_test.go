package processor

import (
	"context"
	"testing"
	"time"

	"health-agent-go/internal/parser"
	"health-agent-go/internal/storage/models"
	"health-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEntriesFromCSV(t *testing.T) {
	csvContent := "Festival,AQI Level,Season,Health Impact,Recommended Staffing,Required Supplies,Patient Advisory\n" +
		"Diwali,Severe,Winter,Respiratory spike,+40% pulmonology,Nebulizers,Stay indoors\n" +
		"Christmas,Moderate,Winter,,,,\n"

	ks := &knowledgeServiceImpl{components: &Components{
		Tabular: parser.NewTabularExtractor(),
	}}

	entries, skipped, err := ks.extractEntries(context.Background(), types.SourceCSV, []byte(csvContent), "guidelines.csv")

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "Diwali", entries[0].Festival)
	assert.Equal(t, "guidelines.csv", entries[0].Source)
}

func TestExtractEntriesUnknownSourceType(t *testing.T) {
	ks := &knowledgeServiceImpl{components: &Components{
		Tabular: parser.NewTabularExtractor(),
	}}

	_, _, err := ks.extractEntries(context.Background(), types.SourceType("DOCX"), []byte("x"), "a.docx")
	assert.Error(t, err)
}

func TestExtractEntriesPDFWithoutExtractor(t *testing.T) {
	ks := &knowledgeServiceImpl{components: &Components{}}

	_, _, err := ks.extractEntries(context.Background(), types.SourcePDF, []byte("%PDF"), "a.pdf")
	assert.ErrorIs(t, err, ErrExtractorNotInit)
}

func TestEntryFromModel(t *testing.T) {
	now := time.Now()
	row := models.KnowledgeEntry{
		ID:                  42,
		Festival:            "Holi",
		AQI:                 "Moderate",
		Season:              "Spring",
		HealthImpact:        "Eye injuries",
		RecommendedStaffing: "+2 ophthalmologists",
		RequiredSupplies:    "Eye wash stations",
		PatientAdvisory:     "Use protective eyewear",
		Source:              "festivals.xlsx",
		CreatedAt:           now,
	}

	entry := entryFromModel(row)

	assert.Equal(t, "42", entry.ID)
	assert.Equal(t, "Holi", entry.Festival)
	assert.Equal(t, "festivals.xlsx", entry.Source)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestIngestErrorWrapping(t *testing.T) {
	err := newIngestError("uuid-1", "bad.csv", "extract", ErrNoEntriesExtracted, "detail")

	assert.ErrorIs(t, err, ErrNoEntriesExtracted)
	assert.Contains(t, err.Error(), "bad.csv")
	assert.Contains(t, err.Error(), "extract")
	assert.Contains(t, err.Error(), "detail")
}
