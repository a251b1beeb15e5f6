package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sportrank/ingest/internal/model"
)

func TestSplitChunks_ShortTextIsSingleChunk(t *testing.T) {
	chunks := splitChunks("short text", chunkSizeChars)
	assert.Len(t, chunks, 1)
}

func TestSplitChunks_LongTextSplitsOnParagraphBreak(t *testing.T) {
	text := make([]byte, chunkSizeChars+100)
	for i := range text {
		text[i] = 'a'
	}
	copy(text[chunkSizeChars-10:], []byte("\n\n"))
	chunks := splitChunks(string(text), chunkSizeChars)
	assert.GreaterOrEqual(t, len(chunks), 2)
}

func TestCleanFIO_StripsOCRPunctuation(t *testing.T) {
	assert.Equal(t, "Суликова", cleanFIO("-Суликова"))
	assert.Equal(t, "Иванов Иван", cleanFIO("  Иванов   Иван.  "))
}

func TestNormalizeDate_StripsTrailingG(t *testing.T) {
	got, ok := normalizeDate("01.01.2000 г.")
	assert.True(t, ok)
	assert.Equal(t, "01.01.2000", got)
}

func TestNormalizeDate_ConvertsYMD(t *testing.T) {
	got, ok := normalizeDate("2000.01.15")
	assert.True(t, ok)
	assert.Equal(t, "15.01.2000", got)
}

func TestNormalizeDate_RejectsGarbage(t *testing.T) {
	_, ok := normalizeDate("not a date")
	assert.False(t, ok)
}

func TestItemToAssignment_RejectsEmptyFIOOrRank(t *testing.T) {
	_, ok := itemToAssignment(item{FIO: "", RankCategory: "КМС"}, model.Order{})
	assert.False(t, ok)

	_, ok = itemToAssignment(item{FIO: "Иванов Иван", RankCategory: ""}, model.Order{})
	assert.False(t, ok)
}

func TestItemToAssignment_DefaultsUnknownEnumsToSportRankAssignment(t *testing.T) {
	a, ok := itemToAssignment(item{FIO: "Иванов Иван", RankCategory: "КМС", AssignmentType: "bogus", Action: "bogus"}, model.Order{})
	assert.True(t, ok)
	assert.Equal(t, model.KindSportRank, a.AssignmentKind)
	assert.Equal(t, model.ActionAssignment, a.Action)
}

func TestItemToAssignment_DropsEmptyExtraFields(t *testing.T) {
	a, ok := itemToAssignment(item{
		FIO:          "Иванов Иван",
		RankCategory: "КМС",
		ExtraFields:  map[string]any{"keep": "value", "drop": ""},
	}, model.Order{})
	assert.True(t, ok)
	assert.Contains(t, a.Extras, "keep")
	assert.NotContains(t, a.Extras, "drop")
}
