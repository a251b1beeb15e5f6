package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
)

func TestExtract_ShortTextReturnsNothing(t *testing.T) {
	e := New(nil)
	got, err := e.Extract(context.Background(), "too short", model.Order{ID: "o1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectAssignmentType_Honorary(t *testing.T) {
	assert.Equal(t, model.KindHonoraryTitle, detectAssignmentType("О присвоении почетного спортивного звания гражданам..."))
}

func TestDetectAssignmentType_Judge(t *testing.T) {
	assert.Equal(t, model.KindJudgeCategory, detectAssignmentType("О присвоении квалификационной категории судьям по видам спорта"))
}

func TestDetectAssignmentType_DefaultsSportRank(t *testing.T) {
	assert.Equal(t, model.KindSportRank, detectAssignmentType("О присвоении спортивных разрядов"))
}

func TestDetectAction_Variants(t *testing.T) {
	assert.Equal(t, model.ActionAssignment, detectAction("присвоить спортивный разряд"))
	assert.Equal(t, model.ActionRevocation, detectAction("лишить спортивного звания"))
	assert.Equal(t, model.ActionConfirmation, detectAction("считать подтвердившим квалификационную категорию"))
}

func TestValidateBirthDate_AgeWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	_, ok := validateBirthDate("01.01.2000", now)
	assert.True(t, ok)

	_, ok = validateBirthDate("01.01.2024", now) // too young
	assert.False(t, ok)

	_, ok = validateBirthDate("01.01.1900", now) // too old
	assert.False(t, ok)
}

func TestValidateDate_YearWindow(t *testing.T) {
	_, ok := validateDate("01.01.2020")
	assert.True(t, ok)
	_, ok = validateDate("01.01.1800")
	assert.False(t, ok)
}

func TestExtract_TabularOrder(t *testing.T) {
	e := New(nil)
	text := `Приложение к приказу
О присвоении спортивных разрядов

1. Иванов Иван Иванович 15.03.1995 123456 дзюдо 01.02.2016
2. Петрова Мария Сергеевна 22.07.1998 654321 плавание 01.02.2016

первого спортивного разряда
второго спортивного разряда
`
	order := model.Order{ID: "o1", SourceCode: "minsport_pdf", OrderDate: time.Date(2016, 2, 1, 0, 0, 0, 0, time.UTC)}
	got, err := e.Extract(context.Background(), text, order)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, a := range got {
		assert.NotEmpty(t, a.FIO)
		assert.NotEmpty(t, a.Sport)
		assert.Equal(t, model.KindSportRank, a.AssignmentKind)
	}
}

func TestExtract_TabularOrder_FlagsImplausibleBirthDateForOrderDate(t *testing.T) {
	e := New(nil)
	text := `Приложение к приказу
О присвоении спортивных разрядов

1. Иванов Иван Иванович 15.03.2013 123456 дзюдо 01.02.2016

первого спортивного разряда
`
	order := model.Order{ID: "o1", SourceCode: "minsport_pdf", OrderDate: time.Date(2016, 2, 1, 0, 0, 0, 0, time.UTC)}
	got, err := e.Extract(context.Background(), text, order)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Nil(t, got[0].BirthDate, "age of 3 at order date must fail the plausible-age window")
	assert.Equal(t, true, got[0].Extras["birth_date_suspicious"])
}

func TestPostProcess_DedupsByFioAndBirthDate(t *testing.T) {
	e := New(nil)
	in := []model.Assignment{
		{FIO: "Иванов Иван Иванович", BirthDateRaw: "01.01.2000"},
		{FIO: "Иванов Иван Иванович", BirthDateRaw: "01.01.2000"},
	}
	out := e.postProcess(in, model.Order{})
	assert.Len(t, out, 1)
}

func TestPostProcess_DropsShortFio(t *testing.T) {
	e := New(nil)
	in := []model.Assignment{{FIO: "Ив", BirthDateRaw: "01.01.2000"}}
	out := e.postProcess(in, model.Order{})
	assert.Empty(t, out)
}

func TestPostProcess_FixesOCRGlue(t *testing.T) {
	e := New(nil)
	in := []model.Assignment{{FIO: "ИвановИван Иванович", BirthDateRaw: "01.01.2000"}}
	out := e.postProcess(in, model.Order{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].FIO, "Иванов Иван")
}
