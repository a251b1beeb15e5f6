package ranknorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_AdultRanks(t *testing.T) {
	assert.Equal(t, "первый спортивный разряд", Normalize("I разряд"))
	assert.Equal(t, "второй спортивный разряд", Normalize("II разряд"))
	assert.Equal(t, "третий спортивный разряд", Normalize("III разряд"))
}

func TestNormalize_RomanDoesNotSwallowShorter(t *testing.T) {
	// "I" must not match inside "II" — requires II/III to be tried first.
	assert.Equal(t, "второй спортивный разряд", Normalize("II разряд"))
	assert.NotEqual(t, "первый спортивный разряд", Normalize("II разряд"))
}

func TestNormalize_YouthRanks(t *testing.T) {
	assert.Equal(t, "первый юношеский спортивный разряд", Normalize("1 юношеский разряд"))
}

func TestNormalize_Titles(t *testing.T) {
	assert.Equal(t, "мастер спорта россии международного класса", Normalize("МСМК"))
	assert.Equal(t, "кандидат в мастера спорта", Normalize("КМС"))
	assert.Equal(t, "заслуженный мастер спорта россии", Normalize("ЗМС"))
}

func TestNormalize_JudgeCategoryMultiline(t *testing.T) {
	got := Normalize("Спортивный судья третьей\nкатегории")
	assert.Equal(t, "спортивный судья третьей категории", got)
}

func TestNormalize_SpecialistDynamicLevel(t *testing.T) {
	got := Normalize("Специалист высшей квалификационной категории")
	assert.Equal(t, "специалист высшей квалификационной категории", got)
}

func TestNormalize_Unmatched(t *testing.T) {
	assert.Equal(t, "невесть что", Normalize("невесть что"))
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
}
