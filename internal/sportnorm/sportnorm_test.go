package sportnorm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Normalizer {
	t.Helper()
	n := New()
	n.mu.Lock()
	n.sports = []entry{
		{codeBase: 1, codeFull: "1-0-0", section: 2, name: "Спортивная акробатика"},
		{codeBase: 2, codeFull: "2-0-0", section: 2, name: "Самбо"},
		{codeBase: 3, codeFull: "3-0-0", section: 2, name: "Дзюдо"},
	}
	n.rebuildIndexesLocked()
	n.mu.Unlock()
	return n
}

func TestNormalize_Exact(t *testing.T) {
	n := loadFixture(t)
	r := n.Normalize(context.Background(), "Самбо")
	require.Equal(t, MethodExact, r.Method)
	assert.Equal(t, "Самбо", r.CanonicalName)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestNormalize_Alias(t *testing.T) {
	n := loadFixture(t)
	n.mu.Lock()
	n.aliasToCanon["Борьба самбо"] = "Самбо"
	n.mu.Unlock()

	r := n.Normalize(context.Background(), "Борьба самбо")
	require.Equal(t, MethodAlias, r.Method)
	assert.Equal(t, "Самбо", r.CanonicalName)
	assert.Equal(t, 0.98, r.Confidence)
}

func TestNormalize_CaseNormalized(t *testing.T) {
	n := loadFixture(t)
	r := n.Normalize(context.Background(), "САМБО")
	require.Equal(t, MethodCaseNorm, r.Method)
	assert.Equal(t, "Самбо", r.CanonicalName)
}

func TestNormalize_FuzzyTypo(t *testing.T) {
	n := loadFixture(t)
	r := n.Normalize(context.Background(), "Спортивная акробатка")
	require.Equal(t, MethodFuzzy, r.Method)
	assert.Equal(t, "Спортивная акробатика", r.CanonicalName)
	assert.GreaterOrEqual(t, r.Confidence, DefaultReviewThreshold)
}

func TestNormalize_NotFoundBelowReviewThreshold(t *testing.T) {
	n := loadFixture(t)
	r := n.Normalize(context.Background(), "совершенно другое слово")
	assert.Equal(t, MethodNotFound, r.Method)
}

func TestNormalize_EmptyInput(t *testing.T) {
	n := loadFixture(t)
	r := n.Normalize(context.Background(), "   ")
	assert.Equal(t, MethodNotFound, r.Method)
}

func TestNormalize_RoundTrip(t *testing.T) {
	n := loadFixture(t)
	for _, s := range n.AllSports() {
		r := n.Normalize(context.Background(), s.CurrentName)
		assert.Equal(t, s.CurrentName, r.CanonicalName)
		assert.Equal(t, 1.0, r.Confidence)
	}
}

func TestFuzzyScore_Monotonic(t *testing.T) {
	// A closer candidate should never score lower than an unrelated one.
	close := fuzzyScore("Самбо", "Самбо борьба")
	far := fuzzyScore("Самбо", "Шахматы")
	assert.Greater(t, close, far)
}

func TestNewerVersionLabel_SemverCompare(t *testing.T) {
	assert.True(t, NewerVersionLabel("1.2.0", "1.3.0"))
	assert.False(t, NewerVersionLabel("1.3.0", "1.2.0"))
	assert.False(t, NewerVersionLabel("1.2.0", "1.2.0"))
}

func TestNewerVersionLabel_FallsBackToStringInequality(t *testing.T) {
	assert.True(t, NewerVersionLabel("2024-09", "2024-10"))
	assert.False(t, NewerVersionLabel("2024-09", "2024-09"))
}

func TestLoadXLSX_RejectsStaleVersionReload(t *testing.T) {
	n := New()
	n.mu.Lock()
	n.registryLabel = "2.0.0"
	n.mu.Unlock()

	_, err := n.LoadXLSX(strings.NewReader(""), "1.0.0")
	require.ErrorIs(t, err, ErrStaleRegistryVersion)
	assert.Equal(t, "2.0.0", n.RegistryLabel())
}
