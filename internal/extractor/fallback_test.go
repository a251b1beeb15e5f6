package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
)

type stubExtractor struct {
	assignments []model.Assignment
	err         error
	calls       int
}

func (s *stubExtractor) Extract(_ context.Context, _ string, _ model.Order) ([]model.Assignment, error) {
	s.calls++
	return s.assignments, s.err
}

func TestFallbackExtractor_UsesPrimaryWhenItSucceeds(t *testing.T) {
	primary := &stubExtractor{assignments: []model.Assignment{{FIO: "A"}}}
	secondary := &stubExtractor{assignments: []model.Assignment{{FIO: "B"}}}

	f := NewFallback(primary, secondary)
	got, err := f.Extract(context.Background(), "text", model.Order{})
	require.NoError(t, err)
	assert.Equal(t, "A", got[0].FIO)
	assert.Equal(t, 0, secondary.calls)
}

func TestFallbackExtractor_FallsBackOnPrimaryError(t *testing.T) {
	primary := &stubExtractor{err: errors.New("boom")}
	secondary := &stubExtractor{assignments: []model.Assignment{{FIO: "B"}}}

	f := NewFallback(primary, secondary)
	got, err := f.Extract(context.Background(), "text", model.Order{})
	require.NoError(t, err)
	assert.Equal(t, "B", got[0].FIO)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackExtractor_FallsBackOnEmptyResult(t *testing.T) {
	primary := &stubExtractor{assignments: nil}
	secondary := &stubExtractor{assignments: []model.Assignment{{FIO: "B"}}}

	f := NewFallback(primary, secondary)
	got, err := f.Extract(context.Background(), "text", model.Order{})
	require.NoError(t, err)
	assert.Equal(t, "B", got[0].FIO)
}
