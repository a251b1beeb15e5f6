// Package extractor ties the rule-based and LLM-based structured
// extractors (C5/C6) together behind one interface, composed explicitly
// rather than via inheritance per the "do not inherit, compose" design
// note: a FallbackExtractor tries its primary, and only calls the
// secondary when the primary returns zero assignments or an error.
package extractor

import (
	"context"

	"github.com/sportrank/ingest/internal/model"
)

// Extractor is the shape both C5 and C6 satisfy.
type Extractor interface {
	Extract(ctx context.Context, text string, order model.Order) ([]model.Assignment, error)
}

// FallbackExtractor tries primary first; if it errors or returns nothing,
// it falls back to secondary. Both results are tagged by whichever
// extractor actually produced them (each sets its own ExtractorTag).
type FallbackExtractor struct {
	Primary   Extractor
	Secondary Extractor
}

// NewFallback composes primary (normally C6, the LLM extractor) with
// secondary (normally C5, the rule-based extractor) as the fallback.
func NewFallback(primary, secondary Extractor) *FallbackExtractor {
	return &FallbackExtractor{Primary: primary, Secondary: secondary}
}

func (f *FallbackExtractor) Extract(ctx context.Context, text string, order model.Order) ([]model.Assignment, error) {
	assignments, err := f.Primary.Extract(ctx, text, order)
	if err == nil && len(assignments) > 0 {
		return assignments, nil
	}
	if f.Secondary == nil {
		return assignments, err
	}
	return f.Secondary.Extract(ctx, text, order)
}
