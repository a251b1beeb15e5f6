package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sportrank/ingest/internal/model"
)

// loadSources reads the source registry seed from a JSON file: an array of
// model.Source values. Field names match Go's default encoding/json
// behavior (exported field name, case-insensitive), so the seed file can
// be hand-written without needing struct tags on model.Source.
func loadSources(path string) ([]model.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var sources []model.Source
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	return sources, nil
}
