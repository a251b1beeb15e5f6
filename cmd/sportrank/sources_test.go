package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSources_ParsesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")
	body := `[
		{"Code": "msrf", "Name": "MSRF", "OrderType": "order", "RiskClass": "green", "FetchMethod": "http", "Active": true, "BaseURL": "https://msrf.example.com", "ListingURLs": ["https://msrf.example.com/orders"]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	sources, err := loadSources(path)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "msrf", sources[0].Code)
	assert.True(t, sources[0].Active)
	assert.Equal(t, "https://msrf.example.com", sources[0].BaseURL)
}

func TestLoadSources_MissingFileErrors(t *testing.T) {
	_, err := loadSources(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadSources_InvalidJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := loadSources(path)
	assert.Error(t, err)
}
