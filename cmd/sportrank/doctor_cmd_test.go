package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunDoctorCmd_WarnsWhenDatabaseURLUnset(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("TESSERACT_PATH", "definitely-not-a-real-binary")

	var stdout, stderr bytes.Buffer
	code := runDoctorCmd(&stdout, &stderr)

	assert.Equal(t, 0, code, "warnings alone should not fail doctor")
	assert.Contains(t, stdout.String(), "database_url")
	assert.Contains(t, stdout.String(), "anthropic_api_key")
	assert.Contains(t, stdout.String(), "tesseract")
}
