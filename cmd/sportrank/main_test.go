package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_NoArgsPrintsUsageAndReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sportrank"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "USAGE:")
}

func TestRun_HelpCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sportrank", "help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "process-file")
	assert.Contains(t, stdout.String(), "check-sources")
}

func TestRun_UnknownCommandReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sportrank", "bogus"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Unknown command: bogus")
}

func TestRunProcessFileCmd_MissingFlagsReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runProcessFileCmd(nil, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "required")
}

func TestRunProcessURLCmd_MissingFlagsReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runProcessURLCmd([]string{"--source", "msrf"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "required")
}

func TestRunReprocessCmd_MissingOrderReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runReprocessCmd(nil, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--order is required")
}

func TestRunReloadSportsCmd_MissingFlagsReturns2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runReloadSportsCmd(nil, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--file and --version are required")
}

func TestParseOrderDate_DefaultsToToday(t *testing.T) {
	date, err := parseOrderDate("")
	assert.NoError(t, err)
	assert.False(t, date.IsZero())
}

func TestParseOrderDate_InvalidFormatErrors(t *testing.T) {
	_, err := parseOrderDate("not-a-date")
	assert.Error(t, err)
}

func TestParseOrderDate_ParsesISODate(t *testing.T) {
	date, err := parseOrderDate("2026-05-04")
	assert.NoError(t, err)
	assert.Equal(t, 2026, date.Year())
	assert.Equal(t, 5, int(date.Month()))
	assert.Equal(t, 4, date.Day())
}
