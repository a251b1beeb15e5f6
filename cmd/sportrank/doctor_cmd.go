package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/sportrank/ingest/internal/config"
)

type checkResult struct {
	Name   string
	Status string // "ok", "warn", "fail"
	Detail string
}

// runDoctorCmd implements `sportrank doctor`: a quick environment and
// configuration sanity check, in the style of the teacher's own doctor
// command — a flat list of named checks rather than a structured report.
func runDoctorCmd(stdout, stderr io.Writer) int {
	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		results = append(results, checkResult{Name: "database_url", Status: "warn", Detail: "DATABASE_URL not set, using dry-run store"})
	} else {
		results = append(results, checkResult{Name: "database_url", Status: "ok", Detail: "set"})
	}

	if cfg.AnthropicAPIKey == "" {
		results = append(results, checkResult{Name: "anthropic_api_key", Status: "warn", Detail: "ANTHROPIC_API_KEY not set, LLM extractor and vision OCR tier disabled"})
	} else {
		results = append(results, checkResult{Name: "anthropic_api_key", Status: "ok", Detail: "set"})
	}

	if _, err := exec.LookPath(cfg.TesseractPath); err != nil {
		results = append(results, checkResult{Name: "tesseract", Status: "warn", Detail: fmt.Sprintf("%q not found on PATH, OCR Tier 2 unavailable", cfg.TesseractPath)})
	} else {
		results = append(results, checkResult{Name: "tesseract", Status: "ok", Detail: cfg.TesseractPath})
	}

	if _, err := os.Stat(defaultSourcesFile); err != nil {
		results = append(results, checkResult{Name: "sources_file", Status: "warn", Detail: fmt.Sprintf("%s not found, pass --sources explicitly", defaultSourcesFile)})
	} else {
		results = append(results, checkResult{Name: "sources_file", Status: "ok", Detail: defaultSourcesFile})
	}

	for _, r := range results {
		if r.Status == "fail" {
			allOK = false
		}
		fmt.Fprintf(stdout, "[%s] %-20s %s\n", r.Status, r.Name, r.Detail)
	}

	if !allOK {
		fmt.Fprintln(stderr, "one or more checks failed")
		return 1
	}
	return 0
}
