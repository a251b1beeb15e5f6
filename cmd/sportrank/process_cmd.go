package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/sportrank/ingest/internal/orchestrator"
)

const defaultSourcesFile = "sources.json"

// runProcessFileCmd implements `sportrank process-file`: runs S1-S4 over a
// PDF already on disk, skipping the download step entirely.
func runProcessFileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("process-file", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		source      string
		file        string
		number      string
		title       string
		orderDate   string
		jsonOut     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.StringVar(&source, "source", "", "Source code (REQUIRED)")
	cmd.StringVar(&file, "file", "", "Path to the PDF on disk (REQUIRED)")
	cmd.StringVar(&number, "number", "", "Order number (REQUIRED)")
	cmd.StringVar(&title, "title", "", "Order title")
	cmd.StringVar(&orderDate, "date", "", "Order date, YYYY-MM-DD (defaults to today)")
	cmd.BoolVar(&jsonOut, "json", false, "Emit the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if source == "" || file == "" || number == "" {
		fmt.Fprintln(stderr, "Error: --source, --file and --number are required")
		return 2
	}

	date, err := parseOrderDate(orderDate)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, sourcesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	result := a.orch.ProcessFile(ctx, file, source, number, date, title)
	return reportResult(stdout, stderr, result, jsonOut)
}

// runProcessURLCmd implements `sportrank process-url`: runs the full
// S0-S4 pipeline starting with a download.
func runProcessURLCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("process-url", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		source      string
		url         string
		number      string
		title       string
		orderDate   string
		jsonOut     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.StringVar(&source, "source", "", "Source code (REQUIRED)")
	cmd.StringVar(&url, "url", "", "PDF URL to download (REQUIRED)")
	cmd.StringVar(&number, "number", "", "Order number (REQUIRED)")
	cmd.StringVar(&title, "title", "", "Order title")
	cmd.StringVar(&orderDate, "date", "", "Order date, YYYY-MM-DD (defaults to today)")
	cmd.BoolVar(&jsonOut, "json", false, "Emit the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if source == "" || url == "" || number == "" {
		fmt.Fprintln(stderr, "Error: --source, --url and --number are required")
		return 2
	}

	date, err := parseOrderDate(orderDate)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, sourcesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	result := a.orch.ProcessURL(ctx, url, source, number, date, title)
	return reportResult(stdout, stderr, result, jsonOut)
}

// runProcessPendingCmd implements `sportrank process-pending`: resumes
// every order left at status new/downloaded, one at a time.
func runProcessPendingCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("process-pending", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		limit       int
		jsonOut     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.IntVar(&limit, "limit", 50, "Maximum number of pending orders to process")
	cmd.BoolVar(&jsonOut, "json", false, "Emit results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, sourcesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	results := a.orch.ProcessPending(ctx, limit)

	allOK := true
	for _, result := range results {
		if !result.Success {
			allOK = false
		}
		if !jsonOut {
			fmt.Fprintf(stdout, "%s: %s\n", result.OrderID, result.Status)
		}
	}
	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	}
	fmt.Fprintf(stdout, "processed %d order(s)\n", len(results))
	if !allOK {
		return 1
	}
	return 0
}

// runReprocessCmd implements `sportrank reprocess`: resets an order to
// downloaded and reruns the full pipeline from the download step.
func runReprocessCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reprocess", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		orderID     string
		jsonOut     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.StringVar(&orderID, "order", "", "Order ID to reprocess (REQUIRED)")
	cmd.BoolVar(&jsonOut, "json", false, "Emit the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if orderID == "" {
		fmt.Fprintln(stderr, "Error: --order is required")
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, sourcesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	result := a.orch.Reprocess(ctx, orderID)
	return reportResult(stdout, stderr, result, jsonOut)
}

func parseOrderDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}

func reportResult(stdout, stderr io.Writer, result *orchestrator.PipelineResult, jsonOut bool) int {
	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		fmt.Fprintf(stdout, "order %s: %s\n", result.OrderID, result.Status)
		for _, step := range result.Steps {
			fmt.Fprintf(stdout, "  %-10s %-8s %s\n", step.Name, step.Status, step.Message)
		}
	}
	if !result.Success {
		fmt.Fprintf(stderr, "pipeline failed: %s\n", result.Status)
		return 1
	}
	return 0
}
