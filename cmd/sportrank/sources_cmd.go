package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sportrank/ingest/internal/changedetector"
)

// runCheckSourcesCmd implements `sportrank check-sources`: one sweep of
// the change detector across every active source, optionally feeding
// newly-discovered documents straight into the orchestrator.
func runCheckSourcesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check-sources", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		process     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.BoolVar(&process, "process", false, "Run the pipeline over every newly discovered document")

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

	results := a.newChangeDetector().CheckAll(ctx)
	anyError := false
	for _, r := range results {
		fmt.Fprintf(stdout, "%-12s %-10s discovered=%d new=%d\n", r.SourceCode, r.Status, len(r.Discovered), len(r.NewDocuments))
		if r.Status == changedetector.StatusError {
			anyError = true
			fmt.Fprintf(stderr, "  %s: %v\n", r.SourceCode, r.Err)
			continue
		}
		if process {
			a.processDiscovered(ctx, r)
		}
	}
	if anyError {
		return 1
	}
	return 0
}

// runWatchCmd implements `sportrank watch`: the long-running loop that
// runs check-sources on a fixed interval until the process is killed.
func runWatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		interval    time.Duration
		process     bool
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.DurationVar(&interval, "interval", 15*time.Minute, "Time between sweeps")
	cmd.BoolVar(&process, "process", true, "Run the pipeline over every newly discovered document")

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

	detector := a.newChangeDetector()
	slog.Info("watch loop starting", "interval", interval)

	for {
		results := detector.CheckAll(ctx)
		for _, r := range results {
			slog.Info("source checked", "source", r.SourceCode, "status", r.Status, "new_documents", len(r.NewDocuments))
			if process && r.Status != changedetector.StatusError {
				a.processDiscovered(ctx, r)
			}
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(interval):
		}
	}
}

// processDiscovered runs the pipeline over every newly discovered
// document from one change-detector sweep, logging but not failing the
// sweep when an individual document errors out.
func (a *app) processDiscovered(ctx context.Context, r changedetector.CheckResult) {
	for _, doc := range r.NewDocuments {
		orderDate := doc.OrderDate
		if orderDate.IsZero() {
			orderDate = time.Now().UTC()
		}
		url := doc.FileURL
		if url == "" {
			url = doc.URL
		}
		result := a.orch.ProcessURL(ctx, url, r.SourceCode, doc.OrderNumber, orderDate, doc.Title)
		if !result.Success {
			slog.Error("pipeline failed for discovered document", "source", r.SourceCode, "url", url, "error", result.Error)
		}
	}
}
