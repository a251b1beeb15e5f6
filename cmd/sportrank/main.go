// Command sportrank is the ingestion backbone's entrypoint: it wires the
// registry, downloader, OCR engine, extractors and store into a Pipeline
// Orchestrator and dispatches CLI subcommands against it, in the same
// Run(args, stdout, stderr) int dispatcher shape as the teacher's helm
// command.
package main

import (
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint: every subcommand function takes the
// same (args, stdout, stderr) shape so tests can capture output without
// touching os.Stdout/os.Stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "process-file":
		return runProcessFileCmd(args[2:], stdout, stderr)
	case "process-url":
		return runProcessURLCmd(args[2:], stdout, stderr)
	case "process-pending":
		return runProcessPendingCmd(args[2:], stdout, stderr)
	case "reprocess":
		return runReprocessCmd(args[2:], stdout, stderr)
	case "check-sources":
		return runCheckSourcesCmd(args[2:], stdout, stderr)
	case "watch":
		return runWatchCmd(args[2:], stdout, stderr)
	case "reload-sports":
		return runReloadSportsCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%ssportrank%s — sport rank order ingestion backbone\n", colorBold+colorCyan, colorReset)
	fmt.Fprintf(w, "%sdownload, OCR, extract and normalize rank-award orders from government portals%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  sportrank <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "PIPELINE")
	printCommand(w, "process-file", "Run the S1-S4 pipeline over a local PDF (--source, --file, --number)")
	printCommand(w, "process-url", "Download then run the full S0-S4 pipeline over a URL (--source, --url, --number)")
	printCommand(w, "process-pending", "Resume every order stuck at new/downloaded (--limit)")
	printCommand(w, "reprocess", "Reset an order to downloaded and rerun it (--order)")

	printSection(w, "DISCOVERY")
	printCommand(w, "check-sources", "Run one change-detector sweep across every active source")
	printCommand(w, "watch", "Run the change-detector sweep on a fixed interval (--interval)")

	printSection(w, "OPERATIONS")
	printCommand(w, "reload-sports", "Replace the in-memory VRVS registry (--file, --version)")
	printCommand(w, "doctor", "Check configuration and local prerequisites")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-18s%s %s\n", colorGreen, name, colorReset, desc)
}
