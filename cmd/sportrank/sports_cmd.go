package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/sportrank/ingest/internal/sportnorm"
)

// runReloadSportsCmd implements `sportrank reload-sports`: replaces the
// in-memory VRVS registry with a freshly-downloaded workbook, refusing the
// swap when --version isn't newer than the registry already loaded.
func runReloadSportsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reload-sports", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sourcesFile string
		file        string
		version     string
	)
	cmd.StringVar(&sourcesFile, "sources", defaultSourcesFile, "Path to the source registry seed (JSON)")
	cmd.StringVar(&file, "file", "", "Path to the VRVS workbook (REQUIRED)")
	cmd.StringVar(&version, "version", "", "Version label of this workbook (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" || version == "" {
		fmt.Fprintln(stderr, "Error: --file and --version are required")
		return 2
	}

	ctx := context.Background()
	a, err := buildApp(ctx, sourcesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close()

	previous := a.sports.RegistryLabel()
	if err := reloadSportRegistry(a.sports, file, version); err != nil {
		if errors.Is(err, sportnorm.ErrStaleRegistryVersion) {
			fmt.Fprintf(stderr, "rejected: %v (loaded registry stays at %q)\n", err, previous)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "sport registry reloaded: %s -> %s\n", previous, a.sports.RegistryLabel())
	return 0
}
