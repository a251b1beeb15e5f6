package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sportrank/ingest/internal/cache"
	"github.com/sportrank/ingest/internal/changedetector"
	"github.com/sportrank/ingest/internal/config"
	"github.com/sportrank/ingest/internal/downloader"
	"github.com/sportrank/ingest/internal/extractor"
	"github.com/sportrank/ingest/internal/extractor/llm"
	"github.com/sportrank/ingest/internal/extractor/rules"
	"github.com/sportrank/ingest/internal/ocrengine"
	"github.com/sportrank/ingest/internal/orchestrator"
	"github.com/sportrank/ingest/internal/sourceregistry"
	"github.com/sportrank/ingest/internal/sportnorm"
	"github.com/sportrank/ingest/internal/store"
	"github.com/sportrank/ingest/internal/store/blob"
	"github.com/sportrank/ingest/internal/workerpool"
)

// app bundles every wired component a subcommand might need, so each
// command function only has to reach into the bits it uses.
type app struct {
	cfg        *config.Config
	registry   *sourceregistry.Registry
	downloader *downloader.Downloader
	ocr        *ocrengine.Engine
	llm        extractor.Extractor
	rules      extractor.Extractor
	sports     *sportnorm.Normalizer
	store      store.Store
	blobs      blob.Store
	orch       *orchestrator.Orchestrator
}

// buildApp wires the ingestion backbone from environment configuration and
// a JSON source seed file, the way the teacher's runServer wires its own
// dependency graph before handing off to the command layer.
func buildApp(ctx context.Context, sourcesFile string) (*app, error) {
	cfg := config.Load()

	sources, err := loadSources(sourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	registry := sourceregistry.New(sources)

	dl := downloader.New(registry, cfg.MaxPDFSize)

	sportCache := cache.NewLocal()
	if cfg.RedisAddr != "" {
		sportCache = cache.NewRedis(cfg.RedisAddr)
	}
	sports := sportnorm.New(sportnorm.WithCache(sportCache))
	if cfg.SportRegistryXLSX != "" {
		if err := loadSportRegistry(sports, cfg.SportRegistryXLSX); err != nil {
			slog.Warn("sport registry load failed, starting with builtin aliases only", "error", err)
		}
	}

	ocrOpts := []ocrengine.Option{
		ocrengine.WithTesseractPath(cfg.TesseractPath),
		ocrengine.WithWorkerPool(workerpool.New(4)),
	}
	if cfg.VisionOCREnabled && cfg.AnthropicAPIKey != "" {
		ocrOpts = append(ocrOpts, ocrengine.WithVision(ocrengine.NewAnthropicVision(cfg.AnthropicAPIKey)))
	}
	ocr := ocrengine.New(ocrOpts...)

	ruleExtractor := rules.New(sports)

	var llmExtractor extractor.Extractor
	if cfg.AnthropicAPIKey != "" {
		e, err := llm.New(cfg.AnthropicAPIKey, "")
		if err != nil {
			return nil, fmt.Errorf("build llm extractor: %w", err)
		}
		llmExtractor = e
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, LLM extractor disabled; rules extractor will run as primary")
		llmExtractor = ruleExtractor
	}

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	blobStore, err := blob.NewFromConfig(ctx, blob.Config{
		StorageType: cfg.ArtifactStorageType,
		Dir:         cfg.ArtifactDir,
		S3Bucket:    cfg.ArtifactS3Bucket,
		S3Region:    cfg.ArtifactS3Region,
		S3Endpoint:  cfg.ArtifactS3Endpoint,
		GCSBucket:   cfg.ArtifactGCSBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	orch := orchestrator.New(registry, dl, ocr, llmExtractor, ruleExtractor, sports, st, cfg.MaxPDFSize)

	return &app{
		cfg:        cfg,
		registry:   registry,
		downloader: dl,
		ocr:        ocr,
		llm:        llmExtractor,
		rules:      ruleExtractor,
		sports:     sports,
		store:      st,
		blobs:      blobStore,
		orch:       orch,
	}, nil
}

func loadSportRegistry(n *sportnorm.Normalizer, path string) error {
	return reloadSportRegistry(n, path, registryVersionFromFilename(path))
}

// reloadSportRegistry loads path into n, tagged with versionLabel. LoadXLSX
// itself rejects the load with ErrStaleRegistryVersion when a registry is
// already loaded and versionLabel isn't newer, so a sweep that re-fetches a
// stale VRVS workbook can never clobber a newer one already in memory.
func reloadSportRegistry(n *sportnorm.Normalizer, path, versionLabel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := n.LoadXLSX(f, versionLabel)
	if err != nil {
		return err
	}
	slog.Info("sport registry loaded", "version", stats.VersionLabel, "sports", stats.SportsTotal, "disciplines", stats.DisciplinesTotal)
	return nil
}

// registryVersionFromFilename derives a version label from the workbook's
// file name (e.g. "vrvs-2024.09.1.xlsx" -> "2024.09.1"), so the very first
// load already carries a comparable label for later reloads to beat.
func registryVersionFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.SplitN(base, "-", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return base
}

func (a *app) Close() {
	if a.downloader != nil {
		_ = a.downloader.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newChangeDetector builds a change detector against the store's KnownURLs.
func (a *app) newChangeDetector() *changedetector.Detector {
	return changedetector.New(a.registry, a.downloader, a.store.KnownURLs)
}
