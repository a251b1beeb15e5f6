// Package config loads process configuration from the environment, in the
// style of a small flat struct with documented defaults.
package config

import (
	"os"
	"strconv"
)

// Config holds the ingestion backbone's runtime configuration.
type Config struct {
	LogLevel string

	DatabaseURL string

	AnthropicAPIKey string

	MaxPDFSize  int64
	MaxPDFPages int

	GoldenSetDir string

	ArtifactStorageType string
	ArtifactDir         string
	ArtifactS3Bucket    string
	ArtifactS3Region    string
	ArtifactS3Endpoint  string
	ArtifactGCSBucket   string

	RedisAddr string

	SportRegistryXLSX string

	TesseractPath   string
	VisionOCREnabled bool
}

const (
	defaultMaxPDFSize  = 50 * 1024 * 1024 // 50 MiB
	defaultMaxPDFPages = 500
)

// Load reads configuration from environment variables, applying the
// defaults documented in each field's corresponding env var.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")

	maxPDFSize := defaultMaxPDFSize
	if v := os.Getenv("MAX_PDF_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxPDFSize = n
		}
	}

	maxPDFPages := defaultMaxPDFPages
	if v := os.Getenv("MAX_PDF_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxPDFPages = n
		}
	}

	artifactStorageType := os.Getenv("ARTIFACT_STORAGE_TYPE")
	if artifactStorageType == "" {
		artifactStorageType = "fs"
	}

	artifactDir := os.Getenv("ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "./pdfs"
	}

	tesseractPath := os.Getenv("TESSERACT_PATH")
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}

	return &Config{
		LogLevel:            logLevel,
		DatabaseURL:         dbURL,
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		MaxPDFSize:          int64(maxPDFSize),
		MaxPDFPages:         maxPDFPages,
		GoldenSetDir:        os.Getenv("GOLDEN_SET_DIR"),
		ArtifactStorageType: artifactStorageType,
		ArtifactDir:         artifactDir,
		ArtifactS3Bucket:    os.Getenv("ARTIFACT_S3_BUCKET"),
		ArtifactS3Region:    os.Getenv("ARTIFACT_S3_REGION"),
		ArtifactS3Endpoint:  os.Getenv("ARTIFACT_S3_ENDPOINT"),
		ArtifactGCSBucket:   os.Getenv("ARTIFACT_GCS_BUCKET"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		SportRegistryXLSX:   os.Getenv("SPORT_REGISTRY_XLSX"),
		TesseractPath:       tesseractPath,
		VisionOCREnabled:    os.Getenv("VISION_OCR_ENABLED") == "true",
	}
}
