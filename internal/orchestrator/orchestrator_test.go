package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/ocrengine"
	"github.com/sportrank/ingest/internal/sourceregistry"
	"github.com/sportrank/ingest/internal/store"
)

type stubDownloader struct {
	data []byte
	err  error
}

func (d *stubDownloader) Download(_ context.Context, _ *sourceregistry.Source, _ string) ([]byte, error) {
	return d.data, d.err
}

type stubOCR struct {
	result *ocrengine.Result
	err    error
}

func (o *stubOCR) Process(_ context.Context, _ []byte) (*ocrengine.Result, error) {
	return o.result, o.err
}

type stubExtractor struct {
	records []model.Assignment
	err     error
}

func (e *stubExtractor) Extract(_ context.Context, _ string, _ model.Order) ([]model.Assignment, error) {
	return e.records, e.err
}

func testRegistry() *sourceregistry.Registry {
	return sourceregistry.New([]model.Source{
		{Code: "msrf", BaseURL: "https://msrf.example.com", OrderType: model.OrderTypeOrder},
	})
}

func TestProcessURL_HappyPath_SavesAndMarksExtracted(t *testing.T) {
	st := store.NewNull()
	ocr := &stubOCR{result: &ocrengine.Result{PageCount: 2, Text: "some extracted text", OverallMethod: ocrengine.MethodEmbedded, AvgConfidence: 0.95}}
	primary := &stubExtractor{records: []model.Assignment{{FIO: "Иванов Иван Иванович", RankCategory: "кмс"}}}
	secondary := &stubExtractor{}

	o := New(testRegistry(), &stubDownloader{data: []byte("%PDF-1.4 doc")}, ocr, primary, secondary, nil, st, 0)

	result := o.ProcessURL(context.Background(), "https://msrf.example.com/doc.pdf", "msrf", "123", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "title")

	require.True(t, result.Success)
	assert.Equal(t, model.StatusExtracted, result.Status)
	assert.Len(t, result.Steps, 5)
	for _, step := range result.Steps {
		assert.NotEqual(t, StepFailed, step.Status)
	}
}

func TestProcessURL_DownloadFailureIsTerminal(t *testing.T) {
	st := store.NewNull()
	o := New(testRegistry(), &stubDownloader{err: errors.New("antibot detected")}, &stubOCR{}, &stubExtractor{}, &stubExtractor{}, nil, st, 0)

	result := o.ProcessURL(context.Background(), "https://msrf.example.com/doc.pdf", "msrf", "123", time.Now(), "t")

	assert.False(t, result.Success)
	assert.Len(t, result.Steps, 1)
	assert.Equal(t, StepFailed, result.Steps[0].Status)
}

func TestProcessURL_FallsBackToSecondaryExtractorOnPrimaryError(t *testing.T) {
	st := store.NewNull()
	ocr := &stubOCR{result: &ocrengine.Result{PageCount: 1, Text: "text", OverallMethod: ocrengine.MethodEmbedded, AvgConfidence: 0.9}}
	primary := &stubExtractor{err: errors.New("llm unavailable")}
	secondary := &stubExtractor{records: []model.Assignment{{FIO: "Петров Петр Петрович", RankCategory: "мс"}}}

	o := New(testRegistry(), &stubDownloader{data: []byte("%PDF-1.4 doc")}, ocr, primary, secondary, nil, st, 0)

	result := o.ProcessURL(context.Background(), "https://msrf.example.com/doc.pdf", "msrf", "124", time.Now(), "t")

	require.True(t, result.Success)
	extractStep := result.Steps[2]
	assert.Equal(t, "extract", extractStep.Name)
	assert.Equal(t, "rule_extractor", extractStep.Details["extractor"])
}

func TestProcessURL_ZeroRecordsFromBothExtractorsIsTerminal(t *testing.T) {
	st := store.NewNull()
	ocr := &stubOCR{result: &ocrengine.Result{PageCount: 1, Text: "text", OverallMethod: ocrengine.MethodEmbedded, AvgConfidence: 0.9}}

	o := New(testRegistry(), &stubDownloader{data: []byte("%PDF-1.4 doc")}, ocr, &stubExtractor{}, &stubExtractor{}, nil, st, 0)

	result := o.ProcessURL(context.Background(), "https://msrf.example.com/doc.pdf", "msrf", "125", time.Now(), "t")
	assert.False(t, result.Success)
}

func TestProcessURL_DuplicateFileHashShortCircuits(t *testing.T) {
	sqliteStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	ocr := &stubOCR{result: &ocrengine.Result{PageCount: 1, Text: "text", OverallMethod: ocrengine.MethodEmbedded, AvgConfidence: 0.9}}
	primary := &stubExtractor{records: []model.Assignment{{FIO: "Сидоров Сидор Сидорович", RankCategory: "мсмк"}}}

	o := New(testRegistry(), &stubDownloader{data: []byte("%PDF-1.4 duplicate-body")}, ocr, primary, &stubExtractor{}, nil, sqliteStore, 0)

	first := o.ProcessURL(context.Background(), "https://msrf.example.com/doc.pdf", "msrf", "126", time.Now(), "t")
	require.True(t, first.Success)

	second := o.ProcessURL(context.Background(), "https://msrf.example.com/doc-again.pdf", "msrf", "127", time.Now(), "t")
	require.True(t, second.Success)
	assert.Equal(t, first.OrderID, second.OrderID)

	var skipped bool
	for _, step := range second.Steps {
		if step.Name == "ocr" && step.Status == StepSkipped {
			skipped = true
		}
	}
	assert.True(t, skipped, "expected ocr step to be skipped as a duplicate")
}

func TestProcessFile_UnknownSourceFailsImmediately(t *testing.T) {
	o := New(testRegistry(), &stubDownloader{}, &stubOCR{}, &stubExtractor{}, &stubExtractor{}, nil, store.NewNull(), 0)
	result := o.ProcessFile(context.Background(), "/nonexistent", "unknown-source", "1", time.Now(), "t")
	assert.False(t, result.Success)
}

func TestReprocess_ResetsStatusAndRerunsFromDownload(t *testing.T) {
	sqliteStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "reprocess.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	orderID, err := sqliteStore.GetOrCreateOrder(context.Background(), "msrf", "128", time.Now(), model.OrderTypeOrder, "t", "https://msrf.example.com/list", "https://msrf.example.com/doc.pdf")
	require.NoError(t, err)

	ocr := &stubOCR{result: &ocrengine.Result{PageCount: 1, Text: "text", OverallMethod: ocrengine.MethodEmbedded, AvgConfidence: 0.9}}
	primary := &stubExtractor{records: []model.Assignment{{FIO: "Кузнецов Кузьма Кузьмич", RankCategory: "кмс"}}}

	o := New(testRegistry(), &stubDownloader{data: []byte("%PDF-1.4 reprocessed")}, ocr, primary, &stubExtractor{}, nil, sqliteStore, 0)

	result := o.Reprocess(context.Background(), orderID)
	require.True(t, result.Success)
}
