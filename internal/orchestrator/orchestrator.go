// Package orchestrator implements the Pipeline Orchestrator (C10): the
// per-order S0-S4 step driver, structured as the teacher's ToolWrapper
// command-pattern wrapper (core/pkg/runtime/toolwrap.go) — every step
// produces a StepResult appended to the overall result unconditionally,
// success or failure, mirroring guardian.go's intervention-log-every-step
// approach.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sportrank/ingest/internal/extractor"
	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/ocrengine"
	"github.com/sportrank/ingest/internal/ranknorm"
	"github.com/sportrank/ingest/internal/sourceregistry"
	"github.com/sportrank/ingest/internal/sportnorm"
	"github.com/sportrank/ingest/internal/store"
)

// Downloader is the narrow contract the orchestrator needs from C7,
// satisfied by *downloader.Downloader; tests substitute a stub the same
// way extractor.Extractor already decouples S2 from a concrete C5/C6 type.
type Downloader interface {
	Download(ctx context.Context, source *sourceregistry.Source, rawURL string) ([]byte, error)
}

// OCREngine is the narrow contract the orchestrator needs from C4,
// satisfied by *ocrengine.Engine.
type OCREngine interface {
	Process(ctx context.Context, raw []byte) (*ocrengine.Result, error)
}

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the outcome of one S0-S4 step.
type StepResult struct {
	Name     string
	Status   StepStatus
	Duration time.Duration
	Message  string
	Details  map[string]any
}

// PipelineResult is the accumulated outcome of processing one order.
type PipelineResult struct {
	OrderID string
	Success bool
	Status  model.OrderStatus
	Error   string
	Steps   []StepResult

	NormalizedSports int
	UnmatchedSports  int
	NormalizedRanks  int
}

// runState threads per-order working data between steps, mirroring the
// spec's step-observes-full-prior-state sequencing: S0 populates
// fileBytes, S1 populates text/pageCount, S2 populates records, S3
// mutates records in place, S4 persists them.
type runState struct {
	source      *sourceregistry.Source
	orderID     string
	order       model.Order
	fileBytes   []byte
	fileHash    string
	ocrResult   *ocrengine.Result
	records     []model.Assignment
	duplicate   bool
	normSports  int
	unmatched   int
	normRanks   int
}

// Orchestrator wires every component into the S0-S4 pipeline.
type Orchestrator struct {
	registry   *sourceregistry.Registry
	downloader Downloader
	ocr        OCREngine
	primary    extractor.Extractor
	secondary  extractor.Extractor
	sports     *sportnorm.Normalizer
	store      store.Store
	maxSize    int64
	metrics    *Metrics
	log        *slog.Logger
}

// New builds an Orchestrator. primary is normally the LLM extractor (C6)
// and secondary the rule-based extractor (C5), passed separately; step S2
// falls back from primary to secondary itself. Any extractor.Extractor
// pair works (tests, for instance, pass two stubs).
func New(registry *sourceregistry.Registry, dl Downloader, ocr OCREngine, primary, secondary extractor.Extractor, sports *sportnorm.Normalizer, st store.Store, maxSize int64) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		downloader: dl,
		ocr:        ocr,
		primary:    primary,
		secondary:  secondary,
		sports:     sports,
		store:      st,
		maxSize:    maxSize,
		metrics:    NewMetrics(),
		log:        slog.Default().With("component", "orchestrator"),
	}
}

// ProcessFile skips download and starts at OCR, per spec.md §4.10 mode 1.
func (o *Orchestrator) ProcessFile(ctx context.Context, path, sourceCode, orderNumber string, orderDate time.Time, title string) *PipelineResult {
	source, ok := o.registry.Get(sourceCode)
	if !ok {
		return &PipelineResult{Success: false, Error: fmt.Sprintf("unknown source %q", sourceCode)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &PipelineResult{Success: false, Error: fmt.Sprintf("read file: %v", err)}
	}

	st := &runState{
		source:    source,
		order:     model.Order{SourceCode: sourceCode, OrderNumber: orderNumber, OrderDate: orderDate, OrderType: source.OrderType, Title: title},
		fileBytes: data,
	}
	return o.run(ctx, st, []step{o.s1OCR, o.s2Extract, o.s3Normalize, o.s4Save})
}

// ProcessURL runs the full pipeline starting at download, per spec.md
// §4.10 mode 2.
func (o *Orchestrator) ProcessURL(ctx context.Context, rawURL, sourceCode, orderNumber string, orderDate time.Time, title string) *PipelineResult {
	source, ok := o.registry.Get(sourceCode)
	if !ok {
		return &PipelineResult{Success: false, Error: fmt.Sprintf("unknown source %q", sourceCode)}
	}

	st := &runState{
		source: source,
		order: model.Order{SourceCode: sourceCode, OrderNumber: orderNumber, OrderDate: orderDate,
			OrderType: source.OrderType, Title: title, SourceURL: rawURL, FileURL: rawURL},
	}
	return o.run(ctx, st, []step{o.s0Download, o.s1OCR, o.s2Extract, o.s3Normalize, o.s4Save})
}

// ProcessPending pulls up to limit pending orders from the store and
// processes each via ProcessURL, per spec.md §4.10 mode 3. A bad order
// never fails the batch.
func (o *Orchestrator) ProcessPending(ctx context.Context, limit int) []*PipelineResult {
	orders, err := o.store.GetPendingOrders(ctx, limit)
	if err != nil {
		o.log.ErrorContext(ctx, "get pending orders failed", "error", err)
		return nil
	}

	results := make([]*PipelineResult, 0, len(orders))
	for _, ord := range orders {
		results = append(results, o.ProcessURL(ctx, ord.FileURL, ord.SourceCode, ord.OrderNumber, ord.OrderDate, ord.Title))
	}
	return results
}

// Reprocess looks up file_url, resets status to downloaded and re-runs
// from download — the explicit retry entry point per spec.md §4.10 §"Retry
// discipline".
func (o *Orchestrator) Reprocess(ctx context.Context, orderID string) *PipelineResult {
	ord, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return &PipelineResult{OrderID: orderID, Success: false, Error: fmt.Sprintf("lookup order: %v", err)}
	}
	if err := o.store.UpdateOrderStatus(ctx, orderID, store.OrderStatusUpdate{Status: model.StatusDownloaded}); err != nil {
		o.log.WarnContext(ctx, "reset status before reprocess failed", "order_id", orderID, "error", err)
	}
	return o.ProcessURL(ctx, ord.FileURL, ord.SourceCode, ord.OrderNumber, ord.OrderDate, ord.Title)
}

type step func(ctx context.Context, st *runState, result *PipelineResult) bool

// run executes steps in order, appending every StepResult unconditionally
// and stopping at the first one that returns false (terminal failure).
func (o *Orchestrator) run(ctx context.Context, st *runState, steps []step) *PipelineResult {
	result := &PipelineResult{Success: true, Status: model.StatusNew}

	for _, s := range steps {
		if ctx.Err() != nil {
			result.Success = false
			result.Error = ctx.Err().Error()
			break
		}
		if !s(ctx, st, result) {
			result.Success = false
			break
		}
		if st.duplicate {
			break
		}
	}

	result.OrderID = st.orderID
	result.NormalizedSports = st.normSports
	result.UnmatchedSports = st.unmatched
	result.NormalizedRanks = st.normRanks
	o.metrics.RecordOrder(ctx, result)
	return result
}

func recordStep(result *PipelineResult, name string, start time.Time, status StepStatus, message string, details map[string]any) {
	result.Steps = append(result.Steps, StepResult{
		Name: name, Status: status, Duration: time.Since(start), Message: message, Details: details,
	})
}

// s0Download validates the URL against the egress allowlist and fetches
// the document; only run for URL-initiated runs.
func (o *Orchestrator) s0Download(ctx context.Context, st *runState, result *PipelineResult) bool {
	start := time.Now()
	data, err := o.downloader.Download(ctx, st.source, st.order.FileURL)
	if err != nil {
		recordStep(result, "download", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("download: %v", err)
		o.logStep(ctx, st, model.LogError, model.StageDownload, result.Error)
		return false
	}
	st.fileBytes = data
	recordStep(result, "download", start, StepSuccess, "downloaded", map[string]any{"bytes": len(data)})
	return true
}

// s1OCR computes the file hash, checks byte-level idempotency, then runs
// OCR when the order is genuinely new.
func (o *Orchestrator) s1OCR(ctx context.Context, st *runState, result *PipelineResult) bool {
	start := time.Now()

	if o.maxSize > 0 && int64(len(st.fileBytes)) > o.maxSize {
		recordStep(result, "ocr", start, StepFailed, "file exceeds MAX_PDF_SIZE", nil)
		result.Error = "file too large"
		return false
	}

	sum := sha256.Sum256(st.fileBytes)
	st.fileHash = hex.EncodeToString(sum[:])

	if existingID, ok, err := o.store.CheckFileExists(ctx, st.fileHash); err == nil && ok {
		st.orderID = existingID
		st.duplicate = true
		result.Status = model.StatusExtracted
		recordStep(result, "ocr", start, StepSkipped, "duplicate", map[string]any{"order_id": existingID})
		return true
	}

	orderID, err := o.store.GetOrCreateOrder(ctx, st.order.SourceCode, st.order.OrderNumber, st.order.OrderDate, st.order.OrderType, st.order.Title, st.order.SourceURL, st.order.FileURL)
	if err != nil {
		recordStep(result, "ocr", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("get_or_create_order: %v", err)
		return false
	}
	st.orderID = orderID

	if err := o.store.UpdateOrderStatus(ctx, orderID, store.OrderStatusUpdate{Status: model.StatusDownloaded, FileHash: st.fileHash}); err != nil {
		o.log.WarnContext(ctx, "update status to downloaded failed", "order_id", orderID, "error", err)
	}

	ocrResult, err := o.ocr.Process(ctx, st.fileBytes)
	if err != nil {
		recordStep(result, "ocr", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("ocr: %v", err)
		o.logStep(ctx, st, model.LogError, model.StageOCR, result.Error)
		return false
	}
	st.ocrResult = ocrResult

	_ = o.store.UpdateOrderStatus(ctx, orderID, store.OrderStatusUpdate{
		PageCount: ocrResult.PageCount, OCRMethod: string(ocrResult.OverallMethod), OCRConfidence: ocrResult.AvgConfidence,
	})

	recordStep(result, "ocr", start, StepSuccess, "ocr complete", map[string]any{
		"pages": ocrResult.PageCount, "method": string(ocrResult.OverallMethod), "confidence": ocrResult.AvgConfidence,
	})
	return true
}

// s2Extract tries the primary extractor (LLM) first, falling back to the
// secondary (rules) on any error or empty result, per spec.md §4.10 §S2.
func (o *Orchestrator) s2Extract(ctx context.Context, st *runState, result *PipelineResult) bool {
	start := time.Now()

	if st.ocrResult == nil || st.ocrResult.Text == "" {
		recordStep(result, "extract", start, StepFailed, "no OCR text to extract from", nil)
		result.Error = "empty ocr text"
		return false
	}

	records, err := o.primary.Extract(ctx, st.ocrResult.Text, st.order)
	tag := "llm"
	if err != nil || len(records) == 0 {
		records, err = o.secondary.Extract(ctx, st.ocrResult.Text, st.order)
		tag = "rule_extractor"
	}
	if err != nil {
		recordStep(result, "extract", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("extract: %v", err)
		o.logStep(ctx, st, model.LogError, model.StageExtract, result.Error)
		return false
	}
	if len(records) == 0 {
		recordStep(result, "extract", start, StepFailed, "no assignments extracted", nil)
		result.Error = "zero assignments extracted"
		return false
	}

	for i := range records {
		if records[i].ExtractorTag == "" {
			records[i].ExtractorTag = tag
		}
	}
	st.records = records

	recordStep(result, "extract", start, StepSuccess, fmt.Sprintf("extracted %d records via %s", len(records), tag),
		map[string]any{"count": len(records), "extractor": tag})
	return true
}

// s3Normalize applies C3 (rank) and C2 (sport) normalization to every
// record, preserving originals on change and counting outcomes for the
// run summary.
func (o *Orchestrator) s3Normalize(ctx context.Context, st *runState, result *PipelineResult) bool {
	start := time.Now()

	for i := range st.records {
		a := &st.records[i]

		if a.RankCategory != "" {
			normalized := ranknorm.Normalize(a.RankCategory)
			if normalized != "" && normalized != a.RankCategory {
				a.RankCategoryOriginal = a.RankCategory
				a.RankCategory = normalized
				st.normRanks++
			}
		}

		if a.Sport != "" && o.sports != nil {
			res := o.sports.Normalize(ctx, a.Sport)
			if res.Found() {
				if res.CanonicalName != a.Sport {
					a.SportOriginal = a.Sport
				}
				a.Sport = res.CanonicalName
				a.SportID = res.SportID
				st.normSports++
			} else {
				st.unmatched++
			}
		}
	}

	recordStep(result, "normalize", start, StepSuccess, "normalized", map[string]any{
		"ranks_normalized": st.normRanks, "sports_normalized": st.normSports, "sports_unmatched": st.unmatched,
	})
	return true
}

// s4Save persists the final assignment set transactionally and marks the
// order extracted.
func (o *Orchestrator) s4Save(ctx context.Context, st *runState, result *PipelineResult) bool {
	start := time.Now()

	if err := o.store.SaveAssignments(ctx, st.orderID, st.records); err != nil {
		recordStep(result, "save", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("save_assignments: %v", err)
		_ = o.store.UpdateOrderStatus(ctx, st.orderID, store.OrderStatusUpdate{Status: model.StatusFailed, ErrorMessage: result.Error})
		return false
	}

	now := time.Now().UTC()
	if err := o.store.UpdateOrderStatus(ctx, st.orderID, store.OrderStatusUpdate{Status: model.StatusExtracted, ExtractedAt: &now}); err != nil {
		recordStep(result, "save", start, StepFailed, err.Error(), nil)
		result.Error = fmt.Sprintf("update order status: %v", err)
		return false
	}

	result.Status = model.StatusExtracted
	recordStep(result, "save", start, StepSuccess, fmt.Sprintf("saved %d assignments", len(st.records)), map[string]any{"count": len(st.records)})
	return true
}

// logStep is a best-effort ProcessingLog write: a logging failure must
// never cascade into pipeline failure, per spec.md §4.9.
func (o *Orchestrator) logStep(ctx context.Context, st *runState, level model.LogLevel, stage model.Stage, message string) {
	if o.store == nil {
		return
	}
	if err := o.store.LogProcessing(ctx, st.orderID, st.source.Code, level, stage, message, nil); err != nil {
		o.log.WarnContext(ctx, "log_processing failed", "error", err)
	}
}
