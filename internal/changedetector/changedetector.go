// Package changedetector implements the Change Detector (C8): per-source
// listing page polling, content-hash change detection and discovered
// document extraction, grounded on original_source/change_detector.py's
// hashing recipe and on the teacher's IngestionService sweep shape
// (core/pkg/arc/service.go).
package changedetector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sportrank/ingest/internal/downloader"
	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/sourceregistry"
)

// CheckStatus is the outcome of checking a single source.
type CheckStatus string

const (
	StatusUnchanged CheckStatus = "unchanged"
	StatusNewDocs   CheckStatus = "new_docs"
	StatusChanged   CheckStatus = "changed"
	StatusError     CheckStatus = "error"
	StatusSkipped   CheckStatus = "skipped"
)

// CheckResult is the outcome of checking one source's listing page(s).
type CheckResult struct {
	SourceCode    string
	Status        CheckStatus
	PageHash      string
	PageHashChanged bool
	Discovered    []model.DiscoveredDocument
	NewDocuments  []model.DiscoveredDocument
	Err           error
}

var (
	reScript       = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle        = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reComment      = regexp.MustCompile(`(?s)<!--.*?-->`)
	reWhitespace   = regexp.MustCompile(`\s+`)
	reDynamicAttrs = regexp.MustCompile(`(?i)(csrf|nonce|token|session|timestamp)=["'][^"']*["']`)
)

// HashContent strips script/style/comment blocks and known volatile
// attributes before hashing, so the hash only changes on real content
// changes, not on a rotated CSRF token or render timestamp.
func HashContent(html string) string {
	cleaned := reScript.ReplaceAllString(html, "")
	cleaned = reStyle.ReplaceAllString(cleaned, "")
	cleaned = reComment.ReplaceAllString(cleaned, "")
	cleaned = reWhitespace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = reDynamicAttrs.ReplaceAllString(cleaned, "")

	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])
}

// KnownURLs reports which URLs are already known for a source, so
// CheckAll can diff against it without depending on the store package
// directly (kept as a narrow injected function).
type KnownURLs func(ctx context.Context, sourceCode string) (map[string]struct{}, error)

// Detector polls every active source's listing pages for new documents.
type Detector struct {
	registry   *sourceregistry.Registry
	downloader *downloader.Downloader
	knownURLs  KnownURLs
}

// New builds a Detector.
func New(registry *sourceregistry.Registry, dl *downloader.Downloader, knownURLs KnownURLs) *Detector {
	return &Detector{registry: registry, downloader: dl, knownURLs: knownURLs}
}

// CheckAll runs CheckSource across every active source, in the style of
// the teacher's IngestionService's per-connector sequential Ingest loop
// generalized to "one listing page -> many discovered documents".
func (d *Detector) CheckAll(ctx context.Context) []CheckResult {
	var results []CheckResult
	for _, source := range d.registry.Active() {
		results = append(results, d.CheckSource(ctx, source))
	}
	return results
}

// CheckSource polls a single source's listing URLs, computing a content
// hash and diffing discovered documents against the known set.
func (d *Detector) CheckSource(ctx context.Context, source *sourceregistry.Source) CheckResult {
	result := CheckResult{SourceCode: source.Code}

	if !source.Active {
		result.Status = StatusSkipped
		return result
	}
	if source.RiskClass == model.RiskRed {
		// Red sources are manual-import only; the detector never polls them.
		result.Status = StatusSkipped
		return result
	}
	if !source.Discoverable() {
		result.Status = StatusSkipped
		return result
	}

	var allDocs []model.DiscoveredDocument
	var hashes []string

	for _, listURL := range source.ListingURLs {
		docs, pageHash, err := d.checkListing(ctx, source, listURL)
		if err != nil {
			result.Status = StatusError
			result.Err = err
			return result
		}
		allDocs = append(allDocs, docs...)
		hashes = append(hashes, pageHash)
	}

	combinedHash := HashContent(strings.Join(hashes, "|"))
	result.PageHash = combinedHash
	result.PageHashChanged = combinedHash != source.LastContentHash
	result.Discovered = allDocs

	known := map[string]struct{}{}
	if d.knownURLs != nil {
		k, err := d.knownURLs(ctx, source.Code)
		if err == nil {
			known = k
		}
	}

	for _, doc := range allDocs {
		if _, ok := known[doc.Key()]; !ok {
			result.NewDocuments = append(result.NewDocuments, doc)
		}
	}

	switch {
	case len(result.NewDocuments) > 0:
		result.Status = StatusNewDocs
	case result.PageHashChanged:
		result.Status = StatusChanged
	default:
		result.Status = StatusUnchanged
	}
	return result
}

func (d *Detector) checkListing(ctx context.Context, source *sourceregistry.Source, listURL string) ([]model.DiscoveredDocument, string, error) {
	switch source.SourceType {
	case model.SourceJSONEmbed:
		return d.checkJSONEmbed(ctx, source, listURL)
	default:
		return d.checkPDFPortal(ctx, source, listURL)
	}
}

func (d *Detector) checkPDFPortal(ctx context.Context, source *sourceregistry.Source, listURL string) ([]model.DiscoveredDocument, string, error) {
	docs, err := d.downloader.Discover(ctx, source, listURL)
	if err != nil {
		return nil, "", fmt.Errorf("discover %s: %w", listURL, err)
	}
	// Discover already enriched each link with order_number/order_date/title
	// and order_type from the ±500-char page context around the match.
	hash := HashContent(joinURLs(docs))
	return docs, hash, nil
}

func joinURLs(docs []model.DiscoveredDocument) string {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.Key())
		sb.WriteString("\n")
	}
	return sb.String()
}

// checkJSONEmbed extracts documents from a JS-embedded JSON variable
// (msrfinfo.ru's $obj = {...}; pattern), used by sources with
// source_type=json_embed.
func (d *Detector) checkJSONEmbed(ctx context.Context, source *sourceregistry.Source, listURL string) ([]model.DiscoveredDocument, string, error) {
	html, err := d.downloader.FetchHTML(ctx, source, listURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", listURL, err)
	}

	jsVar := source.JSVar
	if jsVar == "" {
		jsVar = "$obj"
	}
	raw := extractJSONVar(html, jsVar)
	if raw == "" {
		return nil, HashContent(html), nil
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, HashContent(html), nil
	}

	var docs []model.DiscoveredDocument
	for _, item := range jsonItems(data) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		link := stringField(m, "url", "link")
		if link == "" {
			continue
		}
		resolved := resolveAgainst(listURL, link)
		if resolved == "" || resolved == listURL {
			continue
		}
		docs = append(docs, model.DiscoveredDocument{
			URL:         resolved,
			Title:       stringField(m, "title", "name"),
			OrderNumber: stringField(m, "number", "order_number"),
		})
	}
	return docs, HashContent(html), nil
}

func extractJSONVar(html, jsVar string) string {
	escaped := regexp.QuoteMeta(jsVar)
	objRe := regexp.MustCompile(`(?s)` + escaped + `\s*=\s*(\{.*?\});`)
	if m := objRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	arrRe := regexp.MustCompile(`(?s)` + escaped + `\s*=\s*(\[.*?\]);`)
	if m := arrRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

func jsonItems(data any) []any {
	switch v := data.(type) {
	case []any:
		return v
	case map[string]any:
		if items, ok := v["data"].([]any); ok {
			return items
		}
		if items, ok := v["items"].([]any); ok {
			return items
		}
		return []any{v}
	default:
		return nil
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func resolveAgainst(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
