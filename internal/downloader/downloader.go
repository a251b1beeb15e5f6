// Package downloader implements the Downloader (C7): fetches order PDFs
// over plain HTTP or a headless browser, enforcing the egress allowlist,
// size limits, and per-source pacing.
package downloader

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/sourceregistry"
	"github.com/sportrank/ingest/internal/workerpool"
)

// Sentinel errors surfaced to the orchestrator's S0 step.
var (
	ErrAntibotDetected = errors.New("downloader: antibot challenge page detected")
	ErrNotPDF          = errors.New("downloader: response is not a pdf")
	ErrHostNotAllowed  = errors.New("downloader: host not in egress allowlist")
	ErrTooLarge        = errors.New("downloader: response exceeds max size")
)

const maxRetries = 3

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

var antibotMarkers = []string{
	"servicepipe", "ddos-guard", "cloudflare",
	"checking your browser", "проверка браузера",
	"just a moment", "enable javascript",
}

var reHref = regexp.MustCompile(`href=["']([^"']+)["']`)

// Downloader fetches order PDFs through the method each source declares.
type Downloader struct {
	registry    *sourceregistry.Registry
	httpClient  *http.Client
	browserPool *workerpool.Pool // caps concurrent browser sessions (2 permits)
	maxBytes    int64

	browser *rod.Browser
}

// New builds a Downloader. maxBytes bounds every downloaded body
// (config.MaxPDFSize).
func New(registry *sourceregistry.Registry, maxBytes int64) *Downloader {
	return &Downloader{
		registry:    registry,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		browserPool: workerpool.New(2),
		maxBytes:    maxBytes,
	}
}

// Close releases the headless browser, if one was launched.
func (d *Downloader) Close() error {
	if d.browser != nil {
		return d.browser.Close()
	}
	return nil
}

// Download fetches the PDF at rawURL for the given source, returning its
// raw bytes. The egress allowlist is consulted before any network call.
func (d *Downloader) Download(ctx context.Context, source *sourceregistry.Source, rawURL string) ([]byte, error) {
	if err := d.checkAllowlist(rawURL); err != nil {
		return nil, err
	}
	if err := source.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var content []byte
	var err error
	switch source.FetchMethod {
	case model.FetchBrowser:
		content, err = d.downloadBrowser(ctx, source, rawURL)
	default:
		content, err = d.downloadHTTP(ctx, source, rawURL)
	}
	if err != nil {
		return nil, err
	}

	if !isPDF(content) {
		if looksLikeAntibot(content) {
			return nil, fmt.Errorf("%w: %s", ErrAntibotDetected, rawURL)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotPDF, rawURL)
	}
	return content, nil
}

// Discover fetches a listing page and returns the document links found on
// it, filtered by the source's configured link regex.
func (d *Downloader) Discover(ctx context.Context, source *sourceregistry.Source, listURL string) ([]model.DiscoveredDocument, error) {
	if err := d.checkAllowlist(listURL); err != nil {
		return nil, err
	}
	if err := source.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var html string
	var err error
	switch source.FetchMethod {
	case model.FetchBrowser:
		html, err = d.discoverBrowserHTML(ctx, source, listURL)
	default:
		html, err = d.discoverHTTPHTML(ctx, listURL)
	}
	if err != nil {
		return nil, err
	}

	return d.extractLinks(html, source, listURL), nil
}

// FetchHTML fetches a listing page's raw HTML without link extraction,
// used by the json_embed change-detection path which parses an embedded
// JS variable instead of scanning hrefs.
func (d *Downloader) FetchHTML(ctx context.Context, source *sourceregistry.Source, listURL string) (string, error) {
	if err := d.checkAllowlist(listURL); err != nil {
		return "", err
	}
	if err := source.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	if source.FetchMethod == model.FetchBrowser {
		return d.discoverBrowserHTML(ctx, source, listURL)
	}
	return d.discoverHTTPHTML(ctx, listURL)
}

func (d *Downloader) checkAllowlist(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if !d.registry.Allowed(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

// downloadHTTP fetches via net/http with the teacher's exponential
// backoff + jitter retry loop, re-targeted at transport errors/5xx rather
// than tripping a circuit breaker (no persistent per-host failure state
// is kept at this scale).
func (d *Downloader) downloadHTTP(ctx context.Context, source *sourceregistry.Source, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "application/pdf,*/*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	req.Header.Set("Referer", source.BaseURL)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := d.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			defer resp.Body.Close()
			return readLimited(resp.Body, d.maxBytes)
		}
		if err == nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		if attempt == maxRetries-1 {
			break
		}
		sleepBackoff(ctx, attempt)
	}
	return nil, fmt.Errorf("download %s: %w", rawURL, lastErr)
}

func (d *Downloader) discoverHTTPHTML(ctx context.Context, listURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := readLimited(resp.Body, d.maxBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func sleepBackoff(ctx context.Context, attempt int) {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	select {
	case <-time.After(backoff + jitter):
	case <-ctx.Done():
	}
}

// downloadBrowser uses go-rod under the 2-permit browser session pool.
func (d *Downloader) downloadBrowser(ctx context.Context, source *sourceregistry.Source, rawURL string) ([]byte, error) {
	return workerpool.Submit(ctx, d.browserPool, func() ([]byte, error) {
		browser, err := d.ensureBrowser()
		if err != nil {
			return nil, err
		}
		page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
		if err != nil {
			return nil, fmt.Errorf("open page: %w", err)
		}
		defer page.Close()

		if source.WaitSelector != "" {
			_ = page.Timeout(10 * time.Second).MustElement(source.WaitSelector)
		}
		html, err := page.HTML()
		if err != nil {
			return nil, fmt.Errorf("read page html: %w", err)
		}
		if looksLikeAntibotText(html) {
			return nil, fmt.Errorf("%w: %s", ErrAntibotDetected, rawURL)
		}

		if pdfURL := findPDFLink(html, rawURL); pdfURL != "" && pdfURL != rawURL {
			if err := d.checkAllowlist(pdfURL); err != nil {
				return nil, err
			}
			return d.downloadHTTP(ctx, source, pdfURL)
		}
		return []byte(html), nil
	})
}

func (d *Downloader) discoverBrowserHTML(ctx context.Context, source *sourceregistry.Source, listURL string) (string, error) {
	body, err := workerpool.Submit(ctx, d.browserPool, func() ([]byte, error) {
		browser, err := d.ensureBrowser()
		if err != nil {
			return nil, err
		}
		page, err := browser.Page(proto.TargetCreateTarget{URL: listURL})
		if err != nil {
			return nil, fmt.Errorf("open listing page: %w", err)
		}
		defer page.Close()

		if source.WaitSelector != "" {
			_ = page.Timeout(10 * time.Second).MustElement(source.WaitSelector)
		}
		html, err := page.HTML()
		if err != nil {
			return nil, err
		}
		return []byte(html), nil
	})
	return string(body), err
}

func (d *Downloader) ensureBrowser() (*rod.Browser, error) {
	if d.browser != nil {
		return d.browser, nil
	}
	path, err := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	d.browser = rod.New().ControlURL(path)
	if err := d.browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return d.browser, nil
}

// contextRadius bounds the window scanned around a matched link for
// order_number_regex/order_date_regex/title_regex hits, per the pdf_portal
// discovery contract: ±500 characters of surrounding HTML.
const contextRadius = 500

// extractLinks applies the source's link regex (if any) over every href on
// the page, resolving each hit against the page URL, then enriches every
// surviving candidate by scanning the ±500-character window around the match
// for order_number/order_date/title, classifying order_type from the
// "распоряжение" keyword in that same window.
func (d *Downloader) extractLinks(html string, source *sourceregistry.Source, baseURL string) []model.DiscoveredDocument {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]struct{})
	var out []model.DiscoveredDocument

	var linkRe *regexp.Regexp
	if source.LinkRegex != "" {
		linkRe = regexp.MustCompile(source.LinkRegex)
	}

	for _, m := range reHref.FindAllStringSubmatchIndex(html, -1) {
		href := html[m[2]:m[3]]
		resolved := resolveURL(base, href)
		if resolved == "" {
			continue
		}
		lower := strings.ToLower(resolved)
		if !strings.Contains(lower, ".pdf") && !strings.Contains(lower, "/media/docs/") {
			continue
		}
		if linkRe != nil && !linkRe.MatchString(resolved) {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}

		doc := model.DiscoveredDocument{URL: baseURL, FileURL: resolved}
		enrichFromContext(&doc, html, m[0], source)
		out = append(out, doc)
	}
	return out
}

// enrichFromContext scans ±contextRadius characters around a link match for
// the source's order_number/order_date/title regexes and classifies
// order_type, mirroring the pdf_portal discovery contract.
func enrichFromContext(doc *model.DiscoveredDocument, html string, matchStart int, source *sourceregistry.Source) {
	start := matchStart
	for i := 0; i < contextRadius && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(html[:start])
		start -= size
	}
	end := matchStart
	for i := 0; i < contextRadius && end < len(html); i++ {
		_, size := utf8.DecodeRuneInString(html[end:])
		end += size
	}
	window := html[start:end]

	if source.OrderNumberRegex != "" {
		if re, err := regexp.Compile(source.OrderNumberRegex); err == nil {
			if mm := re.FindStringSubmatch(window); mm != nil {
				doc.OrderNumber = lastNonEmptyGroup(mm)
			}
		}
	}
	if source.OrderDateRegex != "" {
		if re, err := regexp.Compile(source.OrderDateRegex); err == nil {
			if mm := re.FindStringSubmatch(window); mm != nil {
				doc.OrderDate = parseContextDate(lastNonEmptyGroup(mm))
			}
		}
	}
	if source.TitleRegex != "" {
		if re, err := regexp.Compile(source.TitleRegex); err == nil {
			if mm := re.FindStringSubmatch(window); mm != nil {
				doc.Title = strings.TrimSpace(lastNonEmptyGroup(mm))
			}
		}
	}

	if strings.Contains(strings.ToLower(window), "распоряжение") {
		doc.OrderType = model.OrderTypeDirective
	} else {
		doc.OrderType = model.OrderTypeOrder
	}
}

// lastNonEmptyGroup returns the last non-empty capture group, or the whole
// match when the regex has no groups.
func lastNonEmptyGroup(m []string) string {
	for i := len(m) - 1; i >= 1; i-- {
		if m[i] != "" {
			return m[i]
		}
	}
	return m[0]
}

var reContextDate = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})[./](\d{2,4})`)

// parseContextDate accepts either an ISO date or the ru dd.mm.yyyy form
// found in order text.
func parseContextDate(raw string) time.Time {
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(raw)); err == nil {
		return t
	}
	if mm := reContextDate.FindStringSubmatch(raw); mm != nil {
		d, _ := strconv.Atoi(mm[1])
		mo, _ := strconv.Atoi(mm[2])
		y, _ := strconv.Atoi(mm[3])
		if y < 100 {
			y += 2000
		}
		if d >= 1 && d <= 31 && mo >= 1 && mo <= 12 {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}

func findPDFLink(html string, baseURL string) string {
	base, _ := url.Parse(baseURL)
	for _, m := range reHref.FindAllStringSubmatch(html, -1) {
		resolved := resolveURL(base, m[1])
		if strings.Contains(strings.ToLower(resolved), ".pdf") {
			return resolved
		}
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func isPDF(content []byte) bool {
	return len(content) >= 4 && string(content[:4]) == "%PDF"
}

func looksLikeAntibot(content []byte) bool {
	head := content
	if len(head) > 2000 {
		head = head[:2000]
	}
	return looksLikeAntibotText(string(head))
}

func looksLikeAntibotText(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range antibotMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func randomUserAgent() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userAgents))))
	if err != nil {
		return userAgents[0]
	}
	return userAgents[n.Int64()]
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	limited := io.LimitReader(r, max+1)
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, limited); err != nil {
		return nil, err
	}
	if int64(buf.Len()) > max {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}
