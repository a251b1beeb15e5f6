// Package sportnorm implements the sport name normalizer (C2): it loads
// the canonical VRVS sport registry from a spreadsheet and matches
// free-form sport names against it via exact, alias, case-normalized and
// fuzzy matching.
package sportnorm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/xuri/excelize/v2"

	"github.com/sportrank/ingest/internal/cache"
	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/textnorm"
)

// MatchMethod identifies how a normalization result was produced.
type MatchMethod string

const (
	MethodExact     MatchMethod = "exact"
	MethodAlias     MatchMethod = "alias"
	MethodCaseNorm  MatchMethod = "case_norm"
	MethodFuzzy     MatchMethod = "fuzzy"
	MethodNotFound  MatchMethod = "not_found"
)

// Default thresholds, expressed on the [0,1] scale (spec.md calls them
// auto_threshold=0.85 and review_threshold=0.70).
const (
	DefaultAutoThreshold   = 0.85
	DefaultReviewThreshold = 0.70
)

// Alternative is one of the up-to-three runner-up fuzzy candidates.
type Alternative struct {
	Name  string
	Score float64
}

// Result is the outcome of normalizing one free-form sport name.
type Result struct {
	InputName     string
	CanonicalName string
	SportID       string
	Confidence    float64
	Method        MatchMethod
	Alternatives  []Alternative
}

// Found reports whether the match cleared the review threshold.
func (r Result) Found() bool {
	return r.Method != MethodNotFound && r.Method != ""
}

// entry is one canonical sport loaded from the registry.
type entry struct {
	sportID     string
	codeBase    int
	codeFull    string
	section     int
	name        string
	disciplines []string
}

// knownAliases are curated alternates and historically-retired names,
// kept alongside operator-added ones in the same map. Ported verbatim
// from the Python registry's hardcoded alias table.
var knownAliases = map[string]string{
	"Тайский бокс":          "Муайтай",
	"Тай бокс":              "Муайтай",
	"Водное поло":           "Водное поло",
	"Кёрлинг":               "Керлинг",
	"Спортиваня акробатика": "Спортивная акробатика",
	"Спортивнаяакробатика":  "Спортивная акробатика",
	"Кёкусин":               "Киокусинкай",
	"Лёгкая атлетика":       "Легкая атлетика",
	"Художественая гимнастика": "Художественная гимнастика",
	"Спортивнаягимнастика":  "Спортивная гимнастика",
	"Настольный тенис":      "Настольный теннис",
	"Вольная борьба":        "Спортивная борьба",
	"Греко-римская борьба":  "Спортивная борьба",
	"ФМ":                    "Функциональное многоборье",
}

var sheetSections = map[string]int{
	"Признанные":      1,
	"Общероссийские":  2,
	"Национальные":    3,
	"Прикладные":      4,
}

// Normalizer holds the in-memory canonical registry and performs matching.
type Normalizer struct {
	autoThreshold   float64
	reviewThreshold float64

	mu            sync.RWMutex
	sports        []entry
	nameToSport   map[string]*entry
	foldToSport   map[string]*entry
	aliasToCanon  map[string]string
	registryLabel string

	cache cache.Cache
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithThresholds overrides the default auto/review thresholds.
func WithThresholds(auto, review float64) Option {
	return func(n *Normalizer) { n.autoThreshold, n.reviewThreshold = auto, review }
}

// WithCache plugs in a memoization cache (Redis-backed in production,
// in-process otherwise — see internal/cache).
func WithCache(c cache.Cache) Option {
	return func(n *Normalizer) { n.cache = c }
}

// New creates an empty Normalizer; call LoadXLSX or LoadEntries to
// populate its canonical registry before calling Normalize.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		autoThreshold:   DefaultAutoThreshold,
		reviewThreshold: DefaultReviewThreshold,
		aliasToCanon:    cloneAliases(),
		cache:           cache.NewLocal(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func cloneAliases() map[string]string {
	m := make(map[string]string, len(knownAliases))
	for k, v := range knownAliases {
		m[k] = v
	}
	return m
}

// ImportStats summarizes a single registry load.
type ImportStats struct {
	VersionLabel     string
	FileHash         string
	SportsTotal      int
	DisciplinesTotal int
}

// ErrStaleRegistryVersion is returned by LoadXLSX when versionLabel is not
// newer than the currently loaded registry's label, per NewerVersionLabel.
var ErrStaleRegistryVersion = errors.New("sportnorm: candidate registry version is not newer than the loaded one")

// LoadXLSX parses the four-sheet VRVS workbook (Признанные/Общероссийские/
// Национальные/Прикладные → sections 1-4) and replaces the in-memory
// registry. Each sheet's rows carry a sport at columns 1-2 (row number,
// name) with its dotted code spanning columns 3-9, and an optional
// discipline name at column 10.
//
// When a registry is already loaded and both labels are non-empty,
// versionLabel must be newer than the current RegistryLabel (per
// NewerVersionLabel) or the reload is rejected with ErrStaleRegistryVersion
// — a sweep that re-downloads an older workbook must not clobber a newer one.
func (n *Normalizer) LoadXLSX(r io.Reader, versionLabel string) (ImportStats, error) {
	if current := n.RegistryLabel(); current != "" && versionLabel != "" && !NewerVersionLabel(current, versionLabel) {
		return ImportStats{}, fmt.Errorf("%w: loaded %q, candidate %q", ErrStaleRegistryVersion, current, versionLabel)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return ImportStats{}, err
	}
	sum := sha256.Sum256(raw)
	fileHash := hex.EncodeToString(sum[:])

	f, err := excelize.OpenReader(strings.NewReader(string(raw)))
	if err != nil {
		return ImportStats{}, err
	}
	defer f.Close()

	var sports []entry
	for sheetName, section := range sheetSections {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue // sheet absent from this workbook
		}
		var current *entry
		for _, row := range rows {
			get := func(i int) string {
				if i < len(row) {
					return strings.TrimSpace(row[i])
				}
				return ""
			}
			col1, col2 := get(0), get(1)
			if isDigits(col1) && col2 != "" {
				codeParts := make([]string, 0, 7)
				for i := 2; i <= 8; i++ {
					v := get(i)
					if v == "" {
						break
					}
					codeParts = append(codeParts, trimTrailingDotZero(v))
				}
				codeBase := 0
				if len(codeParts) > 0 {
					codeBase = parseLeadingInt(codeParts[0])
				}
				sports = append(sports, entry{
					codeBase: codeBase,
					codeFull: strings.Join(codeParts, "-"),
					section:  section,
					name:     col2,
				})
				current = &sports[len(sports)-1]
			}
			if disc := get(9); disc != "" && current != nil {
				current.disciplines = append(current.disciplines, disc)
			}
		}
	}

	n.mu.Lock()
	n.sports = sports
	n.registryLabel = versionLabel
	n.rebuildIndexesLocked()
	n.mu.Unlock()
	n.cache.Clear(context.Background())

	discTotal := 0
	for _, s := range sports {
		discTotal += len(s.disciplines)
	}
	return ImportStats{
		VersionLabel:     versionLabel,
		FileHash:         fileHash,
		SportsTotal:      len(sports),
		DisciplinesTotal: discTotal,
	}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseLeadingInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func trimTrailingDotZero(s string) string {
	if strings.HasSuffix(s, ".0") {
		return strings.TrimSuffix(s, ".0")
	}
	return s
}

func (n *Normalizer) rebuildIndexesLocked() {
	n.nameToSport = make(map[string]*entry, len(n.sports))
	n.foldToSport = make(map[string]*entry, len(n.sports))
	for i := range n.sports {
		e := &n.sports[i]
		n.nameToSport[e.name] = e
		n.foldToSport[textnorm.Fold(e.name)] = e
	}
}

// AddAlias registers an operator-added alias.
func (n *Normalizer) AddAlias(alias, canonical string) {
	n.mu.Lock()
	n.aliasToCanon[alias] = canonical
	n.mu.Unlock()
	n.cache.Clear(context.Background())
}

// SetNameLifetime registers an alias old -> new. validTo is recorded for
// audit purposes only and never consulted during matching, per the
// Open Question resolution: operator-added aliases are permanently valid.
func (n *Normalizer) SetNameLifetime(oldName, validTo, newName string) {
	if newName != "" {
		n.AddAlias(oldName, newName)
	}
}

// AllSports returns every canonical sport currently loaded.
func (n *Normalizer) AllSports() []model.Sport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]model.Sport, 0, len(n.sports))
	for _, e := range n.sports {
		out = append(out, model.Sport{
			ID:          e.sportID,
			CodeBase:    e.codeBase,
			CodeFull:    e.codeFull,
			Section:     e.section,
			CurrentName: e.name,
		})
	}
	return out
}

// Normalize matches a free-form sport name to the canonical registry,
// trying exact, alias, case-normalized and fuzzy matching in that order
// and memoizing the result for the lifetime of the process (or the
// configured cache).
func (n *Normalizer) Normalize(ctx context.Context, sportName string) Result {
	trimmed := strings.TrimSpace(sportName)
	if trimmed == "" {
		return Result{InputName: sportName, Method: MethodNotFound}
	}

	if cached, ok := n.cache.Get(ctx, "sportnorm:"+trimmed); ok {
		if r, ok := cached.(Result); ok {
			return r
		}
	}

	result := n.doNormalize(trimmed)
	n.cache.Set(ctx, "sportnorm:"+trimmed, result)
	return result
}

func (n *Normalizer) doNormalize(name string) Result {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if e, ok := n.nameToSport[name]; ok {
		return Result{InputName: name, CanonicalName: e.name, SportID: e.sportID, Confidence: 1.0, Method: MethodExact}
	}

	if canon, ok := n.aliasToCanon[name]; ok {
		e := n.nameToSport[canon]
		return Result{InputName: name, CanonicalName: canon, SportID: sportIDOf(e), Confidence: 0.98, Method: MethodAlias}
	}

	folded := textnorm.Fold(name)
	if e, ok := n.foldToSport[folded]; ok {
		return Result{InputName: name, CanonicalName: e.name, SportID: e.sportID, Confidence: 0.95, Method: MethodCaseNorm}
	}

	for alias, canon := range n.aliasToCanon {
		if textnorm.Fold(alias) == folded {
			e := n.nameToSport[canon]
			return Result{InputName: name, CanonicalName: canon, SportID: sportIDOf(e), Confidence: 0.95, Method: MethodAlias}
		}
	}

	return n.fuzzyMatchLocked(name)
}

func sportIDOf(e *entry) string {
	if e == nil {
		return ""
	}
	return e.sportID
}

func (n *Normalizer) fuzzyMatchLocked(name string) Result {
	type scored struct {
		name  string
		score float64
		sport *entry
	}

	choices := make(map[string]*entry, len(n.sports))
	for i := range n.sports {
		choices[n.sports[i].name] = &n.sports[i]
	}
	for alias, canon := range n.aliasToCanon {
		if e, ok := n.nameToSport[canon]; ok {
			choices[alias] = e
		}
	}
	if len(choices) == 0 {
		return Result{InputName: name, Method: MethodNotFound}
	}

	results := make([]scored, 0, len(choices))
	for candidate, e := range choices {
		results = append(results, scored{candidate, fuzzyScore(name, candidate), e})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > 5 {
		results = results[:5]
	}

	best := results[0]
	canonical := best.name
	if c, ok := n.aliasToCanon[best.name]; ok {
		canonical = c
	}
	canonSport := best.sport
	if e, ok := n.nameToSport[canonical]; ok {
		canonSport = e
	}

	var alternatives []Alternative
	for _, r := range results[1:min(4, len(results))] {
		alternatives = append(alternatives, Alternative{Name: r.name, Score: round3(r.score)})
	}

	confidence := round3(best.score)
	if confidence < n.reviewThreshold {
		return Result{InputName: name, Method: MethodNotFound, Confidence: confidence, Alternatives: alternatives}
	}

	return Result{
		InputName:     name,
		CanonicalName: canonical,
		SportID:       sportIDOf(canonSport),
		Confidence:    confidence,
		Method:        MethodFuzzy,
		Alternatives:  alternatives,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// fuzzyScore is the deterministic fallback fuzzy-matching formula: trigram
// Jaccard similarity plus a substring-containment bonus (+0.15) and a
// length-ratio bonus (x0.10), capped at 1.0. Used unconditionally since no
// rapidfuzz-equivalent third-party library exists in this stack; this is
// the documented fallback the spec names explicitly.
func fuzzyScore(a, b string) float64 {
	triScore := trigramJaccard(a, b)

	al, bl := strings.ToLower(a), strings.ToLower(b)
	containBonus := 0.0
	if strings.Contains(bl, al) || strings.Contains(al, bl) {
		containBonus = 0.15
	}

	lenA, lenB := len([]rune(a)), len([]rune(b))
	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}
	if maxLen == 0 {
		maxLen = 1
	}
	minLen := lenA
	if lenB < minLen {
		minLen = lenB
	}
	lenBonus := (float64(minLen) / float64(maxLen)) * 0.1

	return math.Min(1.0, triScore+containBonus+lenBonus)
}

func trigrams(s string) map[string]struct{} {
	s = strings.ToLower(strings.TrimSpace(s))
	padded := "  " + s + " "
	runes := []rune(padded)
	out := make(map[string]struct{})
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

func trigramJaccard(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	intersection := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// RegistryLabel reports the label of the currently loaded registry
// version; version comparison lives in NewerVersionLabel.
func (n *Normalizer) RegistryLabel() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registryLabel
}

// NewerVersionLabel reports whether candidate should replace current,
// preferring semantic-version comparison and falling back to a plain
// string inequality check when either label fails to parse as semver.
func NewerVersionLabel(current, candidate string) bool {
	cv, err1 := semver.NewVersion(current)
	nv, err2 := semver.NewVersion(candidate)
	if err1 == nil && err2 == nil {
		return nv.GreaterThan(cv)
	}
	return candidate != current
}
