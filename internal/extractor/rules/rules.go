// Package rules implements the rule-based Structured Extractor (C5): a
// direct port of original_source/rule_extractor.py's three parsing
// strategies (tabular, section-header, free text) and the heuristic that
// picks between them.
package rules

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sportrank/ingest/internal/model"
	"github.com/sportrank/ingest/internal/ranknorm"
	"github.com/sportrank/ingest/internal/sportnorm"
)

// Regexes ported from RE_FIO, RE_DATE, RE_IAS_ID, RE_ROW_NUM, RE_DATA_ROW,
// RE_DATA_ROW_IAS, RE_JUDGE_CAT, RE_PAGE_FOOTER, RE_TABLE_HEADER. Go's RE2
// engine has no lookaround, but none of the source patterns used it.
var (
	reFIO       = regexp.MustCompile(`[А-ЯЁ][а-яё]+\s+[А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё]+)?`)
	reDate      = regexp.MustCompile(`\d{1,2}[./]\d{1,2}[./]\d{2,4}`)
	reIASID     = regexp.MustCompile(`\b\d{6,12}\b`)
	reRowNum    = regexp.MustCompile(`^\s*(\d{1,4})[.)]\s*`)
	reDataRow   = regexp.MustCompile(`^\s*(\d{1,4})[.)]\s+([А-ЯЁ][а-яё]+\s+[А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё]+)?)\s+(\d{1,2}[./]\d{1,2}[./]\d{2,4})\s+(.+?)\s+(\d{1,2}[./]\d{1,2}[./]\d{2,4})`)
	reDataRowIAS = regexp.MustCompile(`^\s*(\d{1,4})[.)]\s+([А-ЯЁ][а-яё]+\s+[А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё]+)?)\s+(\d{1,2}[./]\d{1,2}[./]\d{2,4})\s+(\d{6,12})\s+(.+?)\s+(\d{1,2}[./]\d{1,2}[./]\d{2,4})`)
	reJudgeCat  = regexp.MustCompile(`(?i)судь[ия][а-яё\s]*категори`)
	rePageFooter = regexp.MustCompile(`(?m)^\s*Страница\s+\d+(\s+из\s+\d+)?\s*$`)
	reTableHeader = regexp.MustCompile(`(?i)№\s*п/п|Фамилия|Дата\s+рождения`)
	reHeaderWord  = regexp.MustCompile(`(?i)Приложение|Список|Приказ|категори|разряд`)
	reOCRGlue     = regexp.MustCompile(`([а-яё])([А-ЯЁ])`)
)

// ACTION_PATTERNS, keyed by keyword, mapped to model.ActionType.
var actionKeywords = []struct {
	re     *regexp.Regexp
	action model.ActionType
}{
	{regexp.MustCompile(`(?i)считать\s+подтвердив|подтвердить`), model.ActionConfirmation},
	{regexp.MustCompile(`(?i)отказать`), model.ActionRefusal},
	{regexp.MustCompile(`(?i)лишить`), model.ActionRevocation},
	{regexp.MustCompile(`(?i)восстановить`), model.ActionRestoration},
	{regexp.MustCompile(`(?i)присвоить`), model.ActionAssignment},
}

// detectAssignmentType mirrors detect_assignment_type's keyword scan over
// the first 3000 characters, checked in a fixed, meaning-sensitive order.
func detectAssignmentType(text string) model.AssignmentKind {
	head := text
	if r := []rune(head); len(r) > 3000 {
		head = string(r[:3000])
	}
	lower := strings.ToLower(head)

	switch {
	case strings.Contains(lower, "почетн"):
		return model.KindHonoraryTitle
	case strings.Contains(lower, "заслуженн") && (strings.Contains(lower, "мастер") || strings.Contains(lower, "тренер")):
		return model.KindHonoraryTitle
	case strings.Contains(lower, "судья"), strings.Contains(lower, "судей"), strings.Contains(lower, "судьи"):
		return model.KindJudgeCategory
	case strings.Contains(lower, "специалист"):
		return model.KindSpecialistCategory
	case strings.Contains(lower, "тренер"), strings.Contains(lower, "зтр"):
		return model.KindCoachCategory
	default:
		return model.KindSportRank
	}
}

func detectAction(text string) model.ActionType {
	for _, k := range actionKeywords {
		if k.re.MatchString(text) {
			return k.action
		}
	}
	return model.ActionAssignment
}

// validateDate enforces the 1930-2030 year window used for order/event dates.
func validateDate(raw string) (time.Time, bool) {
	t, ok := parseRuDate(raw)
	if !ok {
		return time.Time{}, false
	}
	if t.Year() < 1930 || t.Year() > 2030 {
		return time.Time{}, false
	}
	return t, true
}

// validateBirthDate enforces a 5-100 year plausible age window relative to
// the order's own date, not wall-clock time: an order from 2016 assigning a
// rank to someone born in 2013 must fail, regardless of when extraction runs.
func validateBirthDate(raw string, orderDate time.Time) (time.Time, bool) {
	t, ok := parseRuDate(raw)
	if !ok {
		return time.Time{}, false
	}
	ref := orderDate
	if ref.IsZero() {
		ref = time.Now()
	}
	age := ref.Year() - t.Year()
	if age < 5 || age > 100 {
		return time.Time{}, false
	}
	return t, true
}

func parseRuDate(raw string) (time.Time, bool) {
	raw = strings.ReplaceAll(raw, ".", "/")
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	d, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if y < 100 {
		if y < 30 {
			y += 2000
		} else {
			y += 1900
		}
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
}

// cleanText mirrors clean_text: strips page footers and short table-header
// lines. Whitespace inside the remaining lines is left as it is.
func cleanText(s string) string {
	s = rePageFooter.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if reTableHeader.MatchString(l) && len(strings.TrimSpace(l)) < 60 {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// Extractor runs the rule-based cascade: tabular, section, free-text.
type Extractor struct {
	sports *sportnorm.Normalizer
}

// New builds a rule-based Extractor backed by a sport normalizer used to
// detect section headers and resolve free-text sport mentions.
func New(sports *sportnorm.Normalizer) *Extractor {
	return &Extractor{sports: sports}
}

// knownTabularSources mirrors the original's hard-coded set of source
// codes known to always publish strict numbered tables.
var knownTabularSources = map[string]struct{}{
	"minsport_pdf": {},
	"fso_reestr":   {},
}

// Extract runs the auto-selection heuristic (_auto_parse) then
// post-processing (_post_process), matching original_source semantics.
func (e *Extractor) Extract(ctx context.Context, text string, order model.Order) ([]model.Assignment, error) {
	if len(strings.TrimSpace(text)) < 50 {
		return nil, nil
	}

	assignments := e.autoParse(ctx, text, order)
	return e.postProcess(assignments, order), nil
}

func (e *Extractor) autoParse(ctx context.Context, text string, order model.Order) []model.Assignment {
	cleaned := cleanText(text)

	if _, known := knownTabularSources[order.SourceCode]; known {
		if a := e.parseTabular(ctx, cleaned, order); len(a) > 0 {
			return a
		}
	}

	dataRowCount := 0
	for _, line := range strings.Split(cleaned, "\n") {
		if reDataRow.MatchString(line) || reDataRowIAS.MatchString(line) {
			dataRowCount++
		}
	}
	if dataRowCount >= 3 {
		if a := e.parseTabular(ctx, cleaned, order); len(a) > 0 {
			return a
		}
	}

	sportHeaders := e.countSportHeaders(ctx, cleaned)
	if sportHeaders >= 2 {
		if a := e.parseSection(ctx, cleaned, order); len(a) > 0 {
			return a
		}
	}

	fioCount := len(reFIO.FindAllString(cleaned, -1))
	dateCount := len(reDate.FindAllString(cleaned, -1))
	if fioCount >= 3 && dateCount >= 3 {
		if a := e.parseFreeText(ctx, cleaned, order); len(a) > 0 {
			return a
		}
	}

	// Fall through: try every strategy in order, accept the first with output.
	if a := e.parseTabular(ctx, cleaned, order); len(a) > 0 {
		return a
	}
	if a := e.parseSection(ctx, cleaned, order); len(a) > 0 {
		return a
	}
	return e.parseFreeText(ctx, cleaned, order)
}

func (e *Extractor) countSportHeaders(ctx context.Context, text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 80 {
			continue
		}
		if e.sports == nil {
			continue
		}
		r := e.sports.Normalize(ctx, line)
		if r.Confidence >= 0.85 {
			n++
		}
	}
	return n
}

// dataRow is a single numbered row before a trailing category block is
// matched to it.
type dataRow struct {
	rowNum         int
	fio            string
	birthDate      string
	iasID          string
	sport          string
	submissionDate string
}

// parseTabular ports TabularParser: split on page footers, collect
// numbered data rows, then match the following category block
// positionally (i-th category -> i-th data row on the page).
func (e *Extractor) parseTabular(ctx context.Context, text string, order model.Order) []model.Assignment {
	kind := detectAssignmentType(text)
	action := detectAction(text)

	pages := e.splitPages(text)
	var out []model.Assignment

	for _, page := range pages {
		rows, categoryStart := e.extractDataRows(page)
		categories := e.parseCategoryBlock(page[categoryStart:])

		for i, row := range rows {
			category := ""
			if i < len(categories) {
				category = categories[i]
			}
			a := e.buildAssignment(ctx, row, category, kind, action, order)
			conf := e.calcConfidence(row, category)
			a.Confidence = conf
			if conf < 0.5 {
				setExtra(&a, "needs_review", true)
			}
			out = append(out, a)
		}
	}
	return out
}

func (e *Extractor) splitPages(text string) []string {
	return rePageFooter.Split(text, -1)
}

func (e *Extractor) extractDataRows(page string) ([]dataRow, int) {
	var rows []dataRow
	lastEnd := 0
	for _, line := range strings.Split(page, "\n") {
		if m := reDataRowIAS.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			rows = append(rows, dataRow{rowNum: n, fio: m[2], birthDate: m[3], iasID: m[4], sport: strings.TrimSpace(m[5]), submissionDate: m[6]})
			lastEnd += len(line) + 1
			continue
		}
		if m := reDataRow.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			rows = append(rows, dataRow{rowNum: n, fio: m[2], birthDate: m[3], sport: strings.TrimSpace(m[4]), submissionDate: m[5]})
			lastEnd += len(line) + 1
			continue
		}
		if len(rows) > 0 {
			break // first non-data line after the table ends the row block
		}
		lastEnd += len(line) + 1
	}
	return rows, lastEnd
}

// parseCategoryBlock handles 1-2 line category continuations, filtering
// obvious header/garbage lines, mirroring _parse_category_block.
func (e *Extractor) parseCategoryBlock(tail string) []string {
	var categories []string
	var pending string

	for _, line := range strings.Split(tail, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || reHeaderWord.MatchString(trimmed) {
			if pending != "" {
				categories = append(categories, pending)
				pending = ""
			}
			continue
		}
		if pending == "" {
			pending = trimmed
		} else {
			pending += " " + trimmed
			categories = append(categories, pending)
			pending = ""
		}
	}
	if pending != "" {
		categories = append(categories, pending)
	}
	return categories
}

// setExtra lazily allocates a.Extras and sets key, mirroring the
// conditional-extras idiom used by the LLM extractor.
func setExtra(a *model.Assignment, key string, value any) {
	if a.Extras == nil {
		a.Extras = make(map[string]any)
	}
	a.Extras[key] = value
}

func (e *Extractor) buildAssignment(ctx context.Context, row dataRow, categoryRaw string, kind model.AssignmentKind, action model.ActionType, order model.Order) model.Assignment {
	canonical := ranknorm.Normalize(categoryRaw)

	sport := strings.TrimSpace(row.sport)
	sportID := ""
	if e.sports != nil && sport != "" {
		if r := e.sports.Normalize(ctx, sport); r.Found() {
			sport = r.CanonicalName
			sportID = r.SportID
		}
	}

	a := model.Assignment{
		OrderID:              order.ID,
		FIO:                  strings.TrimSpace(row.fio),
		BirthDateRaw:         row.birthDate,
		IASID:                row.iasID,
		SubmissionNumber:     strconv.Itoa(row.rowNum),
		AssignmentKind:       kind,
		Sport:                sport,
		SportOriginal:        row.sport,
		SportID:              sportID,
		RankCategory:         canonical,
		RankCategoryOriginal: categoryRaw,
		Action:               action,
		ExtractorTag:         "rules:tabular",
	}
	if t, ok := validateBirthDate(row.birthDate, order.OrderDate); ok {
		a.BirthDate = &t
	}

	if row.submissionDate != "" {
		setExtra(&a, "submission_date", row.submissionDate)
	}
	if row.birthDate != "" {
		if _, ok := validateBirthDate(row.birthDate, order.OrderDate); !ok {
			setExtra(&a, "birth_date_suspicious", true)
		}
	}
	if reJudgeCat.MatchString(categoryRaw) && row.iasID == "" {
		setExtra(&a, "category_position_suspicious", true)
	}

	return a
}

// calcConfidence ports the 5-factor/5.0 rubric from _calc_confidence:
// +1 each for a plausible fio, a well-formed birth date, a real sport, and a
// real category; ias_id either adds a factor or, when absent, softens the
// denominator instead of zeroing the score outright.
func (e *Extractor) calcConfidence(row dataRow, category string) float64 {
	score := 0.0
	total := 5.0

	if len(strings.Fields(row.fio)) >= 2 {
		score++
	}
	if _, ok := validateDate(row.birthDate); ok {
		score++
	}
	if len(strings.TrimSpace(row.sport)) > 2 {
		score++
	}
	if len(strings.TrimSpace(category)) > 3 {
		score++
	}
	if row.iasID != "" {
		score++
	} else {
		total -= 0.5
	}

	if total <= 0 {
		return 0
	}
	conf := score / total
	if conf > 1.0 {
		conf = 1.0
	}
	return math.Round(conf*100) / 100
}

// parseSection ports SectionParser: sport-header-detected sections, each
// data row inheriting the section's current sport.
func (e *Extractor) parseSection(ctx context.Context, text string, order model.Order) []model.Assignment {
	kind := detectAssignmentType(text)
	action := detectAction(text)

	var out []model.Assignment
	currentSport := ""
	currentSportID := ""

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if len(trimmed) <= 80 && e.sports != nil {
			r := e.sports.Normalize(ctx, trimmed)
			if r.Confidence >= 0.80 {
				currentSport = r.CanonicalName
				currentSportID = r.SportID
				continue
			}
		}

		m := reDataRowIAS.FindStringSubmatch(line)
		var fio, birth, ias, rowSport, submissionDate string
		if m != nil {
			fio, birth, ias, rowSport, submissionDate = m[2], m[3], m[4], m[5], m[6]
		} else if m := reDataRow.FindStringSubmatch(line); m != nil {
			fio, birth, rowSport, submissionDate = m[2], m[3], m[4], m[5]
		} else {
			continue
		}

		sport, sportID := currentSport, currentSportID
		if sport == "" {
			sport = strings.TrimSpace(rowSport)
			if e.sports != nil && sport != "" {
				if r := e.sports.Normalize(ctx, sport); r.Found() {
					sport = r.CanonicalName
					sportID = r.SportID
				}
			}
		}

		a := model.Assignment{
			OrderID:        order.ID,
			FIO:            strings.TrimSpace(fio),
			BirthDateRaw:   birth,
			IASID:          ias,
			AssignmentKind: kind,
			Action:         action,
			Sport:          sport,
			SportID:        sportID,
			Confidence:     0.75,
			ExtractorTag:   "rules:section",
		}
		if t, ok := validateBirthDate(birth, order.OrderDate); ok {
			a.BirthDate = &t
		}
		if submissionDate != "" {
			setExtra(&a, "submission_date", submissionDate)
		}
		out = append(out, a)
	}
	return out
}

// reFree mirrors RE_FREE: a name followed by a date somewhere in the same
// narrative span, used to split free text into per-person triples.
var reFree = regexp.MustCompile(`([А-ЯЁ][а-яё]+\s+[А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё]+)?)[^.]{0,80}?(\d{1,2}[./]\d{1,2}[./]\d{2,4})`)

// parseFreeText ports FreeTextParser: action/kind detected once for the
// whole document, then per-triple rank and sport lookups in narrative
// context around each match.
func (e *Extractor) parseFreeText(ctx context.Context, text string, order model.Order) []model.Assignment {
	kind := detectAssignmentType(text)
	action := detectAction(text)

	matches := reFree.FindAllStringSubmatchIndex(text, -1)
	var out []model.Assignment

	for _, m := range matches {
		fio := text[m[2]:m[3]]
		birth := text[m[4]:m[5]]

		contextEnd := m[5] + 200
		if contextEnd > len(text) {
			contextEnd = len(text)
		}
		narrative := text[m[0]:contextEnd]

		category := e.searchRankInContext(narrative)
		sport, sportID := e.searchSportInContext(ctx, narrative)

		confidence := 0.5
		if category != "" {
			confidence = 0.7
		}

		a := model.Assignment{
			OrderID:              order.ID,
			FIO:                  strings.TrimSpace(fio),
			BirthDateRaw:         birth,
			AssignmentKind:       kind,
			RankCategory:         ranknorm.Normalize(category),
			RankCategoryOriginal: category,
			Action:               action,
			Sport:                sport,
			SportID:              sportID,
			Confidence:           confidence,
			ExtractorTag:         "rules:freetext",
		}
		if t, ok := validateBirthDate(birth, order.OrderDate); ok {
			a.BirthDate = &t
		}
		if category == "" {
			setExtra(&a, "needs_review", true)
		}
		out = append(out, a)
	}
	return out
}

func (e *Extractor) searchRankInContext(narrative string) string {
	normalized := ranknorm.Normalize(narrative)
	if normalized != strings.TrimSpace(narrative) {
		return narrative
	}
	return ""
}

// searchSportInContext probes word spans of the narrative through the
// sport normalizer, from each start word in turn and longest span first,
// accepting the first match at or above 0.80 confidence, mirroring the
// original's substring probe.
func (e *Extractor) searchSportInContext(ctx context.Context, narrative string) (string, string) {
	if e.sports == nil {
		return "", ""
	}
	words := strings.Fields(narrative)
	for start := 0; start < len(words); start++ {
		for end := len(words); end > start; end-- {
			candidate := strings.Join(words[start:end], " ")
			if len(candidate) < 3 {
				continue
			}
			r := e.sports.Normalize(ctx, candidate)
			if r.Confidence >= 0.80 {
				return r.CanonicalName, r.SportID
			}
		}
	}
	return "", ""
}

// postProcess ports _post_process: dedup by (fio, birth_date), drop short
// fio, fix OCR letter-gluing, drop header false positives, clamp
// confidence on invalid/suspicious dates.
func (e *Extractor) postProcess(assignments []model.Assignment, order model.Order) []model.Assignment {
	seen := make(map[string]struct{})
	out := make([]model.Assignment, 0, len(assignments))

	for _, a := range assignments {
		a.FIO = reOCRGlue.ReplaceAllString(a.FIO, "$1 $2")

		if len([]rune(strings.TrimSpace(a.FIO))) < 3 {
			continue
		}
		if reHeaderWord.MatchString(a.FIO) {
			continue
		}

		key := a.FIO + "|" + a.BirthDateRaw
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if a.BirthDateRaw != "" {
			if _, ok := validateDate(a.BirthDateRaw); !ok {
				setExtra(&a, "birth_date_suspicious", true)
				if a.Confidence > 0.6 {
					a.Confidence = 0.6
				}
			}
			if _, ok := validateBirthDate(a.BirthDateRaw, order.OrderDate); !ok {
				setExtra(&a, "birth_date_suspicious", true)
			}
		}

		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].FIO < out[j].FIO })
	return out
}
