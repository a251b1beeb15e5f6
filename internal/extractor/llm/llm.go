// Package llm implements the LLM-based Structured Extractor (C6): chunked
// calls to the Anthropic Messages API per
// original_source/llm_extractor.py, with the returned JSON validated
// against a schema before decoding into model.Assignment.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sportrank/ingest/internal/model"
)

// chunkSizeChars mirrors CHUNK_SIZE_CHARS: conservative for an ~200k
// token context window, leaving headroom for the prompt itself.
const chunkSizeChars = 120_000

const systemPrompt = `Ты — парсер официальных российских приказов о присвоении спортивных разрядов и квалификационных категорий.

Твоя задача: извлечь ВСЕ записи из документа и вернуть JSON-массив.
Каждый элемент массива — одно присвоение, подтверждение, отказ или лишение.

ВАЖНО:
- Верни ТОЛЬКО валидный JSON-массив. Без markdown-блоков, без пояснений.
- Первый символ ответа должен быть '[', последний — ']'.`

const extractionPromptTmpl = `Документ (текст из PDF):
---
%s
---

Метаданные документа:
  Орган: %s
  Дата: %s
  Номер: %s

Извлеки все записи и верни JSON-массив. Каждый элемент должен иметь поля:
fio, birth_date, ias_id, submission_number, assignment_type, rank_category,
sport, sport_original, action, extra_fields.`

// responseSchema validates the shape the prompt demands, mirroring the
// teacher's schema-before-unmarshal pattern for untrusted model JSON
// (core/pkg/manifest/validate_tool_args.go).
const responseSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["fio", "rank_category"],
    "properties": {
      "fio": {"type": "string", "minLength": 1},
      "birth_date": {"type": ["string", "null"]},
      "ias_id": {"type": ["integer", "string", "null"]},
      "submission_number": {"type": ["string", "null"]},
      "assignment_type": {"type": "string"},
      "rank_category": {"type": "string", "minLength": 1},
      "sport": {"type": ["string", "null"]},
      "sport_original": {"type": ["string", "null"]},
      "action": {"type": "string"},
      "extra_fields": {"type": ["object", "null"]}
    }
  }
}`

var (
	reMarkdownFenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	reMarkdownFenceClose = regexp.MustCompile("\\s*```$")
	reTrailingG          = regexp.MustCompile(`\s*г\.$`)
	reDateSeparator      = regexp.MustCompile(`[-/]`)
	reDateDMY            = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	reDateYMD            = regexp.MustCompile(`^(\d{4})\.(\d{2})\.(\d{2})$`)
	reLeadingPunct       = regexp.MustCompile(`^[-.,;:]+\s*`)
	reTrailingPunct      = regexp.MustCompile(`\s*[-.,;:]+$`)
	reWhitespace         = regexp.MustCompile(`\s+`)
)

// item is the raw shape of one array element in the model's response,
// decoded before validation into an model.Assignment.
type item struct {
	FIO              string         `json:"fio"`
	BirthDate        *string        `json:"birth_date"`
	IASID            json.Number    `json:"ias_id"`
	SubmissionNumber *string        `json:"submission_number"`
	AssignmentType   string         `json:"assignment_type"`
	RankCategory     string         `json:"rank_category"`
	Sport            *string        `json:"sport"`
	SportOriginal    *string        `json:"sport_original"`
	Action           string         `json:"action"`
	ExtraFields      map[string]any `json:"extra_fields"`
}

// Extractor calls the Anthropic Messages API to extract assignments from
// order text, chunking long documents and validating every response
// against responseSchema before decoding.
type Extractor struct {
	client *anthropic.Client
	model  anthropic.Model
	schema *jsonschema.Schema
}

// New builds an Extractor. model defaults to the fast Haiku tier used by
// the original implementation when empty.
func New(apiKey string, modelName string) (*Extractor, error) {
	if modelName == "" {
		modelName = "claude-haiku-4-5-20251001"
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(responseSchemaJSON)); err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	client := anthropic.NewClient(anthropic.WithAPIKey(apiKey))
	return &Extractor{client: &client, model: anthropic.Model(modelName), schema: schema}, nil
}

// Extract runs the chunked extraction, returning every parsed
// model.Assignment across all chunks. A malformed chunk response is
// skipped rather than aborting the whole order, and within a chunk a
// record that fails schema validation is dropped on its own, matching the
// original's per-item tolerance.
func (e *Extractor) Extract(ctx context.Context, text string, order model.Order) ([]model.Assignment, error) {
	chunks := splitChunks(text, chunkSizeChars)

	var all []model.Assignment
	for _, chunk := range chunks {
		raw, err := e.callAPI(ctx, chunk, order)
		if err != nil {
			return all, fmt.Errorf("llm extract: %w", err)
		}
		rows, err := e.parseResponse(raw)
		if err != nil {
			continue // a malformed chunk is skipped, not fatal
		}
		for _, it := range rows {
			a, ok := itemToAssignment(it, order)
			if ok {
				all = append(all, a)
			}
		}
	}
	return all, nil
}

func splitChunks(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		cut := strings.LastIndex(text[start:end], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[start:end], "\n")
		}
		if cut <= 0 {
			cut = end - start
		}
		cut += start
		chunks = append(chunks, text[start:cut])
		start = cut + 1
	}
	return chunks
}

func (e *Extractor) callAPI(ctx context.Context, chunk string, order model.Order) (string, error) {
	prompt := fmt.Sprintf(extractionPromptTmpl, chunk, order.SourceCode, order.OrderDate.Format("02.01.2006"), order.OrderNumber)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// parseResponse strips markdown fences, locates the outer JSON array, and
// validates each element against the schema before unmarshaling it;
// elements that fail validation are skipped.
func (e *Extractor) parseResponse(raw string) ([]item, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = reMarkdownFenceOpen.ReplaceAllString(cleaned, "")
	cleaned = reMarkdownFenceClose.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("llm response is not a JSON array")
	}
	jsonStr := cleaned[start : end+1]

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &rawItems); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	var items []item
	for _, ri := range rawItems {
		var v any
		if err := json.Unmarshal(ri, &v); err != nil {
			continue
		}
		if err := e.schema.Validate([]any{v}); err != nil {
			continue
		}
		var it item
		if err := json.Unmarshal(ri, &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func itemToAssignment(it item, order model.Order) (model.Assignment, bool) {
	fio := cleanFIO(it.FIO)
	if fio == "" {
		return model.Assignment{}, false
	}
	rankCategory := strings.TrimSpace(it.RankCategory)
	if rankCategory == "" {
		return model.Assignment{}, false
	}

	kind := model.AssignmentKind(it.AssignmentType)
	switch kind {
	case model.KindSportRank, model.KindJudgeCategory, model.KindSpecialistCategory, model.KindCoachCategory, model.KindHonoraryTitle:
	default:
		kind = model.KindSportRank
	}

	action := model.ActionType(it.Action)
	switch action {
	case model.ActionAssignment, model.ActionConfirmation, model.ActionRefusal, model.ActionRevocation, model.ActionRestoration:
	default:
		action = model.ActionAssignment
	}

	a := model.Assignment{
		OrderID:              order.ID,
		FIO:                  fio,
		AssignmentKind:       kind,
		RankCategory:         rankCategory,
		RankCategoryOriginal: rankCategory,
		Action:               action,
		ExtractorTag:         "llm",
		Confidence:           0.9,
	}

	if it.BirthDate != nil {
		if norm, ok := normalizeDate(*it.BirthDate); ok {
			a.BirthDateRaw = norm
			if t, ok := parseDMY(norm); ok {
				a.BirthDate = &t
			}
		}
	}

	if n, err := it.IASID.Int64(); err == nil && n != 0 {
		a.IASID = strconv.FormatInt(n, 10)
	}

	if it.SubmissionNumber != nil {
		s := strings.TrimSpace(*it.SubmissionNumber)
		if s != "" {
			a.SubmissionNumber = s
		}
	}

	if it.Sport != nil {
		a.Sport = strings.TrimSpace(*it.Sport)
	}
	if it.SportOriginal != nil && a.Sport != strings.TrimSpace(*it.SportOriginal) {
		a.SportOriginal = strings.TrimSpace(*it.SportOriginal)
	}

	extras := make(map[string]any)
	for k, v := range it.ExtraFields {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		extras[k] = v
	}
	if a.BirthDate != nil && order.OrderDate.Year()-a.BirthDate.Year() < 5 {
		extras["birth_date_suspicious"] = true
	}
	if len(extras) > 0 {
		a.Extras = extras
	}

	return a, true
}

func cleanFIO(fio string) string {
	if fio == "" {
		return ""
	}
	cleaned := strings.TrimSpace(fio)
	cleaned = reLeadingPunct.ReplaceAllString(cleaned, "")
	cleaned = reTrailingPunct.ReplaceAllString(cleaned, "")
	cleaned = reWhitespace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func normalizeDate(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	s := strings.TrimSpace(raw)
	s = reTrailingG.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = reDateSeparator.ReplaceAllString(s, ".")

	if reDateDMY.MatchString(s) {
		return s, true
	}
	if m := reDateYMD.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s.%s.%s", m[3], m[2], m[1]), true
	}
	return "", false
}

func parseDMY(s string) (time.Time, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	d, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
}
