// Package ranknorm implements the pure-function rank/title normalizer (C3):
// it maps free-form rank and category strings to the canonical vocabulary
// of the national classifier (EVSK).
package ranknorm

import (
	"regexp"
	"strings"
)

type rankPattern struct {
	re         *regexp.Regexp
	canonical  string // empty means "dynamic" — resolved by specialistLevel
}

// patterns is deliberately an ordered slice, not a map: Go map iteration
// order is unspecified, and the normalizer depends on trying more-specific
// patterns first — youth ranks before adult ranks, and Roman III/II before
// I, since "I" would otherwise match as a prefix inside "II".
var patterns = buildPatterns()

var specialistLevelRe = regexp.MustCompile(`(?i)(высшей|первой|второй)\s*квалификационной\s*категории`)

func mustCompile(pattern string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + pattern)
}

func buildPatterns() []rankPattern {
	return []rankPattern{
		// Спортивные звания (ЕВСК)
		{mustCompile(`(?:заслуж\w*\s+мастер\s+спорта|ЗМС)(?:[^\p{L}\p{N}_]|$)`), "заслуженный мастер спорта россии"},
		{mustCompile(`(?:мастер\s+спорта\s+(?:России\s+)?международного\s+класса|МСМК)(?:[^\p{L}\p{N}_]|$)`), "мастер спорта россии международного класса"},
		{mustCompile(`(?:гроссмейстер(?:\s+России)?|ГМ|ГМР)(?:[^\p{L}\p{N}_]|$)`), "гроссмейстер россии"},
		{mustCompile(`(?:кандидат\s+в\s+мастера\s+спорта|КМС)(?:[^\p{L}\p{N}_]|$)`), "кандидат в мастера спорта"},
		{mustCompile(`(?:мастер\s+спорта(?:\s+России)?|МС)(?:[^\p{L}\p{N}_]|$)`), "мастер спорта россии"},

		// Почётные спортивные звания
		{mustCompile(`(?:заслуж\w*\s+тренер\s+России|ЗТР)(?:[^\p{L}\p{N}_]|$)`), "заслуженный тренер россии"},
		{mustCompile(`почетн\w*\s+спортивн\w*\s+судь\w*\s+России`), "почетный спортивный судья россии"},
		{mustCompile(`почетн\w*\s+мастер\w*\s+спорта\s+России`), "почетный мастер спорта россии"},
		{mustCompile(`почетн\w*\s+тренер\w*\s+России`), "почетный тренер россии"},

		// Юношеские спортивные разряды — III..I, длинные варианты перед короткими
		{mustCompile(`(?:третий|3|III)\s*(?:-й)?\s*(?:юношеский\s+)?(?:юношеский\s+)?(?:спортивный\s+)?разряд\s*\(?\s*юнош`), "третий юношеский спортивный разряд"},
		{mustCompile(`(?:второй|2|II)\s*(?:-й)?\s*(?:юношеский\s+)?(?:юношеский\s+)?(?:спортивный\s+)?разряд\s*\(?\s*юнош`), "второй юношеский спортивный разряд"},
		{mustCompile(`(?:первый|1|I)\s*(?:-й)?\s*(?:юношеский\s+)?(?:юношеский\s+)?(?:спортивный\s+)?разряд\s*\(?\s*юнош`), "первый юношеский спортивный разряд"},
		{mustCompile(`(?:третий|3)\s+юношеский\s+(?:спортивный\s+)?разряд`), "третий юношеский спортивный разряд"},
		{mustCompile(`(?:второй|2)\s+юношеский\s+(?:спортивный\s+)?разряд`), "второй юношеский спортивный разряд"},
		{mustCompile(`(?:первый|1)\s+юношеский\s+(?:спортивный\s+)?разряд`), "первый юношеский спортивный разряд"},
		{mustCompile(`\bIII\s+юнош`), "третий юношеский спортивный разряд"},
		{mustCompile(`\bII\s+юнош`), "второй юношеский спортивный разряд"},
		{mustCompile(`\bI\s+юнош`), "первый юношеский спортивный разряд"},

		// Спортивные разряды — III/II перед I, иначе I матчится как подстрока II
		{mustCompile(`(?:третий|3)\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "третий спортивный разряд"},
		{mustCompile(`(?:второй|2)\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "второй спортивный разряд"},
		{mustCompile(`(?:первый|1)\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "первый спортивный разряд"},
		{mustCompile(`\bIII\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "третий спортивный разряд"},
		{mustCompile(`\bII\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "второй спортивный разряд"},
		{mustCompile(`\bI\s*(?:-й)?\s*(?:спортивный\s+)?разряд`), "первый спортивный разряд"},

		// Квалификационные категории спортивных судей
		{mustCompile(`[Сс]портивный\s+судья\s+всеросс\w*\s*\n?\s*категории`), "спортивный судья всероссийской категории"},
		{mustCompile(`[Сс]портивный\s+судья\s+первой\s*\n?\s*категории`), "спортивный судья первой категории"},
		{mustCompile(`[Сс]портивный\s+судья\s+второй\s*\n?\s*категории`), "спортивный судья второй категории"},
		{mustCompile(`[Сс]портивный\s+судья\s+третьей\s*\n?\s*категории`), "спортивный судья третьей категории"},
		{mustCompile(`[Юю]ный\s+спортивный\s+судья`), "юный спортивный судья"},

		// Квалификационные категории специалистов — dynamic, resolved below
		{mustCompile(`[Сс]пециалист\s+(?:высшей|первой|второй)\s*\n?\s*квалификационной\s*\n?\s*категории`), ""},
	}
}

var glueContinuation = regexp.MustCompile(`\s*\n\s*`)

// Normalize maps a free-form rank/title string to its canonical form. It
// returns the trimmed input unchanged if no pattern matches. "ё" is
// replaced with "е" before matching, the patterns are case-insensitive, and
// runs of whitespace are accepted by their \s separators; multi-line
// categories (a category split across two PDF lines) are joined first.
func Normalize(freeText string) string {
	joined := strings.TrimSpace(glueContinuation.ReplaceAllString(freeText, " "))
	if joined == "" {
		return ""
	}
	folded := strings.NewReplacer("ё", "е", "Ё", "Е").Replace(joined)

	for _, p := range patterns {
		if p.re.MatchString(folded) {
			if p.canonical != "" {
				return p.canonical
			}
			if m := specialistLevelRe.FindStringSubmatch(folded); m != nil {
				return "специалист " + strings.ToLower(m[1]) + " квалификационной категории"
			}
		}
	}
	return joined
}
