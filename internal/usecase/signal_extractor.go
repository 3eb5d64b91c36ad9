package usecase

import (
	"fmt"
	"html"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shelfsignal/backend/internal/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Extraction defaults
const (
	DefaultUpliftPercent = 10
	DefaultMinSalesCount = 1
	DefaultMaxSalesCount = 50_000_000
)

// Rule names, in default priority order
const (
	RuleOpenPrefix   = "open_prefix"
	RulePlusPrefix   = "plus_prefix"
	RulePlusSuffix   = "plus_suffix"
	RuleCountKeyword = "count_keyword"
	RuleKeywordCount = "keyword_count"
)

// Exclusion names
const (
	ExclusionPrice        = "price"
	ExclusionIdentifier   = "identifier"
	ExclusionReview       = "review"
	ExclusionLogistics    = "logistics"
	ExclusionLongDigitRun = "long_digit_run"
)

// Pattern fragments. Input is lowercased and accent-folded before matching.
const (
	numberFragment     = `(?P<num>\d+(?:[.,]\d+)*)`
	multiplierFragment = `(?:\s*(?P<mult>milhoes|milhao|millones|millon|millions|million|thousand|miles|mil|mm|k|m)\b)?`
	keywordFragment    = `(?:vendid[oa]s?|vendas?|compras?|comprad[oa]s?|compraram|ventas?|sold|bought|purchases?|purchased|orders?)\b`
)

// signalRule is one entry of the priority-ordered pattern bank.
// openBound marks phrasings that state a lower bound ("mais de", "+").
type signalRule struct {
	name      string
	pattern   *regexp.Regexp
	openBound bool
}

var signalRules = map[string]signalRule{
	RuleOpenPrefix: {
		name: RuleOpenPrefix,
		pattern: regexp.MustCompile(`\b(?:mais de|acima de|more than|over|mas de)\s+` +
			numberFragment + multiplierFragment + `\s*\+?\s*(?:de\s+)?` + keywordFragment),
		openBound: true,
	},
	RulePlusPrefix: {
		name:      RulePlusPrefix,
		pattern:   regexp.MustCompile(`(?:^|[^\w+])\+\s*(?:de\s+)?` + numberFragment + multiplierFragment + `\s*(?:de\s+)?` + keywordFragment),
		openBound: true,
	},
	RulePlusSuffix: {
		name:      RulePlusSuffix,
		pattern:   regexp.MustCompile(`\b` + numberFragment + multiplierFragment + `\s*\+\s*` + keywordFragment),
		openBound: true,
	},
	RuleCountKeyword: {
		name:    RuleCountKeyword,
		pattern: regexp.MustCompile(`\b` + numberFragment + multiplierFragment + `\s*(?:de\s+)?` + keywordFragment),
	},
	RuleKeywordCount: {
		name:    RuleKeywordCount,
		pattern: regexp.MustCompile(`\b` + keywordFragment + `\s*:\s*` + numberFragment + multiplierFragment),
	},
}

// DefaultRuleOrder evaluates multi-token phrasings before generic number+keyword ones
var DefaultRuleOrder = []string{
	RuleOpenPrefix,
	RulePlusPrefix,
	RulePlusSuffix,
	RuleCountKeyword,
	RuleKeywordCount,
}

// exclusionRule forces "no signal" whenever it matches, regardless of a positive match
type exclusionRule struct {
	name    string
	pattern *regexp.Regexp
}

var exclusionRules = []exclusionRule{
	{
		name:    ExclusionPrice,
		pattern: regexp.MustCompile(`r\$|us\$|\$|€|£|\b(?:reais|preco|precio|price|usd|brl|eur|euros?|dolares|dollars?)\b`),
	},
	{
		name:    ExclusionIdentifier,
		pattern: regexp.MustCompile(`\b(?:sku|id|cod|codigo|code|modelo|model|ref|referencia|asin|ean|gtin|upc|serial|part)\b|#\s*\d`),
	},
	{
		name:    ExclusionReview,
		pattern: regexp.MustCompile(`\b(?:avaliac\w*|review\w*|resenas?|opinio\w*|opiniones|rating\w*|estrelas?|stars?|calificacion\w*|classificac\w*|comentarios?)\b`),
	},
	{
		name: ExclusionLogistics,
		pattern: regexp.MustCompile(`\b(?:frete|envio|entrega|shipping|delivery|ships|garantia|warranty|peso|weight)\b|` +
			`\b\d+(?:[.,]\d+)?\s*(?:kg|g|gramas?|grams?|lbs?|oz|ml|litros?|liters?)\b`),
	},
	{
		name:    ExclusionLongDigitRun,
		pattern: regexp.MustCompile(`\d{8,}`),
	},
}

// multipliers maps suffix words to their factor
var multipliers = map[string]float64{
	"mil":      1_000,
	"k":        1_000,
	"thousand": 1_000,
	"miles":    1_000,
	"milhao":   1_000_000,
	"milhoes":  1_000_000,
	"million":  1_000_000,
	"millions": 1_000_000,
	"millon":   1_000_000,
	"millones": 1_000_000,
	"m":        1_000_000,
	"mm":       1_000_000,
}

var (
	markupRegex     = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ExtractorConfig holds configuration for the sales-signal extractor
type ExtractorConfig struct {
	UpliftPercent      int
	MinCount           int64
	MaxCount           int64
	RuleOrder          []string
	EnableDebugLogging bool
}

// SignalExtractor turns marketplace listing text into a sales count.
// It only recognizes a closed set of phrasings and prefers returning
// no signal over guessing.
type SignalExtractor struct {
	rules              []signalRule
	upliftPercent      int64
	minCount           int64
	maxCount           int64
	enableDebugLogging bool
}

// NewSignalExtractor creates an extractor. Zero values fall back to the
// canonical constants; impossible limits are rejected.
func NewSignalExtractor(config ExtractorConfig) (*SignalExtractor, error) {
	if config.UpliftPercent < 0 || config.UpliftPercent > 100 {
		return nil, fmt.Errorf("%w: uplift percent %d", domain.ErrInvalidConfig, config.UpliftPercent)
	}
	if config.MinCount < 0 || config.MaxCount < 0 {
		return nil, fmt.Errorf("%w: negative plausibility window [%d, %d]", domain.ErrInvalidConfig, config.MinCount, config.MaxCount)
	}

	uplift := config.UpliftPercent
	if uplift == 0 {
		uplift = DefaultUpliftPercent
	}
	minCount := config.MinCount
	if minCount == 0 {
		minCount = DefaultMinSalesCount
	}
	maxCount := config.MaxCount
	if maxCount == 0 {
		maxCount = DefaultMaxSalesCount
	}
	if maxCount < minCount {
		return nil, fmt.Errorf("%w: plausibility window [%d, %d]", domain.ErrInvalidConfig, minCount, maxCount)
	}

	order := config.RuleOrder
	if len(order) == 0 {
		order = DefaultRuleOrder
	}
	rules := make([]signalRule, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		rule, ok := signalRules[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown signal rule %q", domain.ErrInvalidConfig, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate signal rule %q", domain.ErrInvalidConfig, name)
		}
		seen[name] = true
		rules = append(rules, rule)
	}

	return &SignalExtractor{
		rules:              rules,
		upliftPercent:      int64(uplift),
		minCount:           minCount,
		maxCount:           maxCount,
		enableDebugLogging: config.EnableDebugLogging,
	}, nil
}

// RuleNames returns the rule names in evaluation order
func (e *SignalExtractor) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}

// HasSignal reports whether text carries a number next to a sales keyword
// and trips none of the exclusion filters.
func (e *SignalExtractor) HasSignal(text string) bool {
	normalized := normalizeSignalText(text)
	if normalized == "" {
		return false
	}
	if _, ok := e.firstMatch(normalized); !ok {
		return false
	}
	return matchExclusion(normalized) == ""
}

// ExtractCount returns the sales count in text, or 0 when there is no reliable signal
func (e *SignalExtractor) ExtractCount(text string) int64 {
	return e.Extract(text).Count
}

// Extract parses text into a typed result. It never fails; every rejection
// is reported through the result's Outcome.
func (e *SignalExtractor) Extract(text string) domain.SignalResult {
	normalized := normalizeSignalText(text)
	if normalized == "" {
		return domain.SignalResult{Outcome: domain.SignalEmpty}
	}

	winner, ok := e.firstMatch(normalized)
	if !ok {
		return domain.SignalResult{Outcome: domain.SignalNoMatch}
	}

	result := domain.SignalResult{
		Rule:       winner.rule.name,
		OpenBound:  winner.rule.openBound,
		Candidates: e.countMatches(normalized),
	}
	if result.Candidates > 1 && e.enableDebugLogging {
		log.Printf("[EXTRACT] %d rules matched %q, %s wins by priority", result.Candidates, normalized, winner.rule.name)
	}

	if exclusion := matchExclusion(normalized); exclusion != "" {
		if e.enableDebugLogging {
			log.Printf("[EXTRACT] %q excluded by %s", normalized, exclusion)
		}
		result.Outcome = domain.SignalExcluded
		result.Exclusion = exclusion
		return result
	}

	value, err := parseLocaleNumber(winner.number)
	if err != nil {
		if e.enableDebugLogging {
			log.Printf("[EXTRACT] unparseable number %q in %q: %v", winner.number, normalized, err)
		}
		result.Outcome = domain.SignalUnparseable
		return result
	}

	if factor, ok := multipliers[winner.multiplier]; ok {
		value *= factor
	} else if value != math.Trunc(value) {
		if e.enableDebugLogging {
			log.Printf("[EXTRACT] fractional count %q without multiplier in %q", winner.number, normalized)
		}
		result.Outcome = domain.SignalUnparseable
		return result
	}
	if value > float64(math.MaxInt64/200) {
		result.Outcome = domain.SignalOutOfRange
		return result
	}

	count := int64(math.Round(value))
	if winner.rule.openBound {
		count = count * (100 + e.upliftPercent) / 100
	}

	if count < e.minCount || count > e.maxCount {
		if e.enableDebugLogging {
			log.Printf("[EXTRACT] %d outside [%d, %d] for %q", count, e.minCount, e.maxCount, normalized)
		}
		result.Outcome = domain.SignalOutOfRange
		return result
	}

	result.Count = count
	result.Outcome = domain.SignalFound
	if e.enableDebugLogging {
		log.Printf("[EXTRACT] %q -> %d (rule %s)", normalized, count, winner.rule.name)
	}
	return result
}

type ruleMatch struct {
	rule       signalRule
	number     string
	multiplier string
}

// firstMatch returns the highest-priority rule matching normalized text
func (e *SignalExtractor) firstMatch(normalized string) (ruleMatch, bool) {
	for _, rule := range e.rules {
		sub := rule.pattern.FindStringSubmatch(normalized)
		if sub == nil {
			continue
		}
		m := ruleMatch{rule: rule}
		if i := rule.pattern.SubexpIndex("num"); i >= 0 {
			m.number = sub[i]
		}
		if i := rule.pattern.SubexpIndex("mult"); i >= 0 {
			m.multiplier = sub[i]
		}
		return m, true
	}
	return ruleMatch{}, false
}

func (e *SignalExtractor) countMatches(normalized string) int {
	n := 0
	for _, rule := range e.rules {
		if rule.pattern.MatchString(normalized) {
			n++
		}
	}
	return n
}

// matchExclusion returns the name of the first exclusion filter that hits, or ""
func matchExclusion(normalized string) string {
	for _, ex := range exclusionRules {
		if ex.pattern.MatchString(normalized) {
			return ex.name
		}
	}
	return ""
}

// normalizeSignalText unescapes entities, strips markup, lowercases,
// folds accents and collapses whitespace.
func normalizeSignalText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	s := html.UnescapeString(text)
	s = markupRegex.ReplaceAllString(s, " ")
	s = strings.ToLower(s)

	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(folder, s); err == nil {
		s = folded
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// parseLocaleNumber reads a number written with either the "1.234,5" or the
// "1,234.5" convention. With both separators the last one is decimal; a single
// separator followed by exactly three digits groups thousands.
func parseLocaleNumber(s string) (float64, error) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots == 0 && commas == 0:
	case dots > 0 && commas > 0:
		thousands, decimal := ".", ","
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			thousands, decimal = ",", "."
		}
		if strings.Count(s, decimal) > 1 {
			return 0, fmt.Errorf("decimal separator %q repeated", decimal)
		}
		s = strings.ReplaceAll(s, thousands, "")
		s = strings.Replace(s, decimal, ".", 1)
	case dots > 1 || commas > 1:
		s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", "")
	default:
		idx := strings.IndexAny(s, ".,")
		if len(s)-idx-1 == 3 {
			s = s[:idx] + s[idx+1:]
		} else {
			s = s[:idx] + "." + s[idx+1:]
		}
	}

	return strconv.ParseFloat(s, 64)
}
