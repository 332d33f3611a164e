package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const (
	confidenceNewUser = 1.0
	confidencePhoto   = 0.95
	confidenceMenu    = 0.95
	confidenceGeneral = 0.5
)

type intentPatterns struct {
	intent            domain.Intent
	phrases           []pattern
	phraseConfidence  float64
	keywords          []pattern
	keywordConfidence float64
}

type pattern struct {
	expr string
	re   *regexp.Regexp
}

var menuShortcuts = map[string]domain.Intent{
	"1": domain.IntentInvoiceUpload,
	"2": domain.IntentMonthlyClosure,
	"3": domain.IntentCMVQuery,
	"4": domain.IntentWatchlist,
}

// Iteration order breaks confidence ties.
var intentTable = []intentPatterns{
	{
		intent: domain.IntentInvoiceUpload,
		phrases: compilePatterns(
			`enviar\s+nota`,
			`processar\s+nota`,
			`recebi\s+uma?\s+nota`,
			`nova\s+nf`,
			`nota\s+do`,
			`nota\s+da`,
		),
		phraseConfidence: 0.92,
		keywords: compilePatterns(
			`\bnf\b`,
			`\bnota\s*fiscal\b`,
			`\bcupom\b`,
			`\brecibo\b`,
			`\bfatura\b`,
			`\bnota\b`,
			`\binvoice\b`,
		),
		keywordConfidence: 0.85,
	},
	{
		intent: domain.IntentMonthlyClosure,
		phrases: compilePatterns(
			`fechamento\s+(do\s+)?m[eê]s`,
			`quanto\s+faturou`,
			`receita\s+do\s+m[eê]s`,
			`relat[oó]rio\s+mensal`,
			`fechar\s+o\s+m[eê]s`,
		),
		phraseConfidence: 0.90,
		keywords: compilePatterns(
			`\bfechamento\b`,
			`\bfaturamento\b`,
			`\breceita\b`,
			`\brelat[oó]rio\b`,
			`\bfluxo\s+de\s+caixa\b`,
			`\bcashflow\b`,
			`\bresultado\s+do\s+m[eê]s\b`,
		),
		keywordConfidence: 0.82,
	},
	{
		intent: domain.IntentCMVQuery,
		phrases: compilePatterns(
			`custo\s+d[eo]\s+card[aá]pio`,
			`an[aá]lise\s+de\s+cmv`,
			`prato\s+mais\s+caro`,
			`cadastrar\s+prato`,
			`adicionar\s+ingrediente`,
			`food\s+cost`,
			`quanto\s+custa\s+o\s+prato`,
			`margem\s+de\s+contribui`,
			`ficha\s+t[eé]cnica`,
		),
		phraseConfidence: 0.90,
		keywords: compilePatterns(
			`\bcmv\b`,
			`\bfood\s*cost\b`,
			`\bcusto\s+do\s+prato\b`,
			`\bcard[aá]pio\b`,
			`\bingrediente\b`,
			`\breceita\b`,
			`\bmargem\b`,
			`\brentabilidade\b`,
		),
		keywordConfidence: 0.80,
	},
	{
		intent: domain.IntentWatchlist,
		phrases: compilePatterns(
			`acompanhar\s+pre[cç]o`,
			`alertar\s+quando`,
			`monitorar\s+pre[cç]o`,
			`lista\s+de\s+pre[cç]os`,
			`me\s+avise?\s+quando`,
			`observar\s+pre[cç]o`,
		),
		phraseConfidence: 0.90,
		keywords: compilePatterns(
			`\bacompanhar\b`,
			`\bmonitorar\b`,
			`\balertar?\b`,
			`\bwatchlist\b`,
			`\bobservar\b`,
			`\bvigia\b`,
			`\blista\s+de\s+acompanhamento\b`,
		),
		keywordConfidence: 0.82,
	},
}

// Word boundaries are Unicode-aware so that "nota" does not match inside "notação".
const (
	leadingBoundary  = `(?:^|[^\p{L}\p{N}_])`
	trailingBoundary = `(?:[^\p{L}\p{N}_]|$)`
)

func compilePatterns(exprs ...string) []pattern {
	out := make([]pattern, 0, len(exprs))
	for _, expr := range exprs {
		body := expr
		if strings.HasPrefix(body, `\b`) {
			body = leadingBoundary + strings.TrimPrefix(body, `\b`)
		}
		if strings.HasSuffix(body, `\b`) {
			body = strings.TrimSuffix(body, `\b`) + trailingBoundary
		}
		out = append(out, pattern{expr: expr, re: regexp.MustCompile(`(?i)` + body)})
	}
	return out
}

// IntentClassifier maps message text and session flags to an intent.
// It is stateless and safe for concurrent use.
type IntentClassifier struct {
	table []intentPatterns
}

func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{table: intentTable}
}

// Classify never fails: unmatched text is general with confidence 0.5.
func (c *IntentClassifier) Classify(text string, hasPhoto, isNewUser bool) domain.IntentResult {
	if isNewUser {
		return domain.IntentResult{Intent: domain.IntentOnboarding, Confidence: confidenceNewUser, Trigger: "new_user"}
	}
	if hasPhoto {
		return domain.IntentResult{Intent: domain.IntentInvoiceUpload, Confidence: confidencePhoto, Trigger: "photo"}
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if intent, ok := menuShortcuts[normalized]; ok {
		return domain.IntentResult{Intent: intent, Confidence: confidenceMenu, Trigger: "menu_" + normalized}
	}

	best := domain.IntentResult{Intent: domain.IntentGeneral, Confidence: confidenceGeneral}
	matched := false
	for _, entry := range c.table {
		confidence, trigger, ok := entry.match(normalized)
		if !ok {
			continue
		}
		if !matched || confidence > best.Confidence {
			best = domain.IntentResult{Intent: entry.intent, Confidence: confidence, Trigger: trigger}
			matched = true
		}
	}
	return best
}

// match tests phrases first; keywords only when no phrase matched.
func (p intentPatterns) match(text string) (float64, string, bool) {
	for _, pt := range p.phrases {
		if pt.re.MatchString(text) {
			return p.phraseConfidence, "phrase:" + pt.expr, true
		}
	}
	for _, pt := range p.keywords {
		if pt.re.MatchString(text) {
			return p.keywordConfidence, "keyword:" + pt.expr, true
		}
	}
	return 0, "", false
}
