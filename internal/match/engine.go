package match

import (
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
)

// Score bands. Containment beats full keyword overlap beats partial
// overlap; partial overlap is only trusted when the fuzzy token-set ratio
// backs it up.
const (
	scoreContainment = 95
	scoreFullOverlap = 90
	scoreHighOverlap = 80
	scoreFuzzyStrong = 75
	scoreFuzzyWeak   = 70
)

// Config carries the tunables the engine exposes. The cross-category
// penalty in particular is deliberately configurable: its default of 50
// is a working guess, not a verified constant.
type Config struct {
	AcceptThreshold      int
	CrossCategoryPenalty int
}

func DefaultConfig() Config {
	return Config{AcceptThreshold: 70, CrossCategoryPenalty: 50}
}

// domainVocabulary gates items into matching at all. An item whose text
// shares nothing with the clinical-lab domain scores zero against every
// product, no matter how generically its tokens overlap.
var domainVocabulary = []string{
	"laboratorio", "laboratorial", "hematologia", "bioquimica",
	"analisador", "reagente", "analises clinicas", "diagnostico",
	"hospitalar", "centrifuga", "microscopio", "coagulometro",
	"gasometria", "hemograma", "imunologia", "urinalise",
}

// equipmentHints classify a catalog product as equipment.
var equipmentHints = []string{
	"analisador", "equipamento", "aparelho", "centrifuga",
	"microscopio", "monitor", "contador", "agitador", "estufa",
}

// consumableHints classify item text as consumable/reagent territory.
var consumableHints = []string{
	"reagente", "insumo", "descartavel", "tira reagente", "luva",
	"frasco", "tubo de coleta", "lamina", "ponteira", "kit teste",
}

// Engine scores item text against the catalog. It is pure over text and
// configuration; verification against an external service lives in
// verify.go.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = 70
	}
	if cfg.CrossCategoryPenalty <= 0 {
		cfg.CrossCategoryPenalty = 50
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// FindMatches ranks catalog products against one item text. Results carry
// only positive scores, descending; ties keep catalog insertion order.
func (e *Engine) FindMatches(itemText string, catalog []models.CatalogProduct) []models.MatchResult {
	normalized := filter.Normalize(itemText)
	if normalized == "" || !PassesDomainGate(normalized) {
		return nil
	}

	itemTokens := tokenSet(normalized)
	var results []models.MatchResult
	for _, product := range catalog {
		score := e.scoreProduct(normalized, itemTokens, product)
		if score <= 0 {
			continue
		}
		results = append(results, models.MatchResult{Product: product, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func (e *Engine) scoreProduct(normalizedItem string, itemTokens map[string]bool, product models.CatalogProduct) int {
	name := filter.Normalize(product.Name)
	keywords := filter.NormalizeTerms(product.KeywordSet)
	representation := name
	if len(keywords) > 0 {
		representation = name + " " + strings.Join(keywords, " ")
	}

	score := 0
	switch {
	case name != "" && strings.Contains(normalizedItem, name):
		score = scoreContainment
	case containsAny(normalizedItem, keywords):
		score = scoreContainment
	default:
		overlap := keywordOverlap(itemTokens, keywords)
		switch {
		case overlap >= 1.0:
			score = scoreFullOverlap
		case overlap >= 0.8:
			score = scoreHighOverlap
		case overlap >= 0.6:
			ratio := fuzzy.TokenSetRatio(normalizedItem, representation)
			switch {
			case ratio >= 90:
				score = scoreFuzzyStrong
			case ratio >= 85:
				score = scoreFuzzyWeak
			}
		}
	}
	if score == 0 {
		return 0
	}

	// Equipment and consumables are not substitutable; naive token
	// overlap conflates "analisador hematológico" with "reagente para
	// analisador hematológico".
	if isEquipment(name, keywords) && readsAsConsumable(normalizedItem) {
		score -= e.cfg.CrossCategoryPenalty
	}
	return score
}

// PassesDomainGate reports whether normalized text carries at least one
// domain-context term.
func PassesDomainGate(normalizedText string) bool {
	for _, term := range domainVocabulary {
		if strings.Contains(normalizedText, term) {
			return true
		}
	}
	return false
}

func isEquipment(normalizedName string, keywords []string) bool {
	joined := normalizedName + " " + strings.Join(keywords, " ")
	for _, hint := range equipmentHints {
		if strings.Contains(joined, hint) {
			return true
		}
	}
	return false
}

func readsAsConsumable(normalizedItem string) bool {
	for _, hint := range consumableHints {
		if strings.Contains(normalizedItem, hint) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

// keywordOverlap is the fraction of keyword tokens present in the item
// token set. Only tokens of 3+ runes count; shorter ones are stopword
// noise in Portuguese.
func keywordOverlap(itemTokens map[string]bool, keywords []string) float64 {
	total := 0
	hit := 0
	for _, kw := range keywords {
		for _, tok := range strings.Fields(kw) {
			if len([]rune(tok)) < 3 {
				continue
			}
			total++
			if itemTokens[tok] {
				hit++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		set[tok] = true
	}
	return set
}

// SplitKeywordSet derives a product's keyword set from its raw
// comma-delimited keyword string plus the product name.
func SplitKeywordSet(keywords, name string) []string {
	parts := strings.Split(keywords, ",")
	parts = append(parts, name)
	return filter.NormalizeTerms(parts)
}
