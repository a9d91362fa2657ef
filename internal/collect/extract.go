package collect

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

// Markers that prove a segment is an open bidding notice and not some
// other administrative act that happens to mention a product. Checked
// against normalized text, before any keyword filtering.
var openNoticeMarkers = []string{
	"aviso de licitacao",
	"pregao eletronico",
	"aviso de dispensa",
	"dispensa de licitacao",
	"chamada publica",
	"tomada de precos",
	"concorrencia publica",
	"edital de licitacao",
}

// Markers of past-tense award records. Segments carrying these describe a
// decided process, not an open opportunity.
var awardedMarkers = []string{
	"contratado:",
	"contratada:",
	"vencedor:",
	"vencedora:",
	"homologo e adjudico",
	"extrato de contrato",
	"termo de homologacao",
	"resultado de julgamento",
}

// Organization name patterns, ordered most to least specific. First match
// wins.
var orgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(prefeitura\s+municipal\s+d[aeo]s?\s+[^\n,;–-]{3,60})`),
	regexp.MustCompile(`(?i)(c[aâ]mara\s+municipal\s+d[aeo]s?\s+[^\n,;–-]{3,60})`),
	regexp.MustCompile(`(?i)(secretaria\s+(?:municipal|estadual)\s+d[aeo]s?\s+[^\n,;–-]{3,60})`),
	regexp.MustCompile(`(?i)(funda[cç][aã]o\s+[^\n,;–-]{3,60})`),
	regexp.MustCompile(`(?i)(consórcio\s+[^\n,;–-]{3,60}|consorcio\s+[^\n,;–-]{3,60})`),
}

var bulletinDateRe = regexp.MustCompile(`\b(\d{1,2})\s+de\s+(janeiro|fevereiro|mar[cç]o|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\s+de\s+(20\d{2})\b`)

var monthsPT = map[string]time.Month{
	"janeiro": time.January, "fevereiro": time.February, "marco": time.March,
	"março": time.March, "abril": time.April, "maio": time.May,
	"junho": time.June, "julho": time.July, "agosto": time.August,
	"setembro": time.September, "outubro": time.October,
	"novembro": time.November, "dezembro": time.December,
}

// IsOpenNotice gates a segment on the presence of an open-bidding marker.
func IsOpenNotice(normalizedText string) bool {
	for _, m := range openNoticeMarkers {
		if strings.Contains(normalizedText, m) {
			return true
		}
	}
	return false
}

// IsAwarded reports whether a segment reads as an already-decided award.
func IsAwarded(normalizedText string) bool {
	for _, m := range awardedMarkers {
		if strings.Contains(normalizedText, m) {
			return true
		}
	}
	return false
}

// ExtractOrganization returns the first organizational-entity name found,
// cleaned up, or "" when none of the patterns match.
func ExtractOrganization(text string) string {
	for _, re := range orgPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return normalizeSpace(m[1])
		}
	}
	return ""
}

// DetectModality classifies a segment by modality keywords.
func DetectModality(normalizedText string) models.Modality {
	switch {
	case strings.Contains(normalizedText, "dispensa emergencial") ||
		strings.Contains(normalizedText, "carater emergencial"):
		return models.ModalityEmergencyAward
	case strings.Contains(normalizedText, "dispensa"):
		return models.ModalityDirectAward
	case strings.Contains(normalizedText, "pregao") ||
		strings.Contains(normalizedText, "concorrencia") ||
		strings.Contains(normalizedText, "tomada de precos"):
		return models.ModalityOpenTender
	}
	return models.ModalityOther
}

// ExtractPublishDate finds a written-out Portuguese date in the segment.
// Bulletin segments rarely carry machine dates; the long form in the
// signature block is the most reliable one.
func ExtractPublishDate(text string, fallback time.Time) time.Time {
	m := bulletinDateRe.FindStringSubmatch(filter.Normalize(text))
	if m == nil {
		return fallback
	}
	day := atoiSafe(m[1])
	month, ok := monthsPT[m[2]]
	year := atoiSafe(m[3])
	if !ok || day < 1 || day > 31 || year == 0 {
		return fallback
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

var itemLineRe = regexp.MustCompile(`(?im)^\s*(?:item\s*)?(\d{1,3})\s*[-–.)]\s*(.{10,200}?)\s*[-–]\s*(\d+(?:[.,]\d+)?)\s*(un|und|unid|unidade|cx|caixa|kit|frasco|litro|ml|pct)\b`)

// ExtractItems heuristically parses enumerated line items out of a notice
// segment. Most bulletins do not enumerate items; an empty result is the
// common case and not an error.
func ExtractItems(text string) []models.Item {
	matches := itemLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	items := make([]models.Item, 0, len(matches))
	for _, m := range matches {
		items = append(items, models.Item{
			SequenceNumber: atoiSafe(m[1]),
			Description:    normalizeSpace(m[2]),
			Quantity:       parseDecimal(m[3]),
			Unit:           strings.ToUpper(m[4]),
		})
	}
	return items
}

// normalizeSpace collapses runs of whitespace and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

var htmlPolicy = bluemonday.UGCPolicy()

// HTMLToText converts portal HTML to plain text, stripping unsafe markup
// first. Falls back to the raw string if parsing fails.
func HTMLToText(html string) string {
	clean := htmlPolicy.Sanitize(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return html
	}
	return normalizeSpace(doc.Text())
}
