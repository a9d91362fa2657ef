package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
	rpdf "rsc.io/pdf"
)

// Enricher is the optional text-understanding capability a scraper may
// call to pull a short summary and candidate line items out of a segment.
// Any failure means "no enrichment"; it never blocks the pipeline.
type Enricher interface {
	EnrichSegment(ctx context.Context, segment string) (*SegmentEnrichment, error)
}

// SegmentEnrichment is the best-effort structured reading of one segment.
type SegmentEnrichment struct {
	Summary string
	Items   []ItemCandidate
}

// ItemCandidate is one line item the enricher believes it saw.
type ItemCandidate struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
}

// BulletinScraper turns one gazette portal's daily bulletin into raw
// notice records. Every failure after the landing-page fetch degrades to
// a synthetic error-record; nothing escapes the component.
type BulletinScraper struct {
	Portal     PortalConfig
	Landing    Fetcher // portal HTML (colly, charset-aware)
	Documents  Fetcher // bulletin documents (rate-limited HTTP)
	Filter     *filter.Engine
	Strategies []SegmentStrategy
	Enricher   Enricher // nil = enrichment disabled
}

func NewBulletinScraper(portal PortalConfig, landing, documents Fetcher, termFilter *filter.Engine, enricher Enricher) *BulletinScraper {
	return &BulletinScraper{
		Portal:     portal,
		Landing:    landing,
		Documents:  documents,
		Filter:     termFilter,
		Strategies: DefaultSegmentStrategies(portal.CodeMarker),
		Enricher:   enricher,
	}
}

func (s *BulletinScraper) Name() string { return s.Portal.Name }

// FetchOpportunities implements Source.
func (s *BulletinScraper) FetchOpportunities(ctx context.Context, scope Scope) ([]RawRecord, error) {
	docURL, err := s.locateBulletin(ctx)
	if err != nil {
		log.Printf("[Scraper:%s] bulletin not located: %v", s.Portal.Name, err)
		return []RawRecord{s.errorRecord("locate: " + err.Error())}, nil
	}

	text, err := s.downloadText(ctx, docURL)
	if err != nil {
		log.Printf("[Scraper:%s] document unusable: %v", s.Portal.Name, err)
		return []RawRecord{s.errorRecord("download: " + err.Error())}, nil
	}

	segments, strategy := Segment(text, s.Strategies)
	log.Printf("[Scraper:%s] %d segments via %s", s.Portal.Name, len(segments), strategy)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	var out []RawRecord
	for _, segment := range segments {
		rec, ok := s.evaluateSegment(ctx, segment, docURL, today)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// evaluateSegment runs the gate chain on one fragment. Order matters: the
// open-notice gate runs before keyword filtering so that administrative
// acts (contract extracts, penalties, personnel) never reach the term
// filter, however many product keywords they contain.
func (s *BulletinScraper) evaluateSegment(ctx context.Context, segment, docURL string, today time.Time) (RawRecord, bool) {
	normalized := filter.Normalize(segment)

	if !IsOpenNotice(normalized) {
		return RawRecord{}, false
	}
	if res := s.Filter.Evaluate(normalized); !res.Included {
		return RawRecord{}, false
	}
	if IsAwarded(normalized) {
		return RawRecord{}, false
	}

	rec := RawRecord{
		Origin:       s.Portal.Name,
		Organization: ExtractOrganization(segment),
		RegionCode:   s.Portal.RegionCode,
		Modality:     DetectModality(normalized),
		PublishDate:  ExtractPublishDate(segment, today),
		ObjectText:   normalizeSpace(segment),
		SourceURL:    docURL,
		Items:        ExtractItems(segment),
	}

	if s.Enricher != nil {
		s.enrich(ctx, &rec, segment)
	}
	return rec, true
}

func (s *BulletinScraper) enrich(ctx context.Context, rec *RawRecord, segment string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	enriched, err := s.Enricher.EnrichSegment(ctx, segment)
	if err != nil {
		log.Printf("[Scraper:%s] enrichment skipped: %v", s.Portal.Name, err)
		return
	}
	rec.Summary = enriched.Summary
	if len(rec.Items) == 0 {
		for i, cand := range enriched.Items {
			rec.Items = append(rec.Items, itemFromCandidate(i+1, cand))
		}
	}
}

// locateBulletin finds the day's bulletin document URL on the landing
// page. Three fallbacks, strongest first: an explicit document link, a
// hidden form value some portals use for their download endpoint, and the
// cover-image URL with the image extension stripped.
func (s *BulletinScraper) locateBulletin(ctx context.Context) (string, error) {
	doc, err := s.Landing.Fetch(ctx, s.Portal.LandingURL)
	if err != nil {
		return "", fmt.Errorf("landing page: %w", err)
	}
	defer doc.Body.Close()

	page, err := goquery.NewDocumentFromReader(doc.Body)
	if err != nil {
		return "", fmt.Errorf("landing page parse: %w", err)
	}

	// 1. Explicit link to the document.
	var found string
	page.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		label := filter.Normalize(sel.Text())
		if strings.HasSuffix(strings.ToLower(href), ".pdf") ||
			strings.Contains(label, "edicao do dia") ||
			strings.Contains(label, "diario oficial") {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return s.resolve(found)
	}

	// 2. Hidden form value carrying the download target.
	if val, ok := page.Find(`input[type="hidden"][name="arquivo"], input[type="hidden"][name="edicao"]`).First().Attr("value"); ok && val != "" {
		return s.resolve(val)
	}

	// 3. Cover image named after the document; strip the extension.
	if src, ok := page.Find("img[src*='capa'], img[src*='edicao']").First().Attr("src"); ok && src != "" {
		for _, ext := range []string{".jpg", ".jpeg", ".png"} {
			if strings.HasSuffix(strings.ToLower(src), ext) {
				src = src[:len(src)-len(ext)] + ".pdf"
				break
			}
		}
		return s.resolve(src)
	}

	return "", fmt.Errorf("no document link, form value or cover image on %s", s.Portal.LandingURL)
}

func (s *BulletinScraper) resolve(ref string) (string, error) {
	base, err := url.Parse(s.Portal.LandingURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// downloadText fetches the bulletin and extracts all text. PDF first;
// HTML bulletins fall back to tag stripping.
func (s *BulletinScraper) downloadText(ctx context.Context, docURL string) (string, error) {
	doc, err := s.Documents.Fetch(ctx, docURL)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", fmt.Errorf("document read: %w", err)
	}

	if isPDF(doc.ContentType, content) {
		text, err := extractPDFText(content)
		if err != nil {
			return "", fmt.Errorf("pdf text extraction: %w", err)
		}
		return text, nil
	}
	return HTMLToText(string(content)), nil
}

func isPDF(contentType string, content []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return bytes.HasPrefix(content, []byte("%PDF"))
}

// extractPDFText walks every page. The parser panics on malformed
// documents, which gazettes produce regularly; the recover turns that
// into an ordinary error.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func (s *BulletinScraper) errorRecord(msg string) RawRecord {
	return RawRecord{Origin: s.Portal.Name, Err: msg}
}

func itemFromCandidate(seq int, cand ItemCandidate) models.Item {
	return models.Item{
		SequenceNumber: seq,
		Description:    normalizeSpace(cand.Description),
		Quantity:       cand.Quantity,
		Unit:           strings.ToUpper(cand.Unit),
	}
}
