package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/marcelo/licita-radar/internal/models"
)

// Modality codes used by the registry API.
var registryModalityCodes = map[models.Modality]string{
	models.ModalityOpenTender:     "6",
	models.ModalityDirectAward:    "8",
	models.ModalityEmergencyAward: "9",
}

// RegistryClient pages through the national procurement registry
// (PNCP-style consultation API) for every (modality, region) pair in
// scope. It never persists anything; failures degrade to page- or
// record-level skips.
type RegistryClient struct {
	Fetcher  Fetcher
	BaseURL  string
	PageSize int
	MaxPages int
}

func NewRegistryClient(fetcher Fetcher, cfg RegistryAPI) *RegistryClient {
	return &RegistryClient{
		Fetcher:  fetcher,
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		PageSize: cfg.PageSize,
		MaxPages: cfg.MaxPages,
	}
}

func (c *RegistryClient) Name() string { return "pncp" }

// registryPage matches the consultation endpoint response shape.
type registryPage struct {
	Data         []json.RawMessage `json:"data"`
	TotalPaginas int               `json:"totalPaginas"`
	Empty        bool              `json:"empty"`
}

type registryRecord struct {
	NumeroControle string `json:"numeroControlePNCP"`
	OrgaoEntidade  struct {
		CNPJ        string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
	} `json:"orgaoEntidade"`
	UnidadeOrgao struct {
		UFSigla string `json:"ufSigla"`
	} `json:"unidadeOrgao"`
	AnoCompra                int    `json:"anoCompra"`
	SequencialCompra         int    `json:"sequencialCompra"`
	ObjetoCompra             string `json:"objetoCompra"`
	DataPublicacaoPncp       string `json:"dataPublicacaoPncp"`
	DataAberturaProposta     string `json:"dataAberturaProposta"`
	DataEncerramentoProposta string `json:"dataEncerramentoProposta"`
	LinkSistemaOrigem        string `json:"linkSistemaOrigem"`
}

type registryItem struct {
	NumeroItem    int     `json:"numeroItem"`
	Descricao     string  `json:"descricao"`
	Quantidade    float64 `json:"quantidade"`
	UnidadeMedida string  `json:"unidadeMedida"`
	ValorUnitario float64 `json:"valorUnitarioEstimado"`
	ValorTotal    float64 `json:"valorTotalEstimado"`
}

// FetchOpportunities implements Source. One page failing never aborts the
// rest of the scope.
func (c *RegistryClient) FetchOpportunities(ctx context.Context, scope Scope) ([]RawRecord, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -scope.LookbackDays)

	modalities := scope.Modalities
	if len(modalities) == 0 {
		modalities = []models.Modality{models.ModalityOpenTender, models.ModalityDirectAward}
	}

	var out []RawRecord
	for _, modality := range modalities {
		code, ok := registryModalityCodes[modality]
		if !ok {
			continue
		}
		for _, region := range scope.Regions {
			records := c.fetchScope(ctx, region, modality, code, start, end)
			out = append(out, records...)
		}
	}
	return out, nil
}

// fetchScope pages one (modality, region) combination until an empty page
// or the page cap.
func (c *RegistryClient) fetchScope(ctx context.Context, region string, modality models.Modality, code string, start, end time.Time) []RawRecord {
	var out []RawRecord
	for page := 1; page <= c.MaxPages; page++ {
		recs, more, err := c.fetchPage(ctx, region, modality, code, start, end, page)
		if err != nil {
			log.Printf("[PNCP] skipping page %d for %s/%s: %v", page, region, modality, err)
			continue
		}
		out = append(out, recs...)
		if !more {
			break
		}
	}
	log.Printf("[PNCP] %s/%s: %d records", region, modality, len(out))
	return out
}

// fetchPage requests one result page. On a 4xx it retries once with the
// compact date encoding: some registry clusters reject ISO dates and only
// accept YYYYMMDD (known API quirk).
func (c *RegistryClient) fetchPage(ctx context.Context, region string, modality models.Modality, code string, start, end time.Time, page int) ([]RawRecord, bool, error) {
	pageURL := c.pageURL(region, code, start, end, page, "2006-01-02")

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, err := c.get(ctx, pageURL)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			alt := c.pageURL(region, code, start, end, page, "20060102")
			log.Printf("[PNCP] %d on ISO dates, retrying page %d with compact encoding", statusErr.StatusCode, page)
			body, err = c.get(ctx, alt)
		}
		if err != nil {
			return nil, false, err
		}
	}

	var parsed registryPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("decoding page: %w", err)
	}
	if parsed.Empty || len(parsed.Data) == 0 {
		return nil, false, nil
	}

	out := make([]RawRecord, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		var rec registryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("[PNCP] skipping malformed record: %v", err)
			continue
		}
		rr, ok := c.toRawRecord(rec, region, modality)
		if !ok {
			continue
		}
		out = append(out, rr)
	}

	more := page < parsed.TotalPaginas
	return out, more, nil
}

func (c *RegistryClient) pageURL(region, modalityCode string, start, end time.Time, page int, dateLayout string) string {
	q := url.Values{}
	q.Set("dataInicial", start.Format(dateLayout))
	q.Set("dataFinal", end.Format(dateLayout))
	q.Set("codigoModalidadeContratacao", modalityCode)
	q.Set("uf", region)
	q.Set("pagina", fmt.Sprintf("%d", page))
	q.Set("tamanhoPagina", fmt.Sprintf("%d", c.PageSize))
	return c.BaseURL + "/v1/contratacoes/publicacao?" + q.Encode()
}

func (c *RegistryClient) get(ctx context.Context, pageURL string) ([]byte, error) {
	doc, err := c.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()
	return io.ReadAll(doc.Body)
}

func (c *RegistryClient) toRawRecord(rec registryRecord, region string, modality models.Modality) (RawRecord, bool) {
	object := strings.TrimSpace(rec.ObjetoCompra)
	if object == "" {
		log.Printf("[PNCP] dropping %s: empty object text", rec.NumeroControle)
		return RawRecord{}, false
	}

	rr := RawRecord{
		Origin:       "pncp",
		NativeID:     rec.NumeroControle,
		Organization: strings.TrimSpace(rec.OrgaoEntidade.RazaoSocial),
		OrgCNPJ:      rec.OrgaoEntidade.CNPJ,
		Year:         rec.AnoCompra,
		Sequence:     rec.SequencialCompra,
		RegionCode:   region,
		Modality:     modality,
		ObjectText:   object,
		SourceURL:    rec.LinkSistemaOrigem,
	}
	if rec.UnidadeOrgao.UFSigla != "" {
		rr.RegionCode = rec.UnidadeOrgao.UFSigla
	}
	if rr.NativeID == "" && rec.OrgaoEntidade.CNPJ != "" {
		rr.NativeID = fmt.Sprintf("%s-%d-%d", rec.OrgaoEntidade.CNPJ, rec.AnoCompra, rec.SequencialCompra)
	}

	if t, ok := parseRegistryTime(rec.DataPublicacaoPncp); ok {
		rr.PublishDate = t
	} else {
		rr.PublishDate = time.Now().UTC()
	}
	if t, ok := parseRegistryTime(rec.DataAberturaProposta); ok {
		rr.WindowStart = &t
	}
	if t, ok := parseRegistryTime(rec.DataEncerramentoProposta); ok {
		rr.WindowEnd = &t
	}

	return rr, true
}

// FetchItems retrieves the line items of one notice from the sub-resource
// keyed by (cnpj, year, sequence). Records carry the triple precisely so
// items can be fetched lazily, after filtering and dedupe decided the
// notice is worth the extra call; the orchestrator drives this. Each call
// runs under its own timeout, not the page's.
func (c *RegistryClient) FetchItems(ctx context.Context, cnpj string, year, sequence int) ([]models.Item, error) {
	if cnpj == "" {
		return nil, nil
	}
	itemURL := fmt.Sprintf("%s/v1/orgaos/%s/compras/%d/%d/itens", c.BaseURL, cnpj, year, sequence)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, err := c.get(ctx, itemURL)
	if err != nil {
		return nil, err
	}

	var parsed []registryItem
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}

	items := make([]models.Item, 0, len(parsed))
	for _, it := range parsed {
		item := models.Item{
			SequenceNumber: it.NumeroItem,
			Description:    strings.TrimSpace(it.Descricao),
			Quantity:       it.Quantidade,
			Unit:           it.UnidadeMedida,
		}
		if it.ValorUnitario > 0 {
			v := it.ValorUnitario
			item.EstimatedUnitValue = &v
		}
		if it.ValorTotal > 0 {
			v := it.ValorTotal
			item.EstimatedTotalValue = &v
		}
		items = append(items, item)
	}
	return items, nil
}

var registryTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseRegistryTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range registryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
