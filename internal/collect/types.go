package collect

import (
	"context"
	"io"
	"time"

	"github.com/marcelo/licita-radar/internal/models"
)

// RawRecord is one untrusted notice as it came out of a fetcher, before
// identity derivation and dedupe.
type RawRecord struct {
	Origin       string // "pncp" or the bulletin source name
	NativeID     string // registry-provided ID; empty for bulletin records
	Organization string
	OrgCNPJ      string
	Year         int
	Sequence     int
	RegionCode   string
	Modality     models.Modality
	PublishDate  time.Time
	WindowStart  *time.Time
	WindowEnd    *time.Time
	ObjectText   string
	SourceURL    string
	Items        []models.Item
	Summary      string

	// Err marks a synthetic error-record: a fetcher observed a failure it
	// absorbed. Orchestrator discards these after counting them.
	Err string
}

// IsError reports whether the record is a synthetic error-record.
func (r RawRecord) IsError() bool { return r.Err != "" }

// FetchedDocument is the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Source is anything that can produce raw notice records for one
// collection pass: the registry client and every bulletin scraper
// implement it.
type Source interface {
	Name() string
	FetchOpportunities(ctx context.Context, scope Scope) ([]RawRecord, error)
}

// Scope bounds one collection pass.
type Scope struct {
	Regions      []string
	Modalities   []models.Modality
	LookbackDays int
	// OpenProposalsOnly drops registry records whose proposal window has
	// already closed. Bulletin records are exempt from the window
	// invariant either way.
	OpenProposalsOnly bool
	// Sources selects bulletin sources by name; nil means all.
	Sources []string
}
