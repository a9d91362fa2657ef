package collect

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
)

// defaultWorkers bounds concurrent source fetches.
const defaultWorkers = 10

// Stats summarizes one collection pass.
type Stats struct {
	Fetched      int // raw records before filtering
	ErrorRecords int
	Filtered     int // dropped by the term filter
	Dropped      int // dropped by the window invariant
	Deduplicated int
	Collected    int
}

// ItemFetcher loads the registry line-item sub-resource for one notice.
// The registry client implements it.
type ItemFetcher interface {
	FetchItems(ctx context.Context, cnpj string, year, sequence int) ([]models.Item, error)
}

// Orchestrator fans out to the registry client and every selected
// bulletin scraper, merges their records, and produces the deduplicated
// opportunity batch. The result set is a pure function of the identity
// keys, so re-running over identical upstream data is idempotent.
type Orchestrator struct {
	Sources []Source
	Filter  *filter.Engine
	Workers int
	// Items, when set, hydrates registry line items after filtering and
	// dedupe. Nil leaves registry records without items.
	Items ItemFetcher
}

func NewOrchestrator(sources []Source, termFilter *filter.Engine) *Orchestrator {
	return &Orchestrator{Sources: sources, Filter: termFilter, Workers: defaultWorkers}
}

// Collect runs one full pass. A single source failing never cancels its
// siblings; it just contributes nothing.
func (o *Orchestrator) Collect(ctx context.Context, scope Scope) ([]models.Opportunity, Stats, error) {
	sources := o.selectSources(scope)
	if len(sources) == 0 {
		return nil, Stats{}, fmt.Errorf("no sources selected")
	}

	workers := o.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	results := make(chan []RawRecord, len(sources))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			recs, err := src.FetchOpportunities(ctx, scope)
			if err != nil {
				log.Printf("[Collect] source %s failed: %v", src.Name(), err)
				results <- []RawRecord{{Origin: src.Name(), Err: err.Error()}}
				return
			}
			results <- recs
		}(src)
	}

	wg.Wait()
	close(results)

	var raw []RawRecord
	for recs := range results {
		raw = append(raw, recs...)
	}

	survivors, keys, stats := o.merge(raw, scope)

	// Item hydration runs only for the records that made the cut: the
	// sub-resource call is slow and rate-limited, so it is not paid for
	// records the filter or dedupe would throw away.
	o.hydrateItems(ctx, survivors)

	out := make([]models.Opportunity, 0, len(survivors))
	for i, rec := range survivors {
		out = append(out, toOpportunity(rec, keys[i]))
	}
	stats.Collected = len(out)
	log.Printf("[Collect] fetched=%d errors=%d filtered=%d dropped=%d deduped=%d collected=%d",
		stats.Fetched, stats.ErrorRecords, stats.Filtered, stats.Dropped, stats.Deduplicated, stats.Collected)
	return out, stats, nil
}

func (o *Orchestrator) hydrateItems(ctx context.Context, recs []RawRecord) {
	if o.Items == nil {
		return
	}
	for i := range recs {
		rec := &recs[i]
		if rec.Origin != "pncp" || rec.OrgCNPJ == "" || len(rec.Items) > 0 {
			continue
		}
		items, err := o.Items.FetchItems(ctx, rec.OrgCNPJ, rec.Year, rec.Sequence)
		if err != nil {
			// A failed item fetch never drops the notice itself.
			log.Printf("[Collect] item fetch failed for %s: %v", IdentityKey(*rec), err)
			continue
		}
		rec.Items = items
	}
}

func (o *Orchestrator) selectSources(scope Scope) []Source {
	if len(scope.Sources) == 0 {
		return o.Sources
	}
	wanted := make(map[string]bool, len(scope.Sources))
	for _, name := range scope.Sources {
		wanted[name] = true
	}
	var out []Source
	for _, src := range o.Sources {
		// The registry always participates; scope.Sources selects bulletins.
		if src.Name() == "pncp" || wanted[src.Name()] {
			out = append(out, src)
		}
	}
	return out
}

// merge applies the filter, derives identity keys, deduplicates
// first-seen-wins and enforces the registry proposal-window invariant.
// It returns surviving records with their keys; conversion happens after
// item hydration.
func (o *Orchestrator) merge(raw []RawRecord, scope Scope) ([]RawRecord, []string, Stats) {
	stats := Stats{Fetched: len(raw)}
	seen := make(map[string]bool, len(raw))
	var survivors []RawRecord
	var keys []string

	for _, rec := range raw {
		if rec.IsError() {
			stats.ErrorRecords++
			continue
		}
		if rec.ObjectText == "" {
			stats.Dropped++
			continue
		}
		if res := o.Filter.EvaluateText(rec.ObjectText); !res.Included {
			stats.Filtered++
			continue
		}

		// Registry records without a proposal-window end are unusable for
		// deadline tracking and are dropped. Bulletin sources are exempt:
		// the window is rarely extractable from free text.
		if rec.Origin == "pncp" {
			if rec.WindowEnd == nil {
				stats.Dropped++
				continue
			}
			if scope.OpenProposalsOnly && rec.WindowEnd.Before(time.Now().UTC()) {
				stats.Dropped++
				continue
			}
		}

		key := IdentityKey(rec)
		if seen[key] {
			stats.Deduplicated++
			continue
		}
		seen[key] = true

		survivors = append(survivors, rec)
		keys = append(keys, key)
	}

	return survivors, keys, stats
}

// IdentityKey derives the stable dedupe key for a record. Registry
// records carry a native control number. Bulletin records get a
// content-derived key so that a re-run over bit-identical text maps to
// the same opportunity even though the source has no native ID.
func IdentityKey(rec RawRecord) string {
	if rec.NativeID != "" {
		return rec.Origin + ":" + rec.NativeID
	}
	sum := sha1.Sum([]byte(rec.Organization + "|" + rec.ObjectText + "|" + rec.PublishDate.Format("2006-01-02")))
	return rec.Origin + ":" + hex.EncodeToString(sum[:])
}

func toOpportunity(rec RawRecord, key string) models.Opportunity {
	textHash := sha1.Sum([]byte(rec.ObjectText))
	opp := models.Opportunity{
		IdentityKey:         key,
		Organization:        rec.Organization,
		RegionCode:          rec.RegionCode,
		Modality:            rec.Modality,
		PublishDate:         rec.PublishDate,
		ProposalWindowStart: rec.WindowStart,
		ProposalWindowEnd:   rec.WindowEnd,
		ObjectText:          rec.ObjectText,
		SourceURL:           rec.SourceURL,
		Origin:              rec.Origin,
		Items:               rec.Items,
		RawTextHash:         hex.EncodeToString(textHash[:]),
	}
	if opp.Modality == "" {
		opp.Modality = models.ModalityOther
	}
	return opp
}
