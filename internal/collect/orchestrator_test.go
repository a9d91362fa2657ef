package collect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/models"
)

type stubSource struct {
	name string
	recs []RawRecord
	err  error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) FetchOpportunities(ctx context.Context, scope Scope) ([]RawRecord, error) {
	return s.recs, s.err
}

func testFilter() *filter.Engine {
	return filter.NewEngine(nil, []string{"reagente"}, []string{"limpeza"})
}

func bulletinRecord(origin, org, object string, published time.Time) RawRecord {
	return RawRecord{
		Origin:       origin,
		Organization: org,
		RegionCode:   "RN",
		PublishDate:  published,
		ObjectText:   object,
	}
}

func TestCollectDeduplicatesIdenticalRecords(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	rec := bulletinRecord("femurn", "Prefeitura de Caicó", "aquisição de reagente para hemograma", published)

	src := stubSource{name: "femurn", recs: []RawRecord{rec, rec}}
	o := NewOrchestrator([]Source{src}, testFilter())

	opps, stats, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if stats.Deduplicated != 1 {
		t.Errorf("Deduplicated = %d, want 1", stats.Deduplicated)
	}
}

func TestCollectIsIdempotentOverIdenticalInput(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	src := stubSource{name: "femurn", recs: []RawRecord{
		bulletinRecord("femurn", "Prefeitura de Caicó", "aquisição de reagente para hemograma", published),
		bulletinRecord("femurn", "Prefeitura de Acari", "reagente de bioquímica para o laboratório", published),
	}}
	o := NewOrchestrator([]Source{src}, testFilter())

	first, _, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("runs differ in size: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].IdentityKey != second[i].IdentityKey {
			t.Errorf("identity key %d differs: %s vs %s", i, first[i].IdentityKey, second[i].IdentityKey)
		}
	}
}

func TestCollectDiscardsErrorRecordsAndFailedSources(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	good := stubSource{name: "femurn", recs: []RawRecord{
		bulletinRecord("femurn", "Prefeitura de Caicó", "aquisição de reagente", published),
		{Origin: "femurn", Err: "download: http 500"},
	}}
	broken := stubSource{name: "fecam", err: errors.New("landing page unreachable")}

	o := NewOrchestrator([]Source{good, broken}, testFilter())
	opps, stats, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if stats.ErrorRecords != 2 {
		t.Errorf("ErrorRecords = %d, want 2 (one synthetic, one source failure)", stats.ErrorRecords)
	}
}

func TestCollectEnforcesRegistryWindowInvariant(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	future := time.Now().UTC().Add(72 * time.Hour)
	past := time.Now().UTC().Add(-72 * time.Hour)

	missingWindow := bulletinRecord("pncp", "Prefeitura A", "reagente para hematologia", published)
	missingWindow.NativeID = "cnpj-2026-1"

	openWindow := bulletinRecord("pncp", "Prefeitura B", "reagente para bioquímica", published)
	openWindow.NativeID = "cnpj-2026-2"
	openWindow.WindowEnd = &future

	closedWindow := bulletinRecord("pncp", "Prefeitura C", "reagente para urinálise", published)
	closedWindow.NativeID = "cnpj-2026-3"
	closedWindow.WindowEnd = &past

	src := stubSource{name: "pncp", recs: []RawRecord{missingWindow, openWindow, closedWindow}}
	o := NewOrchestrator([]Source{src}, testFilter())

	opps, stats, err := o.Collect(context.Background(), Scope{OpenProposalsOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected only the open-window record, got %d", len(opps))
	}
	if opps[0].IdentityKey != "pncp:cnpj-2026-2" {
		t.Errorf("wrong survivor: %s", opps[0].IdentityKey)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
}

func TestCollectAppliesTermFilter(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	src := stubSource{name: "femurn", recs: []RawRecord{
		bulletinRecord("femurn", "Prefeitura A", "aquisição de reagente", published),
		bulletinRecord("femurn", "Prefeitura B", "serviços de engenharia civil", published),
		bulletinRecord("femurn", "Prefeitura C", "reagente e material de limpeza", published),
	}}
	o := NewOrchestrator([]Source{src}, testFilter())

	opps, stats, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if stats.Filtered != 2 {
		t.Errorf("Filtered = %d, want 2", stats.Filtered)
	}
}

type stubItemFetcher struct {
	calls []string
}

func (f *stubItemFetcher) FetchItems(ctx context.Context, cnpj string, year, sequence int) ([]models.Item, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s-%d-%d", cnpj, year, sequence))
	return []models.Item{{SequenceNumber: 1, Description: "Reagente para hemograma"}}, nil
}

func TestCollectHydratesItemsOnlyForSurvivors(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	future := time.Now().UTC().Add(72 * time.Hour)

	kept := bulletinRecord("pncp", "Prefeitura A", "aquisição de reagente para hemograma", published)
	kept.NativeID = "11111111000100-2026-1"
	kept.OrgCNPJ = "11111111000100"
	kept.Year = 2026
	kept.Sequence = 1
	kept.WindowEnd = &future

	filtered := bulletinRecord("pncp", "Prefeitura B", "serviços de engenharia civil", published)
	filtered.NativeID = "22222222000100-2026-2"
	filtered.OrgCNPJ = "22222222000100"
	filtered.Year = 2026
	filtered.Sequence = 2
	filtered.WindowEnd = &future

	duplicate := kept

	src := stubSource{name: "pncp", recs: []RawRecord{kept, filtered, duplicate}}
	fetcher := &stubItemFetcher{}
	o := NewOrchestrator([]Source{src}, testFilter())
	o.Items = fetcher

	opps, _, err := o.Collect(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if len(opps[0].Items) != 1 {
		t.Fatalf("surviving record must carry hydrated items, got %d", len(opps[0].Items))
	}

	// Filtered and deduplicated records must not cost a sub-resource call.
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "11111111000100-2026-1" {
		t.Errorf("item fetches = %v, want exactly the surviving record", fetcher.calls)
	}
}

func TestIdentityKeyStability(t *testing.T) {
	published := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	native := RawRecord{Origin: "pncp", NativeID: "12345678000100-2026-42"}
	if got := IdentityKey(native); got != "pncp:12345678000100-2026-42" {
		t.Errorf("native key = %q", got)
	}

	derived := bulletinRecord("femurn", "Prefeitura de Caicó", "aquisição de reagente", published)
	first := IdentityKey(derived)
	second := IdentityKey(derived)
	if first != second {
		t.Errorf("derived key not stable: %s vs %s", first, second)
	}

	other := derived
	other.ObjectText = "aquisição de reagente diferente"
	if IdentityKey(other) == first {
		t.Error("different object text must produce a different key")
	}
}

func TestSelectSourcesAlwaysIncludesRegistry(t *testing.T) {
	o := NewOrchestrator([]Source{
		stubSource{name: "pncp"},
		stubSource{name: "femurn"},
		stubSource{name: "fecam"},
	}, testFilter())

	selected := o.selectSources(Scope{Sources: []string{"femurn"}})
	if len(selected) != 2 {
		t.Fatalf("expected pncp + femurn, got %d sources", len(selected))
	}
	names := map[string]bool{}
	for _, s := range selected {
		names[s.Name()] = true
	}
	if !names["pncp"] || !names["femurn"] || names["fecam"] {
		t.Errorf("wrong selection: %v", names)
	}
}
