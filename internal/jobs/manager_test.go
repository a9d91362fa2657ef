package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/marcelo/licita-radar/internal/collect"
	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/match"
	"github.com/marcelo/licita-radar/internal/models"
	"github.com/marcelo/licita-radar/internal/notify"
)

type stubSender struct {
	delivered bool
	calls     int
	messages  []string
}

func (s *stubSender) Send(contacts []int64, message string) bool {
	s.calls++
	s.messages = append(s.messages, message)
	return s.delivered
}

func testProduct(name, keywords string) models.CatalogProduct {
	return models.CatalogProduct{
		ID:         uuid.New(),
		Name:       name,
		Keywords:   keywords,
		KeywordSet: match.SplitKeywordSet(keywords, name),
	}
}

// fakeStore keeps run bookkeeping in memory, mirroring the running-row
// semantics of the real store.
type fakeStore struct {
	mu       sync.Mutex
	active   *models.JobRun
	statuses []string
	finished chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{finished: make(chan struct{}, 4)}
}

func (f *fakeStore) ActiveRun(ctx context.Context) (*models.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeStore) CreateRun(ctx context.Context) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.active = &models.JobRun{ID: id, StartedAt: time.Now(), Status: models.RunStatusRunning}
	return id, nil
}

func (f *fakeStore) FinishRun(ctx context.Context, id uuid.UUID, status string, collected, newCount int, summary string) error {
	f.mu.Lock()
	f.active = nil
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
	f.finished <- struct{}{}
	return nil
}

func (f *fakeStore) CancelOrphanRuns(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeStore) ListRuns(ctx context.Context, limit int) ([]models.JobRun, error) {
	return nil, nil
}

func (f *fakeStore) ExistsByIdentityKey(ctx context.Context, identityKey string) (bool, error) {
	return false, nil
}

func (f *fakeStore) LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error) {
	return nil, nil
}

func (f *fakeStore) CreateOpportunityWithItems(ctx context.Context, opp models.Opportunity, embedding []float32) (uuid.UUID, error) {
	return uuid.New(), nil
}

// gateSource blocks the collection pass until released, keeping a run in
// flight for as long as the test needs.
type gateSource struct {
	release chan struct{}
}

func (s *gateSource) Name() string { return "pncp" }

func (s *gateSource) FetchOpportunities(ctx context.Context, scope collect.Scope) ([]collect.RawRecord, error) {
	<-s.release
	return nil, nil
}

func TestStartRejectsSecondRunWhileActive(t *testing.T) {
	store := newFakeStore()
	src := &gateSource{release: make(chan struct{})}
	orch := collect.NewOrchestrator([]collect.Source{src}, filter.NewEngine(nil, []string{"reagente"}, nil))

	m := &Manager{Store: store, Orchestrator: orch, Engine: match.NewEngine(match.DefaultConfig())}

	runID, err := m.Start(collect.Scope{})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, runID)

	// In-memory guard: same manager, run still in flight.
	_, err = m.Start(collect.Scope{})
	require.ErrorIs(t, err, ErrRunActive)

	// Persisted guard: a second manager sharing the store sees the
	// running row even without the in-memory flag.
	other := &Manager{Store: store, Orchestrator: orch, Engine: match.NewEngine(match.DefaultConfig())}
	_, err = other.Start(collect.Scope{})
	require.ErrorIs(t, err, ErrRunActive)

	close(src.release)
	select {
	case <-store.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not reach a terminal state")
	}
	require.Equal(t, []string{models.RunStatusCompleted}, store.statuses)

	// A terminal state frees the slot.
	_, err = m.Start(collect.Scope{})
	require.NoError(t, err)
	select {
	case <-store.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("second run did not reach a terminal state")
	}
}

func TestMatchItemsWritesWinningProduct(t *testing.T) {
	m := &Manager{Engine: match.NewEngine(match.DefaultConfig())}
	catalog := []models.CatalogProduct{
		testProduct("Analisador Hematológico", "hematologia, hemograma"),
		testProduct("Microscópio Binocular", "microscopio"),
	}

	opp := models.Opportunity{
		ObjectText: "aquisição de equipamentos laboratoriais",
		Items: []models.Item{
			{SequenceNumber: 1, Description: "Analisador hematológico automatizado para laboratório"},
			{SequenceNumber: 2, Description: "Cadeira giratória para escritório"},
		},
	}

	names := m.matchItems(context.Background(), &opp, catalog)
	require.Equal(t, []string{"Analisador Hematológico"}, names)

	require.NotNil(t, opp.Items[0].MatchedProductID)
	require.Equal(t, catalog[0].ID, *opp.Items[0].MatchedProductID)
	require.GreaterOrEqual(t, opp.Items[0].MatchScore, m.Engine.Config().AcceptThreshold)

	require.Nil(t, opp.Items[1].MatchedProductID)
	require.Zero(t, opp.Items[1].MatchScore)
}

func TestMatchItemsFallsBackToObjectText(t *testing.T) {
	m := &Manager{Engine: match.NewEngine(match.DefaultConfig())}
	catalog := []models.CatalogProduct{testProduct("Coagulômetro", "coagulometro, coagulacao")}

	opp := models.Opportunity{
		ObjectText: "aquisição de coagulômetro para o laboratório municipal de análises clínicas",
	}
	names := m.matchItems(context.Background(), &opp, catalog)
	require.Equal(t, []string{"Coagulômetro"}, names)
}

func newTestCache(t *testing.T) *notify.DedupeCache {
	t.Helper()
	cache, err := notify.OpenDedupeCache(filepath.Join(t.TempDir(), "notified.json"))
	require.NoError(t, err)
	return cache
}

func TestNotifyOnceSendsAndRecords(t *testing.T) {
	sender := &stubSender{delivered: true}
	m := &Manager{Cache: newTestCache(t), Sender: sender, Contacts: []int64{42}}

	opp := models.Opportunity{
		IdentityKey:  "femurn:abc",
		Organization: "Prefeitura de Caicó",
		RegionCode:   "RN",
		Modality:     models.ModalityOpenTender,
	}

	require.True(t, m.notifyOnce(opp, []string{"Analisador Hematológico"}))
	require.Equal(t, 1, sender.calls)

	// Same key again: the cache suppresses the second alert.
	require.False(t, m.notifyOnce(opp, []string{"Analisador Hematológico"}))
	require.Equal(t, 1, sender.calls)
}

func TestNotifyOnceFailedDeliveryIsNotRecorded(t *testing.T) {
	sender := &stubSender{delivered: false}
	cache := newTestCache(t)
	m := &Manager{Cache: cache, Sender: sender, Contacts: []int64{42}}

	opp := models.Opportunity{IdentityKey: "femurn:abc", Organization: "Prefeitura de Caicó", RegionCode: "RN"}

	require.False(t, m.notifyOnce(opp, []string{"Reagente"}))
	require.False(t, cache.WasAlreadySent("femurn:abc"))

	// Delivery recovers: the alert goes out on the next run.
	sender.delivered = true
	require.True(t, m.notifyOnce(opp, []string{"Reagente"}))
	require.True(t, cache.WasAlreadySent("femurn:abc"))
}

func TestNotifyOnceWithoutTransport(t *testing.T) {
	m := &Manager{Cache: newTestCache(t)}
	opp := models.Opportunity{IdentityKey: "femurn:abc"}
	require.False(t, m.notifyOnce(opp, []string{"Reagente"}))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "ab", truncate("abcdef", 2))
}
