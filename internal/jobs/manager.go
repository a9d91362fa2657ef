package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelo/licita-radar/internal/collect"
	"github.com/marcelo/licita-radar/internal/match"
	"github.com/marcelo/licita-radar/internal/models"
	"github.com/marcelo/licita-radar/internal/notify"
)

// ErrRunActive is returned by Start while another run is in flight.
var ErrRunActive = errors.New("a collection run is already active")

// maxSummaryLen caps the error text persisted on a failed run.
const maxSummaryLen = 500

// Embedder is the optional embedding generator for stored opportunities.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Store is the persistence surface the manager needs: run records for
// the single-active-run bookkeeping plus opportunity reads and writes.
// *db.Store implements it.
type Store interface {
	ActiveRun(ctx context.Context) (*models.JobRun, error)
	CreateRun(ctx context.Context) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, status string, collected, newCount int, summary string) error
	CancelOrphanRuns(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, limit int) ([]models.JobRun, error)
	ExistsByIdentityKey(ctx context.Context, identityKey string) (bool, error)
	LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error)
	CreateOpportunityWithItems(ctx context.Context, opp models.Opportunity, embedding []float32) (uuid.UUID, error)
}

// Manager owns the collection→matching→persistence→alert pipeline and
// enforces that at most one run executes at a time. The check is both
// in-memory (mutex) and persisted (running row in job_runs), so a second
// process sharing the database also gets rejected.
type Manager struct {
	Store        Store
	Orchestrator *collect.Orchestrator
	Engine       *match.Engine
	Verifier     match.Verifier
	Embedder     Embedder
	Cache        *notify.DedupeCache
	Sender       notify.Sender
	Contacts     []int64

	mu      sync.Mutex
	running bool
	runID   uuid.UUID
	cancel  context.CancelFunc
}

// RunOutcome is the tally one run accumulates as it walks records.
type RunOutcome struct {
	Collected  int
	New        int
	Duplicates int
	Matched    int
	Alerted    int
	SaveErrors int
}

// Start launches a run in the background and returns its ID, or
// ErrRunActive when one is already in flight.
func (m *Manager) Start(scope collect.Scope) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return uuid.Nil, ErrRunActive
	}

	ctx := context.Background()
	if active, err := m.Store.ActiveRun(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("checking active run: %w", err)
	} else if active != nil {
		return uuid.Nil, ErrRunActive
	}

	runID, err := m.Store.CreateRun(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating run record: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.runID = runID
	m.cancel = cancel

	go m.execute(runCtx, runID, scope)
	return runID, nil
}

// Status reports the most recent run, running or terminal.
func (m *Manager) Status(ctx context.Context) (*models.JobRun, error) {
	if active, err := m.Store.ActiveRun(ctx); err != nil {
		return nil, err
	} else if active != nil {
		return active, nil
	}
	runs, err := m.Store.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Cancel requests cancellation of the active run. The run moves to
// cancelled once the worker observes the context.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// CleanupOrphans cancels persisted running rows left behind by a previous
// process. Call once at startup, before the first Start.
func (m *Manager) CleanupOrphans(ctx context.Context) error {
	n, err := m.Store.CancelOrphanRuns(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Jobs] cancelled %d orphaned run(s) at startup", n)
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, runID uuid.UUID, scope collect.Scope) {
	start := time.Now()
	outcome := RunOutcome{}
	status := models.RunStatusCompleted
	var runErr error

	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()

		if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
			status = models.RunStatusCancelled
		} else if runErr != nil {
			status = models.RunStatusFailed
		}

		summary := fmt.Sprintf("collected=%d new=%d duplicates=%d matched=%d alerted=%d save_errors=%d duration=%s",
			outcome.Collected, outcome.New, outcome.Duplicates, outcome.Matched, outcome.Alerted,
			outcome.SaveErrors, time.Since(start).Round(time.Second))
		if runErr != nil {
			summary += " error=" + truncate(runErr.Error(), maxSummaryLen)
		}

		// The terminal-state write uses a fresh context: the run context
		// may already be cancelled.
		finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Store.FinishRun(finishCtx, runID, status, outcome.Collected, outcome.New, summary); err != nil {
			log.Printf("[Jobs] failed to finish run %s: %v", runID, err)
		}
		log.Printf("[Jobs] run %s finished: status=%s %s", runID, status, summary)
	}()

	log.Printf("[Jobs] run %s started: regions=%v lookback=%d sources=%v",
		runID, scope.Regions, scope.LookbackDays, scope.Sources)

	opportunities, stats, err := m.Orchestrator.Collect(ctx, scope)
	if err != nil {
		runErr = err
		return
	}
	outcome.Collected = stats.Collected

	catalog, err := m.Store.LoadCatalog(ctx)
	if err != nil {
		runErr = fmt.Errorf("loading catalog: %w", err)
		return
	}

	for i := range opportunities {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			return
		}
		opp := opportunities[i]

		exists, err := m.Store.ExistsByIdentityKey(ctx, opp.IdentityKey)
		if err != nil {
			outcome.SaveErrors++
			log.Printf("[Jobs] dedupe check failed for %s: %v", opp.IdentityKey, err)
			continue
		}
		if exists {
			outcome.Duplicates++
			continue
		}

		matchedNames := m.matchItems(ctx, &opp, catalog)
		if len(matchedNames) > 0 {
			outcome.Matched++
		}

		var embedding []float32
		if m.Embedder != nil {
			vec, err := m.Embedder.GenerateEmbedding(ctx, truncate(opp.ObjectText, 8000))
			if err != nil {
				log.Printf("[Jobs] embedding failed for %s: %v", opp.IdentityKey, err)
			} else {
				embedding = vec
			}
		}

		if _, err := m.Store.CreateOpportunityWithItems(ctx, opp, embedding); err != nil {
			outcome.SaveErrors++
			log.Printf("[Jobs] save failed for %s: %v", opp.IdentityKey, err)
			continue
		}
		outcome.New++

		if len(matchedNames) > 0 && m.notifyOnce(opp, matchedNames) {
			outcome.Alerted++
		}
	}
}

// matchItems scores every item of the opportunity against the catalog,
// writing the winning product onto the item. Opportunities with no
// extracted items are matched on the object text instead.
func (m *Manager) matchItems(ctx context.Context, opp *models.Opportunity, catalog []models.CatalogProduct) []string {
	matched := make(map[string]bool)
	var names []string

	record := func(product models.CatalogProduct) {
		if !matched[product.Name] {
			matched[product.Name] = true
			names = append(names, product.Name)
		}
	}

	if len(opp.Items) == 0 {
		if product, _, ok := m.bestMatch(ctx, opp.ObjectText, catalog); ok {
			record(product)
		}
		return names
	}

	for i := range opp.Items {
		item := &opp.Items[i]
		product, score, ok := m.bestMatch(ctx, item.Description, catalog)
		if !ok {
			continue
		}
		id := product.ID
		item.MatchedProductID = &id
		item.MatchScore = score
		record(product)
	}
	return names
}

// bestMatch returns the top-ranked verified product for a text, if any.
func (m *Manager) bestMatch(ctx context.Context, text string, catalog []models.CatalogProduct) (models.CatalogProduct, int, bool) {
	results := m.Engine.FindMatches(text, catalog)
	for _, result := range results {
		if result.Score < m.Engine.Config().AcceptThreshold {
			break
		}
		if m.Engine.VerifyAccepted(ctx, m.Verifier, text, result.Product.Name, result.Score) {
			return result.Product, result.Score, true
		}
	}
	return models.CatalogProduct{}, 0, false
}

// notifyOnce sends the alert unless the dedupe cache already has the key.
// The cache write happens only after a confirmed delivery.
func (m *Manager) notifyOnce(opp models.Opportunity, matchedNames []string) bool {
	if m.Sender == nil || len(m.Contacts) == 0 {
		return false
	}
	if m.Cache != nil && m.Cache.WasAlreadySent(opp.IdentityKey) {
		return false
	}

	alert := models.Alert{
		Organization:     opp.Organization,
		RegionCode:       opp.RegionCode,
		Modality:         opp.Modality,
		MatchedProducts:  matchedNames,
		ProposalDeadline: opp.ProposalWindowEnd,
		Link:             opp.SourceURL,
	}
	if !m.Sender.Send(m.Contacts, notify.FormatAlert(alert)) {
		return false
	}
	if m.Cache != nil {
		if err := m.Cache.MarkAsSent(opp.IdentityKey); err != nil {
			log.Printf("[Jobs] failed to record alert for %s: %v", opp.IdentityKey, err)
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
