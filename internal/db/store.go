package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/marcelo/licita-radar/internal/match"
	"github.com/marcelo/licita-radar/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// ExistsByIdentityKey is the persistence-level dedupe check, run before
// any insert so that a repeated collection pass never duplicates rows.
func (s *Store) ExistsByIdentityKey(ctx context.Context, identityKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM opportunities WHERE identity_key = $1)", identityKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity key lookup failed: %w", err)
	}
	return exists, nil
}

// CreateOpportunityWithItems inserts one opportunity and its items in a
// single transaction. Callers commit record by record: a failure mid-batch
// loses only the failing record, never the ones already saved.
func (s *Store) CreateOpportunityWithItems(ctx context.Context, opp models.Opportunity, embedding []float32) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var embeddingArg interface{}
	if len(embedding) > 0 {
		embeddingArg = pgvector.NewVector(embedding)
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO opportunities (
			identity_key, organization, region_code, modality, publish_date,
			proposal_window_start, proposal_window_end, object_text, source_url,
			origin, raw_text_hash, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		opp.IdentityKey, opp.Organization, opp.RegionCode, string(opp.Modality), opp.PublishDate,
		opp.ProposalWindowStart, opp.ProposalWindowEnd, opp.ObjectText, nilIfEmpty(opp.SourceURL),
		opp.Origin, nilIfEmpty(opp.RawTextHash), embeddingArg,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("opportunity insert failed: %w", err)
	}

	for _, item := range opp.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunity_items (
				opportunity_id, sequence_number, description, quantity, unit,
				estimated_unit_value, estimated_total_value, matched_product_id, match_score
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			id, item.SequenceNumber, item.Description, item.Quantity, item.Unit,
			item.EstimatedUnitValue, item.EstimatedTotalValue, item.MatchedProductID, item.MatchScore,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("item insert failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit failed: %w", err)
	}
	return id, nil
}

type ListParams struct {
	Regions    []string
	Modality   string
	Origin     string
	Query      string
	OnlyActive bool
	Limit      int
	Offset     int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

const oppCols = `id, identity_key, organization, region_code, modality, publish_date,
	proposal_window_start, proposal_window_end, object_text, COALESCE(source_url, ''),
	origin, COALESCE(raw_text_hash, ''), created_at, updated_at`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var modality string
	err := scan(
		&o.ID, &o.IdentityKey, &o.Organization, &o.RegionCode, &modality, &o.PublishDate,
		&o.ProposalWindowStart, &o.ProposalWindowEnd, &o.ObjectText, &o.SourceURL,
		&o.Origin, &o.RawTextHash, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Modality = models.Modality(modality)
	return o, nil
}

func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if len(params.Regions) > 0 {
		where += fmt.Sprintf(" AND region_code = ANY($%d)", argIdx)
		args = append(args, params.Regions)
		argIdx++
	}
	if params.Modality != "" {
		where += fmt.Sprintf(" AND modality = $%d", argIdx)
		args = append(args, params.Modality)
		argIdx++
	}
	if params.Origin != "" {
		where += fmt.Sprintf(" AND origin = $%d", argIdx)
		args = append(args, params.Origin)
		argIdx++
	}
	if params.Query != "" {
		where += fmt.Sprintf(" AND (object_text ILIKE '%%' || $%d || '%%' OR organization ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}
	if params.OnlyActive {
		where += " AND (proposal_window_end IS NULL OR proposal_window_end >= NOW())"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	selectSQL := fmt.Sprintf("SELECT %s FROM opportunities %s ORDER BY publish_date DESC, created_at DESC LIMIT $%d OFFSET $%d",
		oppCols, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}

	return &ListResult{Opportunities: opps, Total: total, Limit: params.Limit, Offset: params.Offset}, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM opportunities WHERE id = $1", oppCols), id)
	o, err := scanOpportunity(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, sequence_number, description, quantity, COALESCE(unit, ''),
			estimated_unit_value, estimated_total_value, matched_product_id, match_score
		FROM opportunity_items WHERE opportunity_id = $1 ORDER BY sequence_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("items query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.Item
		if err := rows.Scan(
			&item.ID, &item.OpportunityID, &item.SequenceNumber, &item.Description, &item.Quantity, &item.Unit,
			&item.EstimatedUnitValue, &item.EstimatedTotalValue, &item.MatchedProductID, &item.MatchScore,
		); err != nil {
			return nil, fmt.Errorf("item scan failed: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return &o, rows.Err()
}

// LoadCatalog reads the product catalog, deriving each product's keyword
// set at load time.
func (s *Store) LoadCatalog(ctx context.Context) ([]models.CatalogProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(keywords, ''), unit_cost, target_margin_percent,
			reference_price, COALESCE(reference_source, '')
		FROM catalog_products ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog query failed: %w", err)
	}
	defer rows.Close()

	var products []models.CatalogProduct
	for rows.Next() {
		var p models.CatalogProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Keywords, &p.UnitCost, &p.TargetMarginPercent,
			&p.ReferencePrice, &p.ReferenceSource); err != nil {
			return nil, fmt.Errorf("catalog scan failed: %w", err)
		}
		p.KeywordSet = match.SplitKeywordSet(p.Keywords, p.Name)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		"INSERT INTO job_runs (status) VALUES ($1) RETURNING id", models.RunStatusRunning).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run insert failed: %w", err)
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status string, collected, newCount int, summary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = $1, total_collected = $2, total_new = $3, summary_text = $4, finished_at = NOW()
		WHERE id = $5
	`, status, collected, newCount, summary, id)
	if err != nil {
		return fmt.Errorf("run update failed: %w", err)
	}
	return nil
}

// ActiveRun returns the currently running job, or nil when none is.
func (s *Store) ActiveRun(ctx context.Context) (*models.JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, status, total_collected, total_new, summary_text
		FROM job_runs WHERE status = $1 ORDER BY started_at DESC LIMIT 1
	`, models.RunStatusRunning)

	var run models.JobRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.TotalCollected, &run.TotalNew, &run.SummaryText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active run lookup failed: %w", err)
	}
	return &run, nil
}

// CancelOrphanRuns marks rows stuck in running as cancelled. Called once
// at startup: a running row with no live process behind it would block
// every future start forever.
func (s *Store) CancelOrphanRuns(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET status = $1, finished_at = NOW(), summary_text = 'cancelled at startup: orphaned run'
		WHERE status = $2
	`, models.RunStatusCancelled, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("orphan cleanup failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.JobRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, status, total_collected, total_new, summary_text
		FROM job_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs query failed: %w", err)
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		var run models.JobRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
			&run.TotalCollected, &run.TotalNew, &run.SummaryText); err != nil {
			return nil, fmt.Errorf("run scan failed: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, role FROM users WHERE email = $1", email)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role); err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return &u, nil
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
