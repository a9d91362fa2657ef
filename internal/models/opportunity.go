package models

import (
	"time"

	"github.com/google/uuid"
)

// Modality classifies how a procurement notice is being contracted.
type Modality string

const (
	ModalityOpenTender     Modality = "open-tender"     // pregão eletrônico / concorrência
	ModalityDirectAward    Modality = "direct-award"    // dispensa de licitação
	ModalityEmergencyAward Modality = "emergency-award" // dispensa emergencial
	ModalityOther          Modality = "other"
)

// Opportunity is one normalized procurement notice from any source.
type Opportunity struct {
	ID                  uuid.UUID  `json:"id"`
	IdentityKey         string     `json:"identity_key"`
	Organization        string     `json:"organization"`
	RegionCode          string     `json:"region_code"`
	Modality            Modality   `json:"modality"`
	PublishDate         time.Time  `json:"publish_date"`
	ProposalWindowStart *time.Time `json:"proposal_window_start"`
	ProposalWindowEnd   *time.Time `json:"proposal_window_end"`
	ObjectText          string     `json:"object_text"`
	SourceURL           string     `json:"source_url"`
	Origin              string     `json:"origin"` // "pncp" or the bulletin source name
	Items               []Item     `json:"items"`
	RawTextHash         string     `json:"raw_text_hash"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Item is one line item of an Opportunity. MatchedProductID and MatchScore
// are written exclusively by the matching engine.
type Item struct {
	ID                  uuid.UUID  `json:"id"`
	OpportunityID       uuid.UUID  `json:"opportunity_id"`
	SequenceNumber      int        `json:"sequence_number"`
	Description         string     `json:"description"`
	Quantity            float64    `json:"quantity"`
	Unit                string     `json:"unit"`
	EstimatedUnitValue  *float64   `json:"estimated_unit_value"`
	EstimatedTotalValue *float64   `json:"estimated_total_value"`
	MatchedProductID    *uuid.UUID `json:"matched_product_id"`
	MatchScore          int        `json:"match_score"` // 0-100
}

// CatalogProduct is an external catalog entry, read-only to the pipeline.
// KeywordSet is derived at load time from the comma-delimited keyword
// string plus the product name.
type CatalogProduct struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Keywords            string    `json:"keywords"`
	KeywordSet          []string  `json:"keyword_set"`
	UnitCost            float64   `json:"unit_cost"`
	TargetMarginPercent float64   `json:"target_margin_percent"`
	ReferencePrice      *float64  `json:"reference_price,omitempty"`
	ReferenceSource     string    `json:"reference_source,omitempty"`
}

// MatchResult pairs a catalog product with the score an item text earned
// against it. Results are ranked descending by score; ties keep catalog
// insertion order.
type MatchResult struct {
	Product CatalogProduct `json:"product"`
	Score   int            `json:"score"`
}

// JobRun status values. A run is created as running and moves to exactly
// one terminal state.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// JobRun is one bounded execution of the full collection→matching→alert
// pipeline.
type JobRun struct {
	ID             uuid.UUID  `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Status         string     `json:"status"`
	TotalCollected int        `json:"total_collected"`
	TotalNew       int        `json:"total_new"`
	SummaryText    string     `json:"summary_text"`
}

// Alert is the payload handed to the notification transport for one
// matched, not-yet-notified opportunity.
type Alert struct {
	Organization     string     `json:"organization"`
	RegionCode       string     `json:"region_code"`
	Modality         Modality   `json:"modality"`
	MatchedProducts  []string   `json:"matched_products"`
	ProposalDeadline *time.Time `json:"proposal_deadline"`
	Link             string     `json:"link"`
}
