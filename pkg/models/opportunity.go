package models

import (
	"time"

	"github.com/google/uuid"
)

// Opportunity is one observed candidate app idea extracted from a single
// Reddit submission. Stored in reddit_opportunities table.
type Opportunity struct {
	ID                uuid.UUID  `json:"id"`
	SubmissionID      string     `json:"submission_id"`
	AppConcept        *string    `json:"app_concept,omitempty"` // Raw free text; may be absent or blank
	BusinessConceptID *uuid.UUID `json:"business_concept_id,omitempty"`
	IsDuplicate       *bool      `json:"is_duplicate,omitempty"` // Nil until classified
	OpportunityScore  *float64   `json:"opportunity_score,omitempty"`
	ScoreInsight      *string    `json:"score_insight,omitempty"`
	// ClassificationError is set when the record was rejected as
	// unclassifiable (no usable concept text). Such rows are excluded from
	// the pending backlog.
	ClassificationError *string   `json:"classification_error,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ConceptText returns the raw concept text, or "" when absent.
func (o *Opportunity) ConceptText() string {
	if o.AppConcept == nil {
		return ""
	}
	return *o.AppConcept
}

// Classified reports whether the opportunity has been attached to a
// business concept.
func (o *Opportunity) Classified() bool {
	return o.BusinessConceptID != nil
}

// OpportunityScoreResult holds the scoring service output for one concept.
type OpportunityScoreResult struct {
	Score   float64 `json:"score"`   // 0-100
	Insight string  `json:"insight"` // Narrative explanation
}
