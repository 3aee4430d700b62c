package models

import (
	"time"

	"github.com/google/uuid"
)

// BusinessConcept is the canonical, deduplicated representation of one
// distinct app idea. All opportunities whose normalized concept text hashes
// to the same fingerprint map to the same row. Stored in business_concepts
// table; concept_fingerprint carries a unique index, which is the arbiter
// under concurrent creation.
type BusinessConcept struct {
	ID                   uuid.UUID  `json:"id"`
	ConceptName          string     `json:"concept_name"` // First normalized text seen for this concept
	ConceptFingerprint   string     `json:"concept_fingerprint"`
	PrimaryOpportunityID *uuid.UUID `json:"primary_opportunity_id,omitempty"`
	SubmissionCount      int        `json:"submission_count"` // Includes the primary, so starts at 1
	HasAgnoAnalysis      bool       `json:"has_agno_analysis"`
	HasProfilerAnalysis  bool       `json:"has_profiler_analysis"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
