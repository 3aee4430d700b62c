package models

import "github.com/google/uuid"

// Error codes surfaced in DedupResult.Error. These are stable strings so
// batch reports can aggregate failures by kind.
const (
	DedupErrorInvalidConcept   = "invalid_concept"   // No usable text; skip, do not retry
	DedupErrorStoreUnavailable = "store_unavailable" // Transient; retry with backoff
	DedupErrorInternal         = "internal"          // Unexpected; message carries details
)

// DedupResult is the outcome of processing one opportunity through the
// deduplicator. It is always returned by value, never raised: batch drivers
// iterate thousands of records and one bad record must not halt the run.
// The struct serializes directly into the JSON reports the surrounding
// scripts emit.
type DedupResult struct {
	Success           bool       `json:"success"`
	IsDuplicate       bool       `json:"is_duplicate"` // Meaningful only when Success
	ConceptID         *uuid.UUID `json:"concept_id,omitempty"`
	OpportunityID     string     `json:"opportunity_id"` // Echoed submission identifier
	Fingerprint       string     `json:"fingerprint,omitempty"`
	NormalizedConcept string     `json:"normalized_concept,omitempty"`
	Error             string     `json:"error,omitempty"` // One of the DedupError* codes
	Message           string     `json:"message"`         // Human-readable outcome
	ProcessingTimeMS  float64    `json:"processing_time_ms"`
}

// BatchStats aggregates per-record dedup outcomes for one harvest run.
type BatchStats struct {
	Processed  int           `json:"processed"`
	Unique     int           `json:"unique"`
	Duplicates int           `json:"duplicates"`
	Invalid    int           `json:"invalid"`
	Failed     int           `json:"failed"`
	Scored     int           `json:"scored"`
	ElapsedMS  float64       `json:"elapsed_ms"`
	Results    []DedupResult `json:"results,omitempty"`
}
