// migrate-opportunities backfills classification for stored opportunities
// that never went through deduplication (business_concept_id IS NULL), then
// spot-checks a sample of the resulting duplicate pairs with Claude to catch
// systematic misclassification. Emits a JSON report.
//
// Usage: go run ./scripts/migrate-opportunities [batch-limit]
//
// Database connection: Uses standard PG* environment variables
// Spot-check: Requires ANTHROPIC_API_KEY; skipped when unset
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/database"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
	"github.com/oppmine-inc/oppmine-engine/pkg/services"
)

const (
	defaultBatchLimit = 1000
	spotCheckSample   = 5
	spotCheckModel    = "claude-sonnet-4-5-20250929"
)

// Report is the JSON output.
type Report struct {
	Processed  int     `json:"processed"`
	Unique     int     `json:"unique"`
	Duplicates int     `json:"duplicates"`
	Invalid    int     `json:"invalid"`
	Failed     int     `json:"failed"`
	ElapsedMS  float64 `json:"elapsed_ms"`

	SpotCheck []SpotCheckResult `json:"spot_check,omitempty"`
	// SpotCheckSkipped is set when no API key is available
	SpotCheckSkipped string `json:"spot_check_skipped,omitempty"`
}

type SpotCheckResult struct {
	SubmissionID        string `json:"submission_id"`
	ConceptText         string `json:"concept_text"`
	PrimarySubmissionID string `json:"primary_submission_id"`
	PrimaryConceptText  string `json:"primary_concept_text"`
	Agrees              bool   `json:"agrees"`
	Reason              string `json:"reason"`
}

func main() {
	batchLimit := defaultBatchLimit
	if len(os.Args) > 1 {
		parsed, err := strconv.Atoi(os.Args[1])
		if err != nil || parsed <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid batch limit %q\n", os.Args[1])
			os.Exit(1)
		}
		batchLimit = parsed
	}

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{URL: buildConnString()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	concepts := repositories.NewConceptRepository(db)
	opportunities := repositories.NewOpportunityRepository(db)
	dedup := services.NewDedupService(concepts, opportunities, zap.NewNop())

	start := time.Now()
	report := Report{}
	var duplicates []models.DedupResult

	for {
		pending, err := opportunities.ListPending(ctx, batchLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list pending opportunities: %v\n", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			break
		}

		fmt.Fprintf(os.Stderr, "Classifying %d pending opportunities...\n", len(pending))
		classified := 0
		for _, opp := range pending {
			result := dedup.ProcessOpportunity(ctx, opp)
			report.Processed++

			switch {
			case result.Success && result.IsDuplicate:
				report.Duplicates++
				duplicates = append(duplicates, result)
				classified++
			case result.Success:
				report.Unique++
				classified++
			case result.Error == models.DedupErrorInvalidConcept:
				report.Invalid++
				// Flag the row so it leaves the pending backlog instead of
				// recycling through ListPending on the next pass.
				if err := opportunities.MarkAsInvalid(ctx, opp.ID, result.Message); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to flag invalid opportunity %s: %v\n", opp.SubmissionID, err)
				}
			default:
				report.Failed++
			}
		}

		// Invalid and failed records stay pending; stop once a pass makes no
		// progress so they cannot loop forever.
		if classified == 0 {
			break
		}
	}

	report.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000.0

	spotCheckDuplicates(ctx, &report, concepts, opportunities, duplicates)

	output, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(output))
}

// spotCheckDuplicates asks Claude whether sampled duplicate pairs really
// describe the same app idea. Disagreement does not fail the run; the report
// is for a human to review.
func spotCheckDuplicates(
	ctx context.Context,
	report *Report,
	concepts repositories.ConceptRepository,
	opportunities repositories.OpportunityRepository,
	duplicates []models.DedupResult,
) {
	if len(duplicates) == 0 {
		return
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		report.SpotCheckSkipped = "ANTHROPIC_API_KEY not set"
		return
	}
	client := anthropic.NewClient(apiKey)

	sample := duplicates
	if len(sample) > spotCheckSample {
		sample = sample[:spotCheckSample]
	}

	for _, dup := range sample {
		fmt.Fprintf(os.Stderr, "Spot-checking duplicate %s...\n", dup.OpportunityID)

		concept, err := concepts.GetByID(ctx, *dup.ConceptID)
		if err != nil || concept.PrimaryOpportunityID == nil {
			continue
		}
		primary, err := opportunities.GetByID(ctx, *concept.PrimaryOpportunityID)
		if err != nil {
			continue
		}

		check := SpotCheckResult{
			SubmissionID:        dup.OpportunityID,
			ConceptText:         dup.NormalizedConcept,
			PrimarySubmissionID: primary.SubmissionID,
			PrimaryConceptText:  primary.ConceptText(),
		}
		check.Agrees, check.Reason = askSamePair(ctx, client, check.ConceptText, check.PrimaryConceptText)
		report.SpotCheck = append(report.SpotCheck, check)
	}
}

func askSamePair(ctx context.Context, client *anthropic.Client, a, b string) (bool, string) {
	prompt := fmt.Sprintf(`Two Reddit posts were classified as the same app idea.

Post A: %s
Post B: %s

Do they describe the same app idea? Respond with only JSON:
{"same": true|false, "reason": "<one sentence>"}`, a, b)

	resp, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     spotCheckModel,
		MaxTokens: 500,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return false, fmt.Sprintf("spot check failed: %v", err)
	}

	var verdict struct {
		Same   bool   `json:"same"`
		Reason string `json:"reason"`
	}
	text := extractTextFromResponse(resp)
	if err := json.Unmarshal([]byte(extractJSON(text)), &verdict); err != nil {
		return false, fmt.Sprintf("unparseable verdict: %s", text)
	}
	return verdict.Same, verdict.Reason
}

func extractTextFromResponse(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func buildConnString() string {
	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "postgres")
	password := os.Getenv("PGPASSWORD")
	dbname := getEnvOrDefault("PGDATABASE", "oppmine_engine")

	connStr := fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable", user, host, port, dbname)
	if password != "" {
		connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
	}
	return connStr
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
