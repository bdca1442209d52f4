package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/docstruct"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

// CompleteData is the exhaustive retrieval payload for aggregation
// queries. Chunks are ordered by sheet number then station so callers
// can walk an alignment end to end.
type CompleteData struct {
	SystemName    string         `json:"system_name"`
	SheetNumbers  []string       `json:"sheet_numbers"`
	Chunks        []models.Chunk `json:"chunks"`
	NoiseFiltered int            `json:"noise_filtered"`
	Coverage      string         `json:"coverage"`
}

// CompleteSystemData fetches every chunk for a named system rather than
// a top-k slice. Aggregations over partial retrieval silently undercount,
// so this path trades latency for completeness.
type CompleteSystemData struct {
	db *sqlite.Client
}

func NewCompleteSystemData(db *sqlite.Client) *CompleteSystemData {
	return &CompleteSystemData{db: db}
}

// Fetch returns all non-noise chunks for the system named in the query.
// An empty systemName falls back to callout chunks, then to the whole
// project corpus.
func (c *CompleteSystemData) Fetch(ctx context.Context, projectID, systemName string) (*CompleteData, error) {
	if strings.TrimSpace(systemName) == "" {
		return c.fetchFallback(ctx, projectID)
	}

	variants := NameVariants(systemName)
	sheets, err := c.db.FindSheetsMatching(ctx, projectID, variants)
	if err != nil {
		return nil, fmt.Errorf("failed to find sheets for system: %w", err)
	}
	if len(sheets) == 0 {
		return c.fetchFallback(ctx, projectID)
	}

	chunks, err := c.db.GetChunksBySheets(ctx, projectID, sheets)
	if err != nil {
		return nil, fmt.Errorf("failed to load sheet chunks: %w", err)
	}

	kept, filtered := filterNoise(chunks)

	logger.Info("Complete system data retrieved",
		zap.String("project_id", projectID),
		zap.String("system", systemName),
		zap.Int("sheets", len(sheets)),
		zap.Int("chunks", len(kept)),
		zap.Int("noise_filtered", filtered),
	)

	return &CompleteData{
		SystemName:    systemName,
		SheetNumbers:  sheets,
		Chunks:        kept,
		NoiseFiltered: filtered,
		Coverage:      fmt.Sprintf("all %d sheets mentioning %q", len(sheets), systemName),
	}, nil
}

func (c *CompleteSystemData) fetchFallback(ctx context.Context, projectID string) (*CompleteData, error) {
	chunks, err := c.db.GetCalloutChunks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load callout chunks: %w", err)
	}
	coverage := "all callout chunks in project"
	if len(chunks) == 0 {
		chunks, err = c.db.GetAllChunks(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load project chunks: %w", err)
		}
		coverage = "entire project corpus"
	}

	kept, filtered := filterNoise(chunks)
	return &CompleteData{
		SheetNumbers:  sheetsOf(kept),
		Chunks:        kept,
		NoiseFiltered: filtered,
		Coverage:      coverage,
	}, nil
}

func filterNoise(chunks []models.Chunk) ([]models.Chunk, int) {
	kept := make([]models.Chunk, 0, len(chunks))
	filtered := 0
	for _, ch := range chunks {
		if docstruct.IsMatchLineNoise(ch.Text) {
			filtered++
			continue
		}
		kept = append(kept, ch)
	}
	return kept, filtered
}

func sheetsOf(chunks []models.Chunk) []string {
	seen := make(map[string]bool)
	var sheets []string
	for _, ch := range chunks {
		if ch.SheetNumber == "" || seen[ch.SheetNumber] {
			continue
		}
		seen[ch.SheetNumber] = true
		sheets = append(sheets, ch.SheetNumber)
	}
	return sheets
}

var trailingDesignator = regexp.MustCompile(`^(.*?)\s+['"]?([A-Z0-9])['"]?$`)

// NameVariants expands a system name into the lexical forms drawings
// actually use. Users type "waterline a"; sheets say WATER LINE 'A'.
func NameVariants(name string) []string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return nil
	}

	bases := map[string]bool{upper: true}
	if strings.Contains(upper, "WATERLINE") {
		bases[strings.ReplaceAll(upper, "WATERLINE", "WATER LINE")] = true
	}
	if strings.Contains(upper, "WATER LINE") {
		bases[strings.ReplaceAll(upper, "WATER LINE", "WATERLINE")] = true
	}
	if strings.Contains(upper, "FORCEMAIN") {
		bases[strings.ReplaceAll(upper, "FORCEMAIN", "FORCE MAIN")] = true
	}
	if strings.Contains(upper, "FORCE MAIN") {
		bases[strings.ReplaceAll(upper, "FORCE MAIN", "FORCEMAIN")] = true
	}

	variants := make(map[string]bool)
	for base := range bases {
		variants[base] = true
		// Single-character designator at the end gets a quoted form,
		// matching title-block conventions.
		if m := trailingDesignator.FindStringSubmatch(base); m != nil && m[1] != "" {
			variants[fmt.Sprintf("%s '%s'", m[1], m[2])] = true
			variants[fmt.Sprintf("%s %s", m[1], m[2])] = true
		}
	}

	out := make([]string, 0, len(variants))
	for v := range variants {
		out = append(out, v)
	}
	return out
}
