// Package retrieval implements the three retrieval primitives the smart
// router blends: direct structured lookup, station-aware vector search,
// and exhaustive complete-system-data retrieval.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/classifier"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

// DirectResult is a structured quantity hit. FromIndexSheet marks rows
// extracted from index lists, which the router degrades rather than
// treating as primary answers.
type DirectResult struct {
	Quantity       models.Quantity
	Similarity     float64
	FromIndexSheet bool
}

type DirectLookup struct {
	db            *sqlite.Client
	minSimilarity float64
}

func NewDirectLookup(db *sqlite.Client) *DirectLookup {
	return &DirectLookup{
		db:            db,
		minSimilarity: 0.5,
	}
}

// Search runs the fuzzy structured lookup for quantity queries. A nil
// result with nil error means no sufficiently similar row exists.
func (d *DirectLookup) Search(ctx context.Context, projectID string, c classifier.Classification) (*DirectResult, error) {
	term := c.ItemName
	if term == "" {
		return nil, nil
	}

	matches, err := d.db.SearchQuantities(ctx, projectID, term, 5)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 || matches[0].Similarity < d.minSimilarity {
		return nil, nil
	}

	best := matches[0]
	logger.Debug("Direct lookup hit",
		zap.String("term", term),
		zap.String("item", best.Quantity.ItemName),
		zap.Float64("similarity", best.Similarity),
	)

	return &DirectResult{
		Quantity:       best.Quantity,
		Similarity:     best.Similarity,
		FromIndexSheet: best.Quantity.SourceContext == models.SourceIndexList,
	}, nil
}
