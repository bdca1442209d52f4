package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/cache/redis"
	"github.com/plan-agent/backend/internal/classifier"
	"github.com/plan-agent/backend/internal/docstruct"
	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/internal/vector/milvus"
	"github.com/plan-agent/backend/pkg/config"
	"github.com/plan-agent/backend/pkg/logger"
	"github.com/plan-agent/backend/pkg/utils"
)

// BoostFactors breaks the re-ranking adjustment down per signal so the
// router can surface why a chunk ranked where it did.
type BoostFactors struct {
	StationProximity float64 `json:"station_proximity"`
	SheetTypeMatch   float64 `json:"sheet_type_match"`
	CriticalSheet    float64 `json:"critical_sheet"`
	IndexPenalty     float64 `json:"index_penalty"`
}

// EnhancedResult is a vector hit after station-aware re-ranking.
type EnhancedResult struct {
	milvus.SearchResult
	Boosts       BoostFactors `json:"boosts"`
	BoostedScore float64      `json:"boosted_score"`
}

// StationAwareSearch is the semantic retrieval strategy. It oversamples
// the vector index, then re-ranks candidates with domain signals the
// embedding space cannot encode (station proximity, sheet typing).
type StationAwareSearch struct {
	vectorDB *milvus.Client
	llm      *llm.Client
	cache    *redis.Client
	scoring  config.ScoringConfig
}

func NewStationAwareSearch(vectorDB *milvus.Client, llmClient *llm.Client, cache *redis.Client, scoring config.ScoringConfig) *StationAwareSearch {
	return &StationAwareSearch{
		vectorDB: vectorDB,
		llm:      llmClient,
		cache:    cache,
		scoring:  scoring,
	}
}

// Search embeds the query, oversamples the index, re-ranks, and returns
// the top topK results by boosted score.
func (s *StationAwareSearch) Search(ctx context.Context, projectID, query string, c classifier.Classification, topK int) ([]EnhancedResult, error) {
	if topK <= 0 {
		topK = 10
	}

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filters := milvus.SearchFilters{SheetNumber: c.SheetNumber}

	oversample := topK * s.scoring.OversampleFactor
	if oversample < topK {
		oversample = topK
	}

	raw, err := s.vectorDB.Search(ctx, embedding, projectID, oversample, filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	ranked := RankResults(raw, c, s.scoring)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	logger.Debug("Station-aware search complete",
		zap.String("project_id", projectID),
		zap.Int("candidates", len(raw)),
		zap.Int("returned", len(ranked)),
	)
	return ranked, nil
}

func (s *StationAwareSearch) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := utils.HashString(query)

	if s.cache != nil {
		if cached, ok, err := s.cache.GetEmbedding(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	embedding, err := s.llm.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, key, embedding, 24*time.Hour); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}
	return embedding, nil
}

// RankResults applies the domain boosts to raw vector hits and sorts by
// boosted score descending. Sorting is stable so ties keep index order.
func RankResults(raw []milvus.SearchResult, c classifier.Classification, cfg config.ScoringConfig) []EnhancedResult {
	ranked := make([]EnhancedResult, len(raw))
	for i, r := range raw {
		boosts := computeBoosts(r, c, cfg)
		ranked[i] = EnhancedResult{
			SearchResult: r,
			Boosts:       boosts,
			BoostedScore: float64(r.Score) + boosts.StationProximity + boosts.SheetTypeMatch + boosts.CriticalSheet - boosts.IndexPenalty,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BoostedScore > ranked[j].BoostedScore
	})
	return ranked
}

func computeBoosts(r milvus.SearchResult, c classifier.Classification, cfg config.ScoringConfig) BoostFactors {
	var b BoostFactors

	if c.Station != nil && r.StationFeet >= 0 {
		dist := c.Station.TotalFeet() - r.StationFeet
		if dist < 0 {
			dist = -dist
		}
		if dist < cfg.StationWindowFeet {
			b.StationProximity = cfg.StationProximityCap * (1 - dist/cfg.StationWindowFeet)
		}
	}

	b.SheetTypeMatch = sheetTypeBoost(r, c, cfg)

	if r.IsCallout {
		if c.Type == classifier.TypeQuantity {
			b.CriticalSheet = cfg.CriticalQuantityBoost
		} else {
			b.CriticalSheet = cfg.CriticalSheetBoost
		}
	}

	// Index sheets mention every system by name, so lexical similarity
	// ranks them high on exactly the queries they cannot answer.
	if c.Type == classifier.TypeQuantity || c.Type == classifier.TypeLocation {
		st := docstruct.SheetType(r.SheetType)
		if st != docstruct.SheetIndex && docstruct.LooksLikeIndexSheet(st, r.SheetNumber, r.Text) {
			b.IndexPenalty = cfg.IndexSheetPenalty
		}
	}

	return b
}

func sheetTypeBoost(r milvus.SearchResult, c classifier.Classification, cfg config.ScoringConfig) float64 {
	st := docstruct.SheetType(r.SheetType)

	if c.Type == classifier.TypeQuantity && st == docstruct.SheetIndex {
		return -cfg.IndexSheetPenalty
	}

	for _, preferred := range c.SearchHints.PreferredSheetTypes {
		if st != preferred {
			continue
		}
		boost := cfg.SheetTypeBoost
		if c.Type == classifier.TypeQuantity && (st == docstruct.SheetPlan || st == docstruct.SheetProfile) {
			boost *= cfg.QuantityPlanMultiplier
		}
		return boost
	}
	return 0
}
