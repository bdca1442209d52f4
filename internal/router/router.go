// Package router is the smart routing layer: it classifies each query,
// picks the retrieval strategies that fit, blends their results, and
// records the decision for offline tuning.
package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/analytics"
	"github.com/plan-agent/backend/internal/classifier"
	"github.com/plan-agent/backend/internal/inspection"
	"github.com/plan-agent/backend/internal/retrieval"
	"github.com/plan-agent/backend/pkg/logger"
	"github.com/plan-agent/backend/pkg/utils"
)

// Routing methods, reported in responses and analytics.
const (
	MethodVisualInspection = "visual_inspection"
	MethodDirectLookup     = "direct_lookup"
	MethodCompleteData     = "complete_system_data"
	MethodVectorSearch     = "vector_search"
)

const defaultTopK = 10

type directLookup interface {
	Search(ctx context.Context, projectID string, c classifier.Classification) (*retrieval.DirectResult, error)
}

type vectorSearch interface {
	Search(ctx context.Context, projectID, query string, c classifier.Classification, topK int) ([]retrieval.EnhancedResult, error)
}

type completeData interface {
	Fetch(ctx context.Context, projectID, systemName string) (*retrieval.CompleteData, error)
}

type sheetInspector interface {
	Run(ctx context.Context, projectID string, task inspection.Task) (*inspection.Result, error)
}

type analyticsSink interface {
	Emit(e analytics.Event)
}

type routeCache interface {
	GetRoute(ctx context.Context, routeHash string, result interface{}) (bool, error)
	SetRoute(ctx context.Context, routeHash string, result interface{}, ttl time.Duration) error
}

type Request struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
}

type Response struct {
	ID             string                     `json:"id"`
	Query          string                     `json:"query"`
	ProjectID      string                     `json:"project_id"`
	Method         string                     `json:"method"`
	Classification classifier.Classification  `json:"classification"`
	Direct         *retrieval.DirectResult    `json:"direct,omitempty"`
	Inspection     *inspection.Result         `json:"inspection,omitempty"`
	Complete       *retrieval.CompleteData    `json:"complete,omitempty"`
	Results        []retrieval.EnhancedResult `json:"results,omitempty"`
	Degraded       []string                   `json:"degraded,omitempty"`
	Confidence     float64                    `json:"confidence"`
	LatencyMS      int                        `json:"latency_ms"`
	FromCache      bool                       `json:"from_cache,omitempty"`
}

type Router struct {
	direct    directLookup
	vector    vectorSearch
	complete  completeData
	inspector sheetInspector
	analytics analyticsSink
	cache     routeCache
	cacheTTL  time.Duration
}

func New(direct directLookup, vector vectorSearch, complete completeData, inspector sheetInspector, sink analyticsSink, cache routeCache) *Router {
	return &Router{
		direct:    direct,
		vector:    vector,
		complete:  complete,
		inspector: inspector,
		analytics: sink,
		cache:     cache,
		cacheTTL:  15 * time.Minute,
	}
}

// Route answers one query. Strategy failures degrade to the next
// strategy; Route itself fails only when no strategy produced anything.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if r.cache != nil {
		var cached Response
		key := utils.HashString(req.ProjectID + "|" + req.Query)
		if ok, err := r.cache.GetRoute(ctx, key, &cached); err == nil && ok {
			cached.FromCache = true
			cached.LatencyMS = int(time.Since(start).Milliseconds())
			return &cached, nil
		}
	}

	c := classifier.Classify(req.Query)
	resp := &Response{
		ID:             uuid.New().String(),
		Query:          req.Query,
		ProjectID:      req.ProjectID,
		Classification: c,
	}

	logger.Info("Routing query",
		zap.String("query_id", resp.ID),
		zap.String("project_id", req.ProjectID),
		zap.String("type", string(c.Type)),
		zap.Bool("complete_data", c.NeedsCompleteData),
		zap.Bool("visual_inspection", c.NeedsVisualInspection),
	)

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	r.dispatch(ctx, req, c, topK, resp)
	resp.Confidence = r.confidence(c, resp)
	resp.LatencyMS = int(time.Since(start).Milliseconds())

	if r.analytics != nil {
		r.analytics.Emit(analytics.Event{
			ProjectID:   req.ProjectID,
			QueryText:   req.Query,
			QueryType:   string(c.Type),
			Method:      resp.Method,
			Confidence:  resp.Confidence,
			ResultCount: resultCount(resp),
			LatencyMS:   resp.LatencyMS,
			Success:     resultCount(resp) > 0,
		})
	}

	if r.cache != nil && resultCount(resp) > 0 {
		key := utils.HashString(req.ProjectID + "|" + req.Query)
		if err := r.cache.SetRoute(ctx, key, resp, r.cacheTTL); err != nil {
			logger.Warn("Failed to cache route", zap.Error(err))
		}
	}

	logger.Info("Query routed",
		zap.String("query_id", resp.ID),
		zap.String("method", resp.Method),
		zap.Int("results", resultCount(resp)),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

func (r *Router) dispatch(ctx context.Context, req Request, c classifier.Classification, topK int, resp *Response) {
	if task := inspection.DetectTask(c); task != nil && r.inspector != nil {
		result, err := r.inspector.Run(ctx, req.ProjectID, *task)
		switch {
		case err != nil:
			resp.Degraded = append(resp.Degraded, MethodVisualInspection+": "+err.Error())
			logger.Warn("Inspection failed, degrading", zap.Error(err))
		case result.RequiresProcessing:
			resp.Inspection = result
			resp.Degraded = append(resp.Degraded, MethodVisualInspection+": no extracted data, falling back to text search")
		default:
			resp.Method = MethodVisualInspection
			resp.Inspection = result
			return
		}
	}

	if c.NeedsCompleteData {
		data, err := r.complete.Fetch(ctx, req.ProjectID, c.ItemName)
		if err != nil {
			resp.Degraded = append(resp.Degraded, MethodCompleteData+": "+err.Error())
			logger.Warn("Complete retrieval failed, degrading", zap.Error(err))
		} else if len(data.Chunks) > 0 {
			resp.Method = MethodCompleteData
			resp.Complete = data
			return
		}
	}

	if c.Type == classifier.TypeQuantity {
		direct, err := r.direct.Search(ctx, req.ProjectID, c)
		if err != nil {
			resp.Degraded = append(resp.Degraded, MethodDirectLookup+": "+err.Error())
			logger.Warn("Direct lookup failed, degrading", zap.Error(err))
		} else if direct != nil && !direct.FromIndexSheet {
			resp.Method = MethodDirectLookup
			resp.Direct = direct
			// Vector corroboration rides along so the answer can cite the
			// sheets the number came from.
			if results, err := r.vector.Search(ctx, req.ProjectID, req.Query, c, topK); err == nil {
				resp.Results = results
			}
			return
		} else if direct != nil {
			// Index-list rows over-count; keep the row as context but let
			// vector search carry the answer.
			resp.Direct = direct
			resp.Degraded = append(resp.Degraded, MethodDirectLookup+": only index-sheet data available")
		}
	}

	results, err := r.vector.Search(ctx, req.ProjectID, req.Query, c, topK)
	if err != nil {
		resp.Degraded = append(resp.Degraded, MethodVectorSearch+": "+err.Error())
		logger.Error("Vector search failed", zap.Error(err))
		return
	}
	resp.Method = MethodVectorSearch
	resp.Results = dedupeResults(results)
}

func dedupeResults(results []retrieval.EnhancedResult) []retrieval.EnhancedResult {
	seen := make(map[string]bool, len(results))
	out := results[:0]
	for _, res := range results {
		if seen[res.ChunkID] {
			continue
		}
		seen[res.ChunkID] = true
		out = append(out, res)
	}
	return out
}

func resultCount(resp *Response) int {
	switch {
	case resp.Inspection != nil && resp.Method == MethodVisualInspection:
		return len(resp.Inspection.Findings)
	case resp.Complete != nil:
		return len(resp.Complete.Chunks)
	case resp.Direct != nil && resp.Method == MethodDirectLookup:
		return 1 + len(resp.Results)
	default:
		return len(resp.Results)
	}
}

// confidence blends the classifier's certainty with how strong the
// chosen strategy's evidence is.
func (r *Router) confidence(c classifier.Classification, resp *Response) float64 {
	confidence := c.Confidence * 0.5

	switch resp.Method {
	case MethodDirectLookup:
		confidence += resp.Direct.Similarity * 0.5
	case MethodVisualInspection:
		var sum float64
		for _, f := range resp.Inspection.Findings {
			sum += f.Confidence
		}
		if n := len(resp.Inspection.Findings); n > 0 {
			confidence += 0.5 * sum / float64(n)
		}
	case MethodCompleteData:
		if len(resp.Complete.Chunks) > 0 {
			confidence += 0.4
		}
	case MethodVectorSearch:
		if len(resp.Results) > 0 && resp.Results[0].BoostedScore > 0.7 {
			confidence += 0.3
		} else if len(resp.Results) > 0 {
			confidence += 0.2
		}
	}

	confidence -= 0.05 * float64(len(resp.Degraded))
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}
