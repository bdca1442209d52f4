// Package vision drives structured extraction from scanned plan sheets:
// render page, send to the vision model, validate, persist. Extraction is
// destructive-then-recreate per (document, method), so reprocessing a
// document never accumulates duplicate rows.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/docstruct"
	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/internal/render"
	"github.com/plan-agent/backend/internal/station"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/config"
	"github.com/plan-agent/backend/pkg/logger"
)

// ExtractionMethod labels persisted rows with the pipeline that wrote
// them, so sequential and batch runs replace their own rows only.
const (
	MethodVision      = "vision"
	MethodVisionBatch = "vision_batch"
)

var (
	ErrAlreadyProcessing = errors.New("document is already being processed")
	// ErrTooManyPages directs oversized documents to the batch path.
	ErrTooManyPages = errors.New("document exceeds the sequential page limit, use batch processing")
)

// SheetAnalyzer is the vision model surface the pipeline needs.
type SheetAnalyzer interface {
	AnalyzeSheetImage(ctx context.Context, imagePNG []byte, task llm.ExtractionTask) (*llm.VisionAnalysis, error)
}

type PageError struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}

type ProcessResult struct {
	DocumentID        string      `json:"document_id"`
	Success           bool        `json:"success"`
	Skipped           bool        `json:"skipped,omitempty"`
	SkipReason        string      `json:"skip_reason,omitempty"`
	Error             string      `json:"error,omitempty"`
	PagesProcessed    int         `json:"pages_processed"`
	PagesFailed       int         `json:"pages_failed"`
	Quantities        int         `json:"quantities"`
	TerminationPoints int         `json:"termination_points"`
	UtilityCrossings  int         `json:"utility_crossings"`
	CostUSD           float64     `json:"cost_usd"`
	PageErrors        []PageError `json:"page_errors,omitempty"`
}

// ProcessOptions tunes one run. Zero values mean the configured
// defaults; SkipQuantities is phrased as the inverse of extracting
// quantities so the zero value keeps the full extraction.
type ProcessOptions struct {
	// MaxSheets caps how many pages a run reads. 0 uses the
	// configured cap.
	MaxSheets int
	// ProcessAllSheets lifts the sheet cap entirely.
	ProcessAllSheets bool
	// ImageScale overrides the configured render scale when positive.
	ImageScale float64
	// SkipQuantities restricts output to termination points and
	// utility crossings.
	SkipQuantities bool
}

// SheetResult is a single-sheet analysis for interactive inspection. It
// is returned to the caller and never persisted.
type SheetResult struct {
	Page     int                 `json:"page"`
	Analysis *llm.VisionAnalysis `json:"analysis"`
	Warnings []string            `json:"warnings,omitempty"`
	CostUSD  float64             `json:"cost_usd"`
}

// BatchProgress is one progress event from the batch path, emitted as
// each document settles.
type BatchProgress struct {
	DocumentID      string  `json:"document_id"`
	Success         bool    `json:"success"`
	Skipped         bool    `json:"skipped,omitempty"`
	PagesProcessed  int     `json:"pages_processed"`
	PagesFailed     int     `json:"pages_failed"`
	DocumentsDone   int     `json:"documents_done"`
	DocumentsTotal  int     `json:"documents_total"`
	DocumentsFailed int     `json:"documents_failed"`
	CostUSD         float64 `json:"cost_usd"`
	PercentDone     float64 `json:"percent_done"`
	CurrentWave     int     `json:"current_wave"`
	WavesTotal      int     `json:"waves_total"`
}

// BatchResult aggregates a multi-document batch run.
type BatchResult struct {
	DocumentsTotal  int             `json:"documents_total"`
	DocumentsOK     int             `json:"documents_ok"`
	DocumentsFailed int             `json:"documents_failed"`
	CostUSD         float64         `json:"cost_usd"`
	Results         []ProcessResult `json:"results"`
}

type Pipeline struct {
	db       *sqlite.Client
	renderer render.Renderer
	analyzer SheetAnalyzer
	cfg      config.VisionConfig
}

func NewPipeline(db *sqlite.Client, renderer render.Renderer, analyzer SheetAnalyzer, cfg config.VisionConfig) *Pipeline {
	return &Pipeline{
		db:       db,
		renderer: renderer,
		analyzer: analyzer,
		cfg:      cfg,
	}
}

// ProcessDocument runs sequential extraction over the pages of one
// document. Pages fail individually; the run fails only when no page
// succeeds or the document cannot be processed at all.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentID string, opts ProcessOptions) (*ProcessResult, error) {
	return p.runDocument(ctx, documentID, MethodVision, p.resolveOptions(opts), p.cfg.BatchPageThreshold)
}

// runDocument is the shared single-document run: validate, mark
// processing, walk the pages in order, settle the status. pageLimit 0
// accepts any page count.
func (p *Pipeline) runDocument(ctx context.Context, documentID, method string, opts ProcessOptions, pageLimit int) (*ProcessResult, error) {
	doc, skipped, err := p.beginRun(documentID, pageLimit)
	if err != nil {
		return nil, err
	}
	if skipped != nil {
		return skipped, nil
	}
	return p.finishRun(documentID, p.processPages(ctx, doc, method, opts))
}

// beginRun validates the document and moves it into processing. A
// non-nil ProcessResult means the document was skipped, not run.
func (p *Pipeline) beginRun(documentID string, pageLimit int) (*models.Document, *ProcessResult, error) {
	doc, err := p.db.GetDocument(documentID)
	if err != nil {
		return nil, nil, err
	}

	if skip := skipReason(doc); skip != "" {
		if err := p.db.UpdateVisionStatus(documentID, models.VisionSkipped, skip, 0); err != nil {
			return nil, nil, err
		}
		logger.Info("Skipping vision processing",
			zap.String("document_id", documentID),
			zap.String("reason", skip),
		)
		return nil, &ProcessResult{DocumentID: documentID, Skipped: true, SkipReason: skip}, nil
	}
	if doc.VisionStatus == models.VisionProcessing {
		return nil, nil, ErrAlreadyProcessing
	}
	if pageLimit > 0 && doc.PageCount > pageLimit {
		return nil, nil, fmt.Errorf("%w: %d pages", ErrTooManyPages, doc.PageCount)
	}

	if err := p.db.UpdateVisionStatus(documentID, models.VisionProcessing, "", 0); err != nil {
		return nil, nil, err
	}
	return doc, nil, nil
}

// ProcessSingleSheet analyzes one page on demand without persisting.
func (p *Pipeline) ProcessSingleSheet(ctx context.Context, documentID string, page int) (*SheetResult, error) {
	doc, err := p.db.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > doc.PageCount {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, doc.PageCount)
	}

	img, err := p.renderer.RenderPage(ctx, documentID, page, p.cfg.ImageScale)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	analysis, err := p.analyzer.AnalyzeSheetImage(ctx, img, llm.TaskFullExtraction)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze page %d: %w", page, err)
	}

	warnings := ValidateAnalysis(analysis, p.cfg)
	return &SheetResult{
		Page:     page,
		Analysis: analysis,
		Warnings: warnings,
		CostUSD:  analysis.CostUSD,
	}, nil
}

// ProcessBatch runs extraction over several documents in waves of
// concurrent document workers. Inside a document the pages still go one
// at a time with the inter-page delay; only whole documents run in
// parallel, and a wave finishes entirely before the next starts. The
// only state the workers share is each document's own status row.
// Progress events are sent to progress when it is non-nil as each
// document settles; sends never block.
func (p *Pipeline) ProcessBatch(ctx context.Context, documentIDs []string, opts ProcessOptions, progress chan<- BatchProgress) (*BatchResult, error) {
	if len(documentIDs) == 0 {
		return nil, errors.New("no documents to process")
	}
	opts = p.resolveOptions(opts)

	workers := p.cfg.BatchWorkers
	if workers < 1 {
		workers = 1
	}
	wavesTotal := (len(documentIDs) + workers - 1) / workers

	batch := &BatchResult{DocumentsTotal: len(documentIDs)}
	for wave := 0; wave*workers < len(documentIDs); wave++ {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		start := wave * workers
		end := start + workers
		if end > len(documentIDs) {
			end = len(documentIDs)
		}

		results := make([]ProcessResult, end-start)
		var wg sync.WaitGroup
		for i, id := range documentIDs[start:end] {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				res, err := p.runDocument(ctx, id, MethodVisionBatch, opts, 0)
				if err != nil {
					results[i] = ProcessResult{DocumentID: id, Error: err.Error()}
					return
				}
				results[i] = *res
			}(i, id)
		}
		wg.Wait()

		for _, res := range results {
			batch.Results = append(batch.Results, res)
			batch.CostUSD += res.CostUSD
			if res.Success || res.Skipped {
				batch.DocumentsOK++
			} else {
				batch.DocumentsFailed++
			}
			if progress == nil {
				continue
			}
			done := len(batch.Results)
			select {
			case progress <- BatchProgress{
				DocumentID:      res.DocumentID,
				Success:         res.Success,
				Skipped:         res.Skipped,
				PagesProcessed:  res.PagesProcessed,
				PagesFailed:     res.PagesFailed,
				DocumentsDone:   done,
				DocumentsTotal:  len(documentIDs),
				DocumentsFailed: batch.DocumentsFailed,
				CostUSD:         batch.CostUSD,
				PercentDone:     100 * float64(done) / float64(len(documentIDs)),
				CurrentWave:     wave + 1,
				WavesTotal:      wavesTotal,
			}:
			default:
			}
		}
	}
	return batch, nil
}

// GetProcessingStatus reports where a document is in the pipeline.
type ProcessingStatus struct {
	DocumentID  string     `json:"document_id"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	PageCount   int        `json:"page_count"`
	CostUSD     float64    `json:"cost_usd"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SequentialPageLimit is the largest document the sequential path will
// accept before directing callers to the batch path.
func (p *Pipeline) SequentialPageLimit() int {
	return p.cfg.BatchPageThreshold
}

func (p *Pipeline) GetProcessingStatus(ctx context.Context, documentID string) (*ProcessingStatus, error) {
	doc, err := p.db.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	status := doc.VisionStatus
	if status == "" {
		status = models.VisionPending
	}
	return &ProcessingStatus{
		DocumentID:  doc.ID,
		Status:      status,
		Error:       doc.VisionError,
		PageCount:   doc.PageCount,
		CostUSD:     doc.VisionCostUSD,
		ProcessedAt: doc.ProcessedAt,
	}, nil
}

func skipReason(doc *models.Document) string {
	if doc.ContentType != "application/pdf" {
		return fmt.Sprintf("unsupported content type %q", doc.ContentType)
	}
	if doc.PageCount < 1 {
		return "document has no pages"
	}
	return ""
}

func (p *Pipeline) resolveOptions(opts ProcessOptions) ProcessOptions {
	if opts.MaxSheets <= 0 {
		opts.MaxSheets = p.cfg.MaxSheets
	}
	if opts.ImageScale <= 0 {
		opts.ImageScale = p.cfg.ImageScale
	}
	return opts
}

func pageList(doc *models.Document, opts ProcessOptions) []int {
	n := doc.PageCount
	if !opts.ProcessAllSheets && opts.MaxSheets > 0 && n > opts.MaxSheets {
		n = opts.MaxSheets
	}
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

type pageOutcome struct {
	page     int
	analysis *llm.VisionAnalysis
	err      error
}

type runResult struct {
	processed      int
	failed         int
	cost           float64
	pageErrors     []PageError
	quantities     []models.Quantity
	terms          []models.TerminationPoint
	crossings      []models.UtilityCrossing
	method         string
	projectID      string
	documentID     string
	skipQuantities bool
	fatal          error
}

func (p *Pipeline) processPages(ctx context.Context, doc *models.Document, method string, opts ProcessOptions) *runResult {
	result := &runResult{
		method:         method,
		projectID:      doc.ProjectID,
		documentID:     doc.ID,
		skipQuantities: opts.SkipQuantities,
	}

	pages := pageList(doc, opts)
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			result.fatal = err
			return result
		}
		p.collect(result, p.processPage(ctx, doc, page, opts.ImageScale))

		// The vision API rate-limits aggressively; spacing requests
		// keeps a long document from tripping it.
		if i < len(pages)-1 && p.cfg.PageDelay > 0 {
			select {
			case <-time.After(p.cfg.PageDelay):
			case <-ctx.Done():
				result.fatal = ctx.Err()
				return result
			}
		}
	}
	return result
}

func (p *Pipeline) processPage(ctx context.Context, doc *models.Document, page int, scale float64) pageOutcome {
	img, err := p.renderer.RenderPage(ctx, doc.ID, page, scale)
	if err != nil {
		return pageOutcome{page: page, err: fmt.Errorf("render: %w", err)}
	}

	analysis, err := p.analyzer.AnalyzeSheetImage(ctx, img, llm.TaskFullExtraction)
	if err != nil {
		return pageOutcome{page: page, err: fmt.Errorf("analyze: %w", err)}
	}
	return pageOutcome{page: page, analysis: analysis}
}

func (p *Pipeline) collect(result *runResult, outcome pageOutcome) {
	if outcome.err != nil {
		result.failed++
		result.pageErrors = append(result.pageErrors, PageError{Page: outcome.page, Error: outcome.err.Error()})
		logger.Warn("Page extraction failed",
			zap.String("document_id", result.documentID),
			zap.Int("page", outcome.page),
			zap.Error(outcome.err),
		)
		return
	}

	analysis := outcome.analysis
	for _, w := range ValidateAnalysis(analysis, p.cfg) {
		logger.Warn("Suspicious extraction",
			zap.String("document_id", result.documentID),
			zap.Int("page", outcome.page),
			zap.String("warning", w),
		)
	}

	result.processed++
	result.cost += analysis.CostUSD
	result.terms = append(result.terms, p.toTerminationPoints(result, analysis)...)
	result.crossings = append(result.crossings, p.toCrossings(result, analysis)...)
	if !result.skipQuantities {
		result.quantities = append(result.quantities, p.toQuantities(result, analysis)...)
	}
}

// finishRun persists extraction output and settles the document status.
// Whatever happens on the write side, the document leaves processing:
// a persistence error marks it failed so a retry is possible.
func (p *Pipeline) finishRun(documentID string, r *runResult) (*ProcessResult, error) {
	result := &ProcessResult{
		DocumentID:        documentID,
		PagesProcessed:    r.processed,
		PagesFailed:       r.failed,
		Quantities:        len(r.quantities),
		TerminationPoints: len(r.terms),
		UtilityCrossings:  len(r.crossings),
		CostUSD:           r.cost,
		PageErrors:        r.pageErrors,
	}

	if r.fatal != nil || r.processed == 0 {
		msg := "no pages processed"
		if r.fatal != nil {
			msg = r.fatal.Error()
		} else if len(r.pageErrors) > 0 {
			msg = r.pageErrors[0].Error
		}
		if err := p.db.UpdateVisionStatus(documentID, models.VisionFailed, msg, r.cost); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := p.persist(documentID, r); err != nil {
		if uerr := p.db.UpdateVisionStatus(documentID, models.VisionFailed, err.Error(), r.cost); uerr != nil {
			logger.Error("Failed to settle document status after persistence error",
				zap.String("document_id", documentID),
				zap.Error(uerr),
			)
		}
		return nil, err
	}

	result.Success = true
	logger.Info("Vision processing complete",
		zap.String("document_id", documentID),
		zap.Int("pages", r.processed),
		zap.Int("failed", r.failed),
		zap.Int("quantities", len(r.quantities)),
		zap.Float64("cost_usd", r.cost),
	)
	return result, nil
}

// persist writes extraction output inside one run. Termination points
// land first, then crossings, then quantities, so a partial write never
// leaves quantities without their anchoring points.
func (p *Pipeline) persist(documentID string, r *runResult) error {
	ctx := context.Background()
	if err := p.db.ReplaceTerminationPoints(ctx, documentID, r.method, r.terms); err != nil {
		return fmt.Errorf("failed to store termination points: %w", err)
	}
	if err := p.db.ReplaceUtilityCrossings(ctx, documentID, r.method, r.crossings); err != nil {
		return fmt.Errorf("failed to store utility crossings: %w", err)
	}
	if err := p.db.ReplaceQuantities(ctx, documentID, r.method, r.quantities); err != nil {
		return fmt.Errorf("failed to store quantities: %w", err)
	}
	if err := p.db.UpdateVisionStatus(documentID, models.VisionCompleted, "", r.cost); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

func (p *Pipeline) toQuantities(r *runResult, a *llm.VisionAnalysis) []models.Quantity {
	out := make([]models.Quantity, 0, len(a.Quantities))
	for _, q := range a.Quantities {
		if strings.TrimSpace(q.ItemName) == "" {
			continue
		}
		m := models.Quantity{
			ID:            uuid.New().String(),
			DocumentID:    r.documentID,
			ProjectID:     r.projectID,
			ItemName:      q.ItemName,
			Quantity:      q.Quantity,
			Unit:          q.Unit,
			SheetNumber:   a.SheetNumber,
			Confidence:    q.Confidence,
			SourceContext: sourceContext(q.SourceContext),
			Method:        r.method,
		}
		if sta, ok := station.Parse(q.StationFrom); ok {
			f := sta.TotalFeet()
			m.StationFrom = &f
		}
		if sta, ok := station.Parse(q.StationTo); ok {
			f := sta.TotalFeet()
			m.StationTo = &f
		}
		out = append(out, m)
	}
	return out
}

func (p *Pipeline) toTerminationPoints(r *runResult, a *llm.VisionAnalysis) []models.TerminationPoint {
	out := make([]models.TerminationPoint, 0, len(a.TerminationPoints))
	for _, tp := range a.TerminationPoints {
		sta, ok := station.Parse(tp.Station)
		if !ok {
			continue
		}
		out = append(out, models.TerminationPoint{
			ID:             uuid.New().String(),
			DocumentID:     r.documentID,
			ProjectID:      r.projectID,
			Type:           termType(tp.Type),
			StationFeet:    sta.TotalFeet(),
			UtilityType:    tp.UtilityType,
			SheetReference: a.SheetNumber,
			Method:         r.method,
		})
	}
	return out
}

func (p *Pipeline) toCrossings(r *runResult, a *llm.VisionAnalysis) []models.UtilityCrossing {
	out := make([]models.UtilityCrossing, 0, len(a.UtilityCrossings))
	for _, cr := range a.UtilityCrossings {
		// The model sometimes reports fittings of the drawn utility as
		// crossings; those are components and get dropped here.
		if docstruct.IsPrimaryComponent(cr.Description) {
			logger.Debug("Dropping component reported as crossing",
				zap.String("description", cr.Description),
			)
			continue
		}
		sta, ok := station.Parse(cr.Station)
		if !ok {
			continue
		}
		out = append(out, models.UtilityCrossing{
			ID:              uuid.New().String(),
			DocumentID:      r.documentID,
			ProjectID:       r.projectID,
			CrossingUtility: cr.CrossingUtility,
			StationFeet:     sta.TotalFeet(),
			Elevation:       cr.Elevation,
			SheetReference:  a.SheetNumber,
			Method:          r.method,
		})
	}
	return out
}

func sourceContext(s string) string {
	switch s {
	case models.SourceIndexList, models.SourceQuantityTable, models.SourceDrawingLabel:
		return s
	default:
		return models.SourceDrawingLabel
	}
}

func termType(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case models.TermBegin:
		return models.TermBegin
	case models.TermEnd:
		return models.TermEnd
	case models.TermTieIn, "TIE-IN", "TIEIN":
		return models.TermTieIn
	default:
		return models.TermTerminus
	}
}
