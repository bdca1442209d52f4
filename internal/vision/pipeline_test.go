package vision

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/config"
	"github.com/plan-agent/backend/pkg/logger"
)

type fakeRenderer struct {
	mu        sync.Mutex
	failPage  map[int]bool
	calls     int
	lastScale float64
}

func (f *fakeRenderer) RenderPage(ctx context.Context, documentID string, page int, scale float64) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.lastScale = scale
	f.mu.Unlock()
	if f.failPage[page] {
		return nil, fmt.Errorf("render service returned status 500 for page %d", page)
	}
	return []byte("png-bytes"), nil
}

type fakeAnalyzer struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	analysis    llm.VisionAnalysis
	err         error
}

func (f *fakeAnalyzer) AnalyzeSheetImage(ctx context.Context, imagePNG []byte, task llm.ExtractionTask) (*llm.VisionAnalysis, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	// Long enough that overlapping calls are observable.
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	a := f.analysis
	a.SheetNumber = fmt.Sprintf("CU-%03d", n)
	return &a, nil
}

func testVisionConfig() config.VisionConfig {
	return config.VisionConfig{
		Model:                "gpt-4o",
		ImageScale:           2.0,
		BatchPageThreshold:   200,
		BatchWorkers:         3,
		MaxQuantitiesPerPage: 20,
		MaxCrossingsPerPage:  5,
	}
}

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()
	require.NoError(t, logger.Init("error", "console", "stdout"))

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	return db
}

func seedDoc(t *testing.T, db *sqlite.Client, pages int, contentType string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:          uuid.New().String(),
		ProjectID:   "p1",
		Name:        "plans.pdf",
		ContentType: contentType,
		PageCount:   pages,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, db.InsertDocument(doc))
	return doc
}

func TestProcessDocumentPersistsExtraction(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 2, "application/pdf")

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{
		SheetType: "plan",
		Quantities: []llm.VisionQuantity{
			{ItemName: "8-IN GATE VALVE", Quantity: 2, Unit: "EA", StationFrom: "13+50", Confidence: 0.9, SourceContext: "drawing_label"},
		},
		TerminationPoints: []llm.VisionTermination{
			{Type: "BEGIN", Station: "10+00", UtilityType: "WATER"},
		},
		UtilityCrossings: []llm.VisionCrossing{
			{CrossingUtility: "GAS", Station: "12+25", Description: "EX GAS CROSSING"},
		},
		CostUSD: 0.05,
	}}

	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.PagesProcessed)
	assert.Equal(t, 2, res.Quantities)
	assert.Equal(t, 2, res.TerminationPoints)
	assert.Equal(t, 2, res.UtilityCrossings)
	assert.InDelta(t, 0.10, res.CostUSD, 1e-9)

	stored, err := db.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisionCompleted, stored.VisionStatus)
	assert.NotNil(t, stored.ProcessedAt)

	points, err := db.GetTerminationPoints(context.Background(), "p1", "")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, models.TermBegin, points[0].Type)
	assert.Equal(t, 1000.0, points[0].StationFeet)

	matches, err := db.SearchQuantities(context.Background(), "p1", "gate valve", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestProcessDocumentSkipsNonPDF(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 3, "image/tiff")

	p := NewPipeline(db, &fakeRenderer{}, &fakeAnalyzer{}, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.False(t, res.Success)

	stored, err := db.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisionSkipped, stored.VisionStatus)
}

func TestProcessDocumentRejectsOversizedDocuments(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 201, "application/pdf")

	p := NewPipeline(db, &fakeRenderer{}, &fakeAnalyzer{}, testVisionConfig())
	_, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.ErrorIs(t, err, ErrTooManyPages)
}

func TestProcessDocumentFailsWhenNoPageSucceeds(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 2, "application/pdf")

	p := NewPipeline(db, &fakeRenderer{failPage: map[int]bool{1: true, 2: true}}, &fakeAnalyzer{}, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.PagesFailed)
	require.Len(t, res.PageErrors, 2)

	stored, err := db.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisionFailed, stored.VisionStatus)
	assert.NotEmpty(t, stored.VisionError)
}

func TestProcessDocumentToleratesPartialPageFailure(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 3, "application/pdf")

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan", CostUSD: 0.02}}
	p := NewPipeline(db, &fakeRenderer{failPage: map[int]bool{2: true}}, analyzer, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.PagesProcessed)
	assert.Equal(t, 1, res.PagesFailed)
	require.Len(t, res.PageErrors, 1)
	assert.Equal(t, 2, res.PageErrors[0].Page)
}

func TestProcessDocumentDropsComponentsReportedAsCrossings(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 1, "application/pdf")

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{
		SheetType: "plan",
		UtilityCrossings: []llm.VisionCrossing{
			{CrossingUtility: "GAS", Station: "12+25", Description: "EX GAS CROSSING"},
			{CrossingUtility: "WATER", Station: "13+00", Description: "12-IN 45 BEND"},
		},
	}}

	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.UtilityCrossings)
	crossings, err := db.GetUtilityCrossings(context.Background(), "p1", "")
	require.NoError(t, err)
	require.Len(t, crossings, 1)
	assert.Equal(t, "GAS", crossings[0].CrossingUtility)
}

func TestProcessBatchRunsDocumentsInWaves(t *testing.T) {
	db := newTestDB(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, seedDoc(t, db, 2, "application/pdf").ID)
	}

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan", CostUSD: 0.01}}
	cfg := testVisionConfig()
	cfg.BatchWorkers = 2
	p := NewPipeline(db, &fakeRenderer{}, analyzer, cfg)

	progress := make(chan BatchProgress, 16)
	batch, err := p.ProcessBatch(context.Background(), ids, ProcessOptions{}, progress)
	require.NoError(t, err)
	close(progress)

	assert.Equal(t, 5, batch.DocumentsTotal)
	assert.Equal(t, 5, batch.DocumentsOK)
	assert.Zero(t, batch.DocumentsFailed)
	require.Len(t, batch.Results, 5)
	for _, res := range batch.Results {
		assert.True(t, res.Success, res.DocumentID)
		assert.Equal(t, 2, res.PagesProcessed, res.DocumentID)
	}

	// Documents run in parallel, pages inside a document do not, so two
	// workers never have more than two analyses in flight.
	assert.LessOrEqual(t, analyzer.maxInFlight, 2)

	var events []BatchProgress
	for ev := range progress {
		events = append(events, ev)
	}
	// One event per document; 5 documents with 2 workers is 3 waves.
	require.Len(t, events, 5)
	last := events[4]
	assert.Equal(t, 5, last.DocumentsDone)
	assert.InDelta(t, 100.0, last.PercentDone, 1e-9)
	assert.Equal(t, 3, last.WavesTotal)

	for _, id := range ids {
		stored, err := db.GetDocument(id)
		require.NoError(t, err)
		assert.Equal(t, models.VisionCompleted, stored.VisionStatus, id)
	}
}

func TestProcessBatchSpacesPagesWithinADocument(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 3, "application/pdf")

	cfg := testVisionConfig()
	cfg.PageDelay = 30 * time.Millisecond
	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan"}}
	p := NewPipeline(db, &fakeRenderer{}, analyzer, cfg)

	start := time.Now()
	batch, err := p.ProcessBatch(context.Background(), []string{doc.ID}, ProcessOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.DocumentsOK)
	// Three pages mean two inter-page delays.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestProcessBatchReportsPerDocumentFailures(t *testing.T) {
	db := newTestDB(t)
	good := seedDoc(t, db, 1, "application/pdf")
	missing := uuid.New().String()

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan"}}
	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())

	batch, err := p.ProcessBatch(context.Background(), []string{good.ID, missing}, ProcessOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.DocumentsOK)
	assert.Equal(t, 1, batch.DocumentsFailed)
	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].Success)
	assert.NotEmpty(t, batch.Results[1].Error)
}

func TestProcessDocumentHonorsSheetCapOptions(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 30, "application/pdf")

	cfg := testVisionConfig()
	cfg.MaxSheets = 25
	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan"}}
	p := NewPipeline(db, &fakeRenderer{}, analyzer, cfg)

	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 25, res.PagesProcessed)

	res, err = p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{ProcessAllSheets: true})
	require.NoError(t, err)
	assert.Equal(t, 30, res.PagesProcessed)

	res, err = p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{MaxSheets: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, res.PagesProcessed)
}

func TestProcessDocumentHonorsImageScaleOption(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 1, "application/pdf")

	renderer := &fakeRenderer{}
	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{SheetType: "plan"}}
	p := NewPipeline(db, renderer, analyzer, testVisionConfig())

	_, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, renderer.lastScale, 1e-9)

	_, err = p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{ImageScale: 3.5})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, renderer.lastScale, 1e-9)
}

func TestSkipQuantitiesKeepsStructuralExtractions(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 1, "application/pdf")

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{
		SheetType: "plan",
		Quantities: []llm.VisionQuantity{
			{ItemName: "8-IN GATE VALVE", Quantity: 2, Unit: "EA", Confidence: 0.9},
		},
		TerminationPoints: []llm.VisionTermination{
			{Type: "BEGIN", Station: "10+00", UtilityType: "WATER"},
		},
	}}

	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())
	res, err := p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{SkipQuantities: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, res.Quantities)
	assert.Equal(t, 1, res.TerminationPoints)

	matches, err := db.SearchQuantities(context.Background(), "p1", "gate valve", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFailedPersistenceSettlesDocumentStatus(t *testing.T) {
	require.NoError(t, logger.Init("error", "console", "stdout"))
	path := filepath.Join(t.TempDir(), "plans.db")

	db, err := sqlite.NewClient(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	doc := seedDoc(t, db, 1, "application/pdf")

	// Wreck the crossings table so the post-extraction write fails while
	// the documents table stays writable.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec("DROP TABLE utility_crossings")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{
		SheetType: "plan",
		UtilityCrossings: []llm.VisionCrossing{
			{CrossingUtility: "GAS", Station: "12+25", Description: "EX GAS CROSSING"},
		},
	}}
	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())

	_, err = p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.Error(t, err)

	status, serr := p.GetProcessingStatus(context.Background(), doc.ID)
	require.NoError(t, serr)
	assert.Equal(t, models.VisionFailed, status.Status)
	assert.NotEmpty(t, status.Error)

	// The document must not be parked in processing: a retry runs again
	// instead of being turned away.
	_, err = p.ProcessDocument(context.Background(), doc.ID, ProcessOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyProcessing)
}

func TestGetProcessingStatus(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 2, "application/pdf")

	p := NewPipeline(db, &fakeRenderer{}, &fakeAnalyzer{}, testVisionConfig())
	status, err := p.GetProcessingStatus(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisionPending, status.Status)

	_, err = p.GetProcessingStatus(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, sqlite.ErrDocumentNotFound)
}

func TestProcessSingleSheetDoesNotPersist(t *testing.T) {
	db := newTestDB(t)
	doc := seedDoc(t, db, 4, "application/pdf")

	analyzer := &fakeAnalyzer{analysis: llm.VisionAnalysis{
		SheetType:  "plan",
		Quantities: []llm.VisionQuantity{{ItemName: "FIRE HYDRANT", Quantity: 1, Unit: "EA", Confidence: 0.9}},
		CostUSD:    0.03,
	}}

	p := NewPipeline(db, &fakeRenderer{}, analyzer, testVisionConfig())
	res, err := p.ProcessSingleSheet(context.Background(), doc.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Page)
	assert.Len(t, res.Analysis.Quantities, 1)

	matches, err := db.SearchQuantities(context.Background(), "p1", "fire hydrant", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = p.ProcessSingleSheet(context.Background(), doc.ID, 9)
	assert.Error(t, err)
}

func TestValidateAnalysisFlagsSuspiciousExtractions(t *testing.T) {
	cfg := testVisionConfig()

	over := make([]llm.VisionQuantity, 21)
	for i := range over {
		over[i] = llm.VisionQuantity{ItemName: fmt.Sprintf("ITEM %d", i), Quantity: 1}
	}

	a := &llm.VisionAnalysis{
		Quantities: append(over,
			llm.VisionQuantity{ItemName: "BAD STATION", Quantity: 1, StationFrom: "13+2500"},
			llm.VisionQuantity{ItemName: "ROAD NAME", Quantity: 1, StationFrom: "MAIN STREET"},
			llm.VisionQuantity{ItemName: "NEGATIVE", Quantity: -3},
		),
	}

	warnings := ValidateAnalysis(a, cfg)
	joined := fmt.Sprint(warnings)
	assert.Contains(t, joined, "over-extraction")
	assert.Contains(t, joined, "13+2500")
	assert.Contains(t, joined, "road name")
	assert.Contains(t, joined, "negative quantity")

	clean := &llm.VisionAnalysis{
		Quantities: []llm.VisionQuantity{{ItemName: "OK", Quantity: 2, StationFrom: "13+50.25"}},
	}
	assert.Empty(t, ValidateAnalysis(clean, cfg))
}
