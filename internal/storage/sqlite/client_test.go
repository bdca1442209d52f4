package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/pkg/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	require.NoError(t, logger.Init("error", "console", "stdout"))

	c, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.InitSchema())
	return c
}

func insertTestDocument(t *testing.T, c *Client, projectID string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Name:        "waterline-plans.pdf",
		ContentType: "application/pdf",
		PageCount:   12,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, c.InsertDocument(doc))
	return doc
}

func TestSearchQuantitiesFuzzyMatch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	doc := insertTestDocument(t, c, "p1")

	qty := models.Quantity{
		ID:            uuid.New().String(),
		DocumentID:    doc.ID,
		ProjectID:     "p1",
		ItemName:      "Water Line A",
		Quantity:      2450,
		Unit:          "LF",
		Confidence:    0.8,
		SourceContext: models.SourceQuantityTable,
	}
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "vision", []models.Quantity{qty}))

	matches, err := c.SearchQuantities(ctx, "p1", "waterline a", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Water Line A", matches[0].Quantity.ItemName)
	assert.Equal(t, 1.0, matches[0].Similarity)

	// No cross-project leakage.
	other, err := c.SearchQuantities(ctx, "p2", "waterline a", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReplaceQuantitiesIsDestructiveThenRecreate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	doc := insertTestDocument(t, c, "p1")

	first := []models.Quantity{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", ItemName: "Gate Valve", Quantity: 4, Confidence: 0.7, SourceContext: models.SourceDrawingLabel},
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", ItemName: "Fire Hydrant", Quantity: 2, Confidence: 0.7, SourceContext: models.SourceDrawingLabel},
	}
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "vision", first))

	// Reprocessing must remove all prior rows for (document, method):
	// no duplicate accumulation across reprocess cycles.
	second := []models.Quantity{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", ItemName: "Gate Valve", Quantity: 5, Confidence: 0.85, SourceContext: models.SourceDrawingLabel},
	}
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "vision", second))

	matches, err := c.SearchQuantities(ctx, "p1", "gate valve", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 5.0, matches[0].Quantity.Quantity)

	gone, err := c.SearchQuantities(ctx, "p1", "fire hydrant", 10)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestReplaceScopedByMethod(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	doc := insertTestDocument(t, c, "p1")

	visionRows := []models.Quantity{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", ItemName: "Gate Valve", Quantity: 4, Confidence: 0.7, SourceContext: models.SourceDrawingLabel},
	}
	textRows := []models.Quantity{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", ItemName: "Gate Valve", Quantity: 3, Confidence: 0.5, SourceContext: models.SourceIndexList},
	}
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "vision", visionRows))
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "text", textRows))

	// Reprocessing one method leaves the other method's rows alone.
	require.NoError(t, c.ReplaceQuantities(ctx, doc.ID, "vision", visionRows))
	matches, err := c.SearchQuantities(ctx, "p1", "gate valve", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestUpdateVisionStatus(t *testing.T) {
	c := newTestClient(t)
	doc := insertTestDocument(t, c, "p1")

	require.NoError(t, c.UpdateVisionStatus(doc.ID, models.VisionProcessing, "", 0))
	require.NoError(t, c.UpdateVisionStatus(doc.ID, models.VisionCompleted, "", 1.25))

	got, err := c.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisionCompleted, got.VisionStatus)
	assert.InDelta(t, 1.25, got.VisionCostUSD, 0.001)
	assert.NotNil(t, got.ProcessedAt)

	assert.ErrorIs(t, c.UpdateVisionStatus("missing", models.VisionFailed, "boom", 0), ErrDocumentNotFound)
}

func TestGetDocumentNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetDocument("nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestChunkQueriesAndMaxStation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	doc := insertTestDocument(t, c, "p1")

	sta := func(v float64) *float64 { return &v }
	chunks := []models.Chunk{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", SheetNumber: "CU102", SheetType: "plan", Text: "WATER LINE 'A' STA 4+38.83", StationFeet: sta(438.83), IsCallout: true, CreatedAt: time.Now()},
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", SheetNumber: "CU101", SheetType: "plan", Text: "WATER LINE 'A' STA 2+00", StationFeet: sta(200), IsCallout: true, CreatedAt: time.Now()},
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", SheetNumber: "G-01", SheetType: "index", Text: "SHEET INDEX", CreatedAt: time.Now()},
	}
	for i := range chunks {
		require.NoError(t, c.InsertChunk(&chunks[i]))
	}

	bySheets, err := c.GetChunksBySheets(ctx, "p1", []string{"CU101", "CU102"})
	require.NoError(t, err)
	require.Len(t, bySheets, 2)
	assert.Equal(t, "CU101", bySheets[0].SheetNumber)
	assert.Equal(t, "CU102", bySheets[1].SheetNumber)

	callouts, err := c.GetCalloutChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, callouts, 2)

	sheets, err := c.FindSheetsMatching(ctx, "p1", []string{"water line 'a'"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CU101", "CU102"}, sheets)

	max, err := c.GetMaxStation(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 438.83, max, 0.001)
}

func TestTerminationPointsOrderedByStation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	doc := insertTestDocument(t, c, "p1")

	points := []models.TerminationPoint{
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", Type: models.TermEnd, StationFeet: 2450, UtilityType: "WATER"},
		{ID: uuid.New().String(), DocumentID: doc.ID, ProjectID: "p1", Type: models.TermBegin, StationFeet: 100, UtilityType: "WATER"},
	}
	require.NoError(t, c.ReplaceTerminationPoints(ctx, doc.ID, "vision", points))

	got, err := c.GetTerminationPoints(ctx, "p1", "WATER")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.TermBegin, got[0].Type)
	assert.Equal(t, models.TermEnd, got[1].Type)
}
