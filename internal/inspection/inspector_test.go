package inspection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/classifier"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()
	require.NoError(t, logger.Init("error", "console", "stdout"))

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	return db
}

func seedQuantities(t *testing.T, db *sqlite.Client, projectID string, quantities []models.Quantity) {
	t.Helper()
	doc := &models.Document{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Name:        "plans.pdf",
		ContentType: "application/pdf",
		PageCount:   8,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, db.InsertDocument(doc))
	for i := range quantities {
		quantities[i].ID = uuid.New().String()
		quantities[i].DocumentID = doc.ID
		quantities[i].ProjectID = projectID
	}
	require.NoError(t, db.ReplaceQuantities(context.Background(), doc.ID, "vision", quantities))
}

func TestDetectTaskFromClassification(t *testing.T) {
	c := classifier.Classify("How many 12-inch gate valves are on sheet CU107?")
	require.True(t, c.NeedsVisualInspection)

	task := DetectTask(c)
	require.NotNil(t, task)
	assert.Equal(t, TaskCountComponents, task.Type)
	assert.Equal(t, "12-IN", task.SizeFilter)
	assert.Equal(t, "CU107", task.SheetNumber)

	takeoff := DetectTask(classifier.Classify("Give me a material takeoff for the gate valves"))
	require.NotNil(t, takeoff)
	assert.Equal(t, TaskMaterialTakeoff, takeoff.Type)
	assert.NotEmpty(t, takeoff.SystemName)

	// System-level takeoffs stay on the complete-data text path.
	assert.Nil(t, DetectTask(classifier.Classify("Give me a material takeoff for waterline A")))
	assert.Nil(t, DetectTask(classifier.Classify("What is the pipe bedding specification?")))
}

func TestCountComponentsWithSizeFilter(t *testing.T) {
	db := newTestDB(t)
	seedQuantities(t, db, "p1", []models.Quantity{
		{ItemName: "12-IN GATE VALVE", Quantity: 3, Unit: "EA", SheetNumber: "CU-107", Confidence: 0.9, SourceContext: models.SourceDrawingLabel},
		{ItemName: "8-IN GATE VALVE", Quantity: 2, Unit: "EA", SheetNumber: "CU-107", Confidence: 0.9, SourceContext: models.SourceDrawingLabel},
		{ItemName: "12-IN GATE VALVE", Quantity: 1, Unit: "EA", SheetNumber: "CU-109", Confidence: 0.9, SourceContext: models.SourceDrawingLabel},
	})

	inspector := NewInspector(db)
	res, err := inspector.Run(context.Background(), "p1", Task{
		Type:          TaskCountComponents,
		ComponentType: "gate valve",
		SizeFilter:    "12-IN",
		SheetNumber:   "CU107",
	})
	require.NoError(t, err)

	// The 8-inch valve and the other sheet's valve are excluded.
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 3.0, res.TotalCount)
	assert.False(t, res.RequiresProcessing)
}

func TestCountComponentsRequiresProcessingWhenEmpty(t *testing.T) {
	db := newTestDB(t)

	inspector := NewInspector(db)
	res, err := inspector.Run(context.Background(), "p1", Task{
		Type:          TaskCountComponents,
		ComponentType: "fire hydrant",
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresProcessing)
	assert.Empty(t, res.Findings)
}

func TestLocateComponentReportsStations(t *testing.T) {
	db := newTestDB(t)
	from := 1250.0
	to := 1480.0
	seedQuantities(t, db, "p1", []models.Quantity{
		{ItemName: "FIRE HYDRANT ASSEMBLY", Quantity: 1, Unit: "EA", SheetNumber: "CU-104", StationFrom: &from, Confidence: 0.85, SourceContext: models.SourceDrawingLabel},
		{ItemName: "FIRE HYDRANT ASSEMBLY", Quantity: 1, Unit: "EA", SheetNumber: "CU-105", StationFrom: &to, Confidence: 0.85, SourceContext: models.SourceDrawingLabel},
		{ItemName: "FIRE HYDRANT ASSEMBLY", Quantity: 1, Unit: "EA", SheetNumber: "CU-106", Confidence: 0.85, SourceContext: models.SourceDrawingLabel},
	})

	inspector := NewInspector(db)
	res, err := inspector.Run(context.Background(), "p1", Task{
		Type:          TaskLocateComponent,
		ComponentType: "fire hydrant",
	})
	require.NoError(t, err)

	// Rows without a station cannot answer a location question.
	require.Len(t, res.Findings, 2)
	var stations []string
	for _, f := range res.Findings {
		stations = append(stations, f.Stations...)
	}
	assert.ElementsMatch(t, []string{"12+50.00", "14+80.00"}, stations)
}

func TestMaterialTakeoffAggregatesSystem(t *testing.T) {
	db := newTestDB(t)
	seedQuantities(t, db, "p1", []models.Quantity{
		{ItemName: "Water Line A", Quantity: 2450, Unit: "LF", Confidence: 0.9, SourceContext: models.SourceQuantityTable},
		{ItemName: "Water Line A Fittings", Quantity: 14, Unit: "EA", Confidence: 0.8, SourceContext: models.SourceQuantityTable},
	})

	inspector := NewInspector(db)
	res, err := inspector.Run(context.Background(), "p1", Task{
		Type:       TaskMaterialTakeoff,
		SystemName: "waterline a",
	})
	require.NoError(t, err)
	assert.Len(t, res.Findings, 2)
	assert.False(t, res.RequiresProcessing)
}
