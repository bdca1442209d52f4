package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/pkg/logger"
)

const sheetText = `WATER LINE 'A' PLAN AND PROFILE
STA 10+00 TO STA 15+00

WATER LINE 'A' STA 12+50
1 - 8-IN GATE VALVE
1 - 8-IN X 6-IN TEE

GENERAL NOTES: ALL PIPE SHALL BE DR-18 PVC`

func TestChunkSheetSplitsCalloutsFromBody(t *testing.T) {
	require.NoError(t, logger.Init("error", "console", "stdout"))

	p := NewProcessor(nil, nil, nil)
	doc := &models.Document{ID: "d1", ProjectID: "p1"}

	chunks := p.chunkSheet(doc, SheetInput{
		PageNumber:  3,
		SheetNumber: "CU-103",
		Text:        sheetText,
	})

	require.Len(t, chunks, 2)

	callout := chunks[0]
	assert.True(t, callout.IsCallout)
	require.NotNil(t, callout.StationFeet)
	assert.Equal(t, 1250.0, *callout.StationFeet)
	assert.Contains(t, callout.Text, "GATE VALVE")

	body := chunks[1]
	assert.False(t, body.IsCallout)
	assert.Contains(t, body.Text, "GENERAL NOTES")
	assert.NotContains(t, body.Text, "GATE VALVE")
	// Every chunk inherits the sheet-level classification.
	assert.Equal(t, callout.SheetType, body.SheetType)
}

func TestChunkSheetEmptyText(t *testing.T) {
	p := NewProcessor(nil, nil, nil)
	doc := &models.Document{ID: "d1", ProjectID: "p1"}

	assert.Nil(t, p.chunkSheet(doc, SheetInput{SheetNumber: "CU-104", Text: "   "}))
}
