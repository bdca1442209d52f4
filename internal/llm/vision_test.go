package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisionResponsePlain(t *testing.T) {
	content := `{"sheet_number": "CU103", "sheet_type": "plan",
		"quantities": [{"item_name": "GATE VALVE", "quantity": 2, "unit": "EA", "station_from": "13+00", "confidence": 0.9, "source_context": "drawing_label"}]}`

	analysis, err := parseVisionResponse(content)
	require.NoError(t, err)
	assert.Equal(t, "CU103", analysis.SheetNumber)
	require.Len(t, analysis.Quantities, 1)
	assert.Equal(t, 2.0, analysis.Quantities[0].Quantity)
}

func TestParseVisionResponseFenced(t *testing.T) {
	content := "```json\n{\"sheet_number\": \"CU104\", \"termination_points\": [{\"type\": \"BEGIN\", \"station\": \"1+00\", \"utility_type\": \"WATER\"}]}\n```"

	analysis, err := parseVisionResponse(content)
	require.NoError(t, err)
	assert.Equal(t, "CU104", analysis.SheetNumber)
	require.Len(t, analysis.TerminationPoints, 1)
	assert.Equal(t, "BEGIN", analysis.TerminationPoints[0].Type)
}

func TestParseVisionResponsePadded(t *testing.T) {
	content := "Here is the extraction:\n{\"sheet_number\": \"CU105\", \"utility_crossings\": []}\nDone."

	analysis, err := parseVisionResponse(content)
	require.NoError(t, err)
	assert.Equal(t, "CU105", analysis.SheetNumber)
}

func TestParseVisionResponseGarbage(t *testing.T) {
	_, err := parseVisionResponse("I could not read the sheet.")
	assert.Error(t, err)

	_, err = parseVisionResponse("")
	assert.Error(t, err)
}

func TestTaskPromptsMentionTheirShapes(t *testing.T) {
	assert.Contains(t, TaskQuantities.Prompt(), "source_context")
	assert.Contains(t, TaskTerminationPoints.Prompt(), "TIE_IN")
	assert.Contains(t, TaskUtilityCrossings.Prompt(), "crossing_utility")
	assert.Contains(t, TaskFullExtraction.Prompt(), "termination_points")
}
