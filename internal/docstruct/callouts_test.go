package docstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCalloutsSingleComponent(t *testing.T) {
	text := "WATER LINE 'A' STA 13+00\n- 1 - 12-IN GATE VALVE AND VALVE BOX"

	callouts := DetectCallouts(text)
	require.Len(t, callouts, 1)

	box := callouts[0]
	assert.Contains(t, box.SystemName, "WATER LINE")
	assert.InDelta(t, 1300, box.Station.TotalFeet(), 0.001)

	require.Len(t, box.Components, 1)
	comp := box.Components[0]
	assert.Equal(t, 1, comp.Quantity)
	assert.Equal(t, "12-IN", comp.Size)
	assert.Contains(t, comp.Name, "GATE VALVE")
}

func TestDetectCalloutsClosesOnNonComponentLine(t *testing.T) {
	text := "WATER LINE 'A' STA 13+00\n" +
		"- 1 - 12-IN GATE VALVE AND VALVE BOX\n" +
		"- 2 - 12-IN 45 BEND\n" +
		"SEE SHEET CU105 FOR CONTINUATION\n" +
		"- 1 - 12-IN TEE\n"

	callouts := DetectCallouts(text)
	require.Len(t, callouts, 1)
	assert.Len(t, callouts[0].Components, 2)
}

func TestDetectCalloutsMultipleBoxes(t *testing.T) {
	text := "WATER LINE 'A' STA 13+00\n" +
		"- 1 - 12-IN GATE VALVE AND VALVE BOX\n" +
		"WATER LINE 'B' STA 22+50\n" +
		"- 2 - 8-IN GATE VALVE AND VALVE BOX\n" +
		"- 1 - 8-IN PLUG\n"

	callouts := DetectCallouts(text)
	require.Len(t, callouts, 2)
	assert.Equal(t, "WATER LINE 'A'", callouts[0].SystemName)
	assert.Equal(t, "WATER LINE 'B'", callouts[1].SystemName)
	assert.Len(t, callouts[1].Components, 2)
}

func TestCalloutConfidenceOrdering(t *testing.T) {
	empty := DetectCallouts("SANITARY SEWER STA 4+00\nnothing structured here")
	one := DetectCallouts("SANITARY SEWER STA 4+00\n- 1 - 8-IN PLUG")
	three := DetectCallouts("SANITARY SEWER STA 4+00\n- 1 - 8-IN PLUG\n- 2 - 8-IN 45 BEND\n- 1 - 8-IN TEE")

	require.Len(t, empty, 1)
	require.Len(t, one, 1)
	require.Len(t, three, 1)

	// Heuristic scores: only relative ordering is meaningful.
	assert.Equal(t, 0.7, empty[0].Confidence)
	assert.Equal(t, 0.9, one[0].Confidence)
	assert.Equal(t, 0.95, three[0].Confidence)
	assert.Greater(t, three[0].Confidence, one[0].Confidence)
	assert.Greater(t, one[0].Confidence, empty[0].Confidence)
}

func TestDetectCalloutsEmptyInput(t *testing.T) {
	assert.Empty(t, DetectCallouts(""))
	assert.Empty(t, DetectCallouts("no structured content at all"))
}

func TestIsMatchLineNoise(t *testing.T) {
	noise := "MATCH LINE - WATER LINE 'A' STA 4+38.83 SEE SHEET CU102"
	assert.True(t, IsMatchLineNoise(noise))

	withData := noise + "\n1 - 12-IN GATE VALVE"
	assert.False(t, IsMatchLineNoise(withData))

	// No match-line marker at all: not noise regardless of density.
	assert.False(t, IsMatchLineNoise("SEE SHEET CU102 FOR CONTINUATION"))
}

func TestClassifySheetType(t *testing.T) {
	tests := []struct {
		sheetNumber string
		text        string
		want        SheetType
	}{
		{"G-01", "SHEET INDEX", SheetIndex},
		{"CU107", "MATCH LINE STA 13+00", SheetPlan},
		{"CP-03", "PROFILE VERT SCALE 1IN=5FT", SheetProfile},
		{"CD-01", "TRENCH DETAIL", SheetDetail},
		{"C-02", "SUMMARY OF QUANTITIES", SheetSummary},
		{"X-99", "", SheetUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySheetType(tt.sheetNumber, tt.text), tt.sheetNumber)
	}
}

func TestLooksLikeIndexSheet(t *testing.T) {
	assert.True(t, LooksLikeIndexSheet(SheetIndex, "CU107", ""))
	assert.True(t, LooksLikeIndexSheet(SheetUnknown, "G-01", ""))
	assert.True(t, LooksLikeIndexSheet(SheetPlan, "CU107", "TABLE OF CONTENTS"))
	assert.False(t, LooksLikeIndexSheet(SheetPlan, "CU107", "12-IN GATE VALVE"))
}
