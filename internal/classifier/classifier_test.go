package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plan-agent/backend/internal/docstruct"
)

func TestClassifyTotalLength(t *testing.T) {
	c := Classify("What is the total length of waterline A?")

	assert.Equal(t, TypeQuantity, c.Type)
	normalized := strings.ReplaceAll(strings.ToLower(c.ItemName), " ", "")
	assert.Equal(t, "waterlinea", normalized)
	assert.False(t, c.NeedsVisualInspection)
}

func TestClassifyComponentCount(t *testing.T) {
	c := Classify("How many 12-inch gate valves are on sheet CU107?")

	assert.Equal(t, TypeQuantity, c.Type)
	assert.Equal(t, "12-IN", c.SizeFilter)
	assert.Equal(t, "CU107", c.SheetNumber)
	assert.Contains(t, c.ItemName, "gate valve")
	assert.True(t, c.NeedsVisualInspection)
}

func TestClassifyLocationFromStation(t *testing.T) {
	c := Classify("What is at station 13+00 on the water line?")

	require.NotNil(t, c.Station)
	assert.InDelta(t, 1300, c.Station.TotalFeet(), 0.001)
	assert.Equal(t, TypeLocation, c.Type)
}

func TestClassifyFirstStationIsAnchor(t *testing.T) {
	c := Classify("what runs between STA 13+00 and STA 18+50")

	require.NotNil(t, c.Station)
	assert.InDelta(t, 1300, c.Station.TotalFeet(), 0.001)
}

func TestClassifyMaterialTakeoff(t *testing.T) {
	c := Classify("Give me a material takeoff for waterline A")

	assert.True(t, c.NeedsCompleteData)
}

func TestClassifyEmptyAndGarbled(t *testing.T) {
	empty := Classify("")
	assert.Equal(t, TypeGeneral, empty.Type)
	assert.LessOrEqual(t, empty.Confidence, 0.5)

	garbled := Classify("zxcv 0x00 ~~~~")
	assert.Equal(t, TypeGeneral, garbled.Type)
	assert.LessOrEqual(t, garbled.Confidence, 0.5)
}

func TestClassifySpecification(t *testing.T) {
	c := Classify("What pressure class is the pipe material?")

	assert.Equal(t, TypeSpecification, c.Type)
	assert.Contains(t, c.SearchHints.PreferredSheetTypes, docstruct.SheetDetail)
}

func TestClassifyConfidenceGrowsWithMatches(t *testing.T) {
	weak := Classify("how many widgets")
	strong := Classify("how many 12-inch gate valves at STA 13+00 on sheet CU107")

	// Heuristic scores: only relative ordering is asserted.
	assert.Greater(t, strong.Confidence, weak.Confidence)
}

func TestQuantityHintsPreferPlanSheets(t *testing.T) {
	c := Classify("total number of fittings")

	assert.Contains(t, c.SearchHints.PreferredSheetTypes, docstruct.SheetPlan)
	assert.NotContains(t, c.SearchHints.PreferredSheetTypes, docstruct.SheetIndex)
}
