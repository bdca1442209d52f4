package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractionTask selects the vision prompt for a sheet analysis call.
type ExtractionTask string

const (
	TaskQuantities        ExtractionTask = "quantities"
	TaskTerminationPoints ExtractionTask = "termination_points"
	TaskUtilityCrossings  ExtractionTask = "utility_crossings"
	TaskFullExtraction    ExtractionTask = "full_extraction"
)

// VisionAnalysis is the parsed result of one sheet analysis call.
type VisionAnalysis struct {
	SheetNumber       string              `json:"sheet_number"`
	SheetType         string              `json:"sheet_type"`
	Quantities        []VisionQuantity    `json:"quantities"`
	TerminationPoints []VisionTermination `json:"termination_points"`
	UtilityCrossings  []VisionCrossing    `json:"utility_crossings"`
	CostUSD           float64             `json:"-"`
	Usage             Usage               `json:"-"`
}

type VisionQuantity struct {
	ItemName      string  `json:"item_name"`
	Quantity      float64 `json:"quantity"`
	Unit          string  `json:"unit"`
	StationFrom   string  `json:"station_from"`
	StationTo     string  `json:"station_to"`
	Confidence    float64 `json:"confidence"`
	SourceContext string  `json:"source_context"`
}

type VisionTermination struct {
	Type        string `json:"type"`
	Station     string `json:"station"`
	UtilityType string `json:"utility_type"`
}

type VisionCrossing struct {
	CrossingUtility string   `json:"crossing_utility"`
	Station         string   `json:"station"`
	Elevation       *float64 `json:"elevation"`
	Description     string   `json:"description"`
}

const visionSystemPrompt = `You are a civil utility plan reader. You analyze scanned construction plan sheets and return ONLY valid JSON, no prose, no markdown fences.

Station notation is MAJOR+OFFSET where one major unit is 100 feet ("13+00" is 1300 feet). Report stations exactly as printed.

A utility crossing is a DIFFERENT utility system crossing the one being drawn. Valves, tees, bends, deflections and other fittings of the primary utility are components, NEVER crossings.`

func (t ExtractionTask) Prompt() string {
	switch t {
	case TaskQuantities:
		return `Extract every quantity visible on this sheet: callout components, quantity tables, and labels drawn on the plan.

Return JSON:
{"sheet_number": "...", "sheet_type": "plan|profile|detail|summary|index|legend|title|unknown",
 "quantities": [{"item_name": "...", "quantity": 0, "unit": "EA|LF|...", "station_from": "13+00", "station_to": "", "confidence": 0.0, "source_context": "index_list|quantity_table|drawing_label"}]}

source_context must reflect where the number was read: drawing_label for labels on the drawing itself, quantity_table for tabulated values, index_list for table-of-contents style listings.`
	case TaskTerminationPoints:
		return `Find every BEGIN, END, TIE-IN, and TERMINUS marker bounding a utility run on this sheet.

Return JSON:
{"sheet_number": "...", "sheet_type": "...",
 "termination_points": [{"type": "BEGIN|END|TIE_IN|TERMINUS", "station": "13+00", "utility_type": "WATER|SANITARY SEWER|..."}]}`
	case TaskUtilityCrossings:
		return `Find every point where a DIFFERENT utility crosses the primary utility on this sheet. Do not report fittings of the primary utility.

Return JSON:
{"sheet_number": "...", "sheet_type": "...",
 "utility_crossings": [{"crossing_utility": "SANITARY SEWER", "station": "14+20", "elevation": null, "description": "EX 8-IN SS"}]}`
	default:
		return `Extract all structured data from this sheet: quantities, termination points (BEGIN/END/TIE_IN/TERMINUS), and utility crossings.

Return JSON:
{"sheet_number": "...", "sheet_type": "plan|profile|detail|summary|index|legend|title|unknown",
 "quantities": [{"item_name": "...", "quantity": 0, "unit": "...", "station_from": "", "station_to": "", "confidence": 0.0, "source_context": "drawing_label"}],
 "termination_points": [{"type": "BEGIN", "station": "13+00", "utility_type": "WATER"}],
 "utility_crossings": [{"crossing_utility": "...", "station": "...", "elevation": null, "description": "..."}]}`
	}
}

// parseVisionResponse tolerates fenced and padded model output: it
// extracts the outermost JSON object before unmarshalling.
func parseVisionResponse(content string) (*VisionAnalysis, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in vision response")
	}

	var analysis VisionAnalysis
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("invalid vision JSON: %w", err)
	}

	return &analysis, nil
}
