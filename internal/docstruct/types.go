// Package docstruct recognizes structured sub-regions of extracted plan
// text: component callout boxes, match-line navigation noise, utility
// crossing indicators, and sheet-type hints.
package docstruct

import "github.com/plan-agent/backend/internal/station"

// SheetType classifies a plan sheet. It is a scoring hint attached at
// ingestion, not ground truth; index sheets in particular are unreliable.
type SheetType string

const (
	SheetTitle   SheetType = "title"
	SheetSummary SheetType = "summary"
	SheetPlan    SheetType = "plan"
	SheetProfile SheetType = "profile"
	SheetDetail  SheetType = "detail"
	SheetLegend  SheetType = "legend"
	SheetIndex   SheetType = "index"
	SheetUnknown SheetType = "unknown"
)

// Component is a single line item inside a callout box.
type Component struct {
	Quantity        int
	Size            string
	Name            string
	FullDescription string
}

// CalloutBox is a bounded region of plan text listing components at a
// station. Derived transiently from chunk text; never mutated, only
// re-derived when the source text changes.
type CalloutBox struct {
	Header     string
	SystemName string
	Station    station.Station
	Components []Component
	SpanStart  int
	SpanEnd    int
	Confidence float64
}

// CrossingIndicator marks a different utility system crossing the primary
// one. A point feature of the primary utility (valve, tee, bend) is never
// a crossing, no matter how the line is worded.
type CrossingIndicator struct {
	Utility  string
	Existing bool
	Station  *station.Station
	Context  string
}
