package models

import (
	"regexp"
	"strings"
	"time"
)

// Vision processing states. A document moves pending → processing →
// completed/failed; skipped marks non-eligible documents.
const (
	VisionPending    = "pending"
	VisionProcessing = "processing"
	VisionCompleted  = "completed"
	VisionFailed     = "failed"
	VisionSkipped    = "skipped"
)

// Source contexts for extracted quantities, in ascending order of trust:
// index lists duplicate and truncate, tables are usually right, labels
// drawn on the sheet are authoritative.
const (
	SourceIndexList     = "index_list"
	SourceQuantityTable = "quantity_table"
	SourceDrawingLabel  = "drawing_label"
)

// Termination point types.
const (
	TermBegin    = "BEGIN"
	TermEnd      = "END"
	TermTieIn    = "TIE_IN"
	TermTerminus = "TERMINUS"
)

type Document struct {
	ID            string
	ProjectID     string
	Name          string
	ContentType   string
	PageCount     int
	VisionStatus  string
	VisionError   string
	VisionCostUSD float64
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Chunk struct {
	ID          string
	DocumentID  string
	ProjectID   string
	SheetNumber string
	SheetType   string
	Text        string
	StationFeet *float64
	IsCallout   bool
	EmbeddingID string
	CreatedAt   time.Time
}

type Quantity struct {
	ID             string
	DocumentID     string
	ProjectID      string
	ItemName       string
	NormalizedName string
	Quantity       float64
	Unit           string
	SheetNumber    string
	StationFrom    *float64
	StationTo      *float64
	Confidence     float64
	SourceContext  string
	Method         string
	CreatedAt      time.Time
}

type TerminationPoint struct {
	ID             string
	DocumentID     string
	ProjectID      string
	Type           string
	StationFeet    float64
	UtilityType    string
	SheetReference string
	Method         string
	CreatedAt      time.Time
}

type UtilityCrossing struct {
	ID              string
	DocumentID      string
	ProjectID       string
	CrossingUtility string
	StationFeet     float64
	Elevation       *float64
	SheetReference  string
	Method          string
	CreatedAt       time.Time
}

type QueryAnalytics struct {
	ID          string
	ProjectID   string
	QueryText   string
	QueryType   string
	Method      string
	Confidence  float64
	ResultCount int
	LatencyMS   int
	Success     bool
	CreatedAt   time.Time
}

var nameJunk = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName reduces an item or system name to a lowercase
// alphanumeric key so "Water Line 'A'", "waterline a" and "WATER LINE A"
// all collide. Both the writer (extraction) and the reader (fuzzy
// lookup) go through this.
func NormalizeName(name string) string {
	return nameJunk.ReplaceAllString(strings.ToLower(name), "")
}
