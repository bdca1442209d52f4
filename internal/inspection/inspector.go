// Package inspection answers queries that need component-level evidence
// from the drawings themselves: counting symbols, locating components,
// and building material takeoffs from vision-extracted quantities.
package inspection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/classifier"
	"github.com/plan-agent/backend/internal/metrics"
	"github.com/plan-agent/backend/internal/station"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

type TaskType string

const (
	TaskCountComponents TaskType = "count_components"
	TaskLocateComponent TaskType = "locate_component"
	TaskMaterialTakeoff TaskType = "material_takeoff"
)

// Task is a structured visual-inspection request derived from a query.
type Task struct {
	Type          TaskType `json:"type"`
	ComponentType string   `json:"component_type"`
	SizeFilter    string   `json:"size_filter,omitempty"`
	SystemName    string   `json:"system_name,omitempty"`
	SheetNumber   string   `json:"sheet_number,omitempty"`
}

// Finding is one piece of evidence backing an inspection answer.
type Finding struct {
	ItemName    string   `json:"item_name"`
	Count       float64  `json:"count"`
	Unit        string   `json:"unit,omitempty"`
	SheetNumber string   `json:"sheet_number,omitempty"`
	Stations    []string `json:"stations,omitempty"`
	Confidence  float64  `json:"confidence"`
}

type Result struct {
	Task               Task      `json:"task"`
	Findings           []Finding `json:"findings"`
	TotalCount         float64   `json:"total_count"`
	RequiresProcessing bool      `json:"requires_processing"`
	Explanation        string    `json:"explanation"`
}

// DetectTask turns a classification into an inspection task, or nil when
// the query does not need one.
func DetectTask(c classifier.Classification) *Task {
	if !c.NeedsVisualInspection {
		return nil
	}

	task := &Task{
		Type:          TaskCountComponents,
		ComponentType: c.ItemName,
		SizeFilter:    c.SizeFilter,
		SheetNumber:   c.SheetNumber,
	}

	switch {
	case c.NeedsCompleteData:
		task.Type = TaskMaterialTakeoff
		task.SystemName = c.ItemName
	case c.Type == classifier.TypeLocation:
		task.Type = TaskLocateComponent
	}
	return task
}

// Inspector resolves inspection tasks against vision-extracted data.
type Inspector struct {
	db *sqlite.Client
}

func NewInspector(db *sqlite.Client) *Inspector {
	return &Inspector{db: db}
}

func (i *Inspector) Run(ctx context.Context, projectID string, task Task) (*Result, error) {
	logger.Info("Running inspection task",
		zap.String("project_id", projectID),
		zap.String("type", string(task.Type)),
		zap.String("component", task.ComponentType),
		zap.String("sheet", task.SheetNumber),
	)

	var result *Result
	var err error

	switch task.Type {
	case TaskCountComponents:
		result, err = i.countComponents(ctx, projectID, task)
	case TaskLocateComponent:
		result, err = i.locateComponent(ctx, projectID, task)
	case TaskMaterialTakeoff:
		result, err = i.materialTakeoff(ctx, projectID, task)
	default:
		return nil, fmt.Errorf("unsupported inspection task: %s", task.Type)
	}

	metrics.InspectionTasks.WithLabelValues(string(task.Type), taskStatus(result, err)).Inc()
	return result, err
}

func taskStatus(result *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.RequiresProcessing:
		return "needs_processing"
	default:
		return "ok"
	}
}

func (i *Inspector) countComponents(ctx context.Context, projectID string, task Task) (*Result, error) {
	quantities, err := i.candidates(ctx, projectID, task)
	if err != nil {
		return nil, err
	}

	result := &Result{Task: task}
	for _, q := range quantities {
		if !matchesComponent(q, task) {
			continue
		}
		result.Findings = append(result.Findings, toFinding(q))
		result.TotalCount += q.Quantity
	}

	if len(result.Findings) == 0 {
		result.RequiresProcessing = true
		result.Explanation = "no extracted component data matches; run vision processing on this document first"
		return result, nil
	}

	scope := "the project"
	if task.SheetNumber != "" {
		scope = "sheet " + task.SheetNumber
	}
	result.Explanation = fmt.Sprintf("counted %g %s on %s across %d extraction(s)",
		result.TotalCount, task.ComponentType, scope, len(result.Findings))
	return result, nil
}

func (i *Inspector) locateComponent(ctx context.Context, projectID string, task Task) (*Result, error) {
	quantities, err := i.candidates(ctx, projectID, task)
	if err != nil {
		return nil, err
	}

	result := &Result{Task: task}
	for _, q := range quantities {
		if !matchesComponent(q, task) {
			continue
		}
		f := toFinding(q)
		if len(f.Stations) == 0 {
			continue
		}
		result.Findings = append(result.Findings, f)
		result.TotalCount += q.Quantity
	}

	if len(result.Findings) == 0 {
		result.RequiresProcessing = true
		result.Explanation = "no station-referenced extractions match; run vision processing on this document first"
		return result, nil
	}

	result.Explanation = fmt.Sprintf("found %s at %d station reference(s)", task.ComponentType, len(result.Findings))
	return result, nil
}

func (i *Inspector) materialTakeoff(ctx context.Context, projectID string, task Task) (*Result, error) {
	matches, err := i.db.SearchQuantities(ctx, projectID, task.SystemName, 100)
	if err != nil {
		return nil, fmt.Errorf("takeoff lookup failed: %w", err)
	}

	result := &Result{Task: task}
	for _, m := range matches {
		result.Findings = append(result.Findings, toFinding(m.Quantity))
		result.TotalCount += m.Quantity.Quantity
	}

	if len(result.Findings) == 0 {
		result.RequiresProcessing = true
		result.Explanation = "no extracted quantities for this system; run vision processing first"
		return result, nil
	}

	result.Explanation = fmt.Sprintf("material takeoff for %s: %d line item(s)", task.SystemName, len(result.Findings))
	return result, nil
}

func (i *Inspector) candidates(ctx context.Context, projectID string, task Task) ([]models.Quantity, error) {
	if task.SheetNumber != "" {
		quantities, err := i.db.GetQuantitiesBySheet(ctx, projectID, task.SheetNumber)
		if err != nil {
			return nil, fmt.Errorf("sheet quantity lookup failed: %w", err)
		}
		return quantities, nil
	}

	matches, err := i.db.SearchQuantities(ctx, projectID, task.ComponentType, 100)
	if err != nil {
		return nil, fmt.Errorf("quantity lookup failed: %w", err)
	}
	quantities := make([]models.Quantity, len(matches))
	for idx, m := range matches {
		quantities[idx] = m.Quantity
	}
	return quantities, nil
}

// matchesComponent filters stored rows by the task's component name and
// size. Both sides compare on normalized names so "12-inch gate valve"
// matches "12-IN GATE VALVE".
func matchesComponent(q models.Quantity, task Task) bool {
	if task.ComponentType != "" {
		want := models.NormalizeName(task.ComponentType)
		got := models.NormalizeName(q.ItemName)
		if want != "" && !strings.Contains(got, want) && !strings.Contains(want, got) {
			return false
		}
	}
	if task.SizeFilter != "" {
		if !strings.Contains(models.NormalizeName(q.ItemName), models.NormalizeName(task.SizeFilter)) {
			return false
		}
	}
	return true
}

func toFinding(q models.Quantity) Finding {
	f := Finding{
		ItemName:    q.ItemName,
		Count:       q.Quantity,
		Unit:        q.Unit,
		SheetNumber: q.SheetNumber,
		Confidence:  q.Confidence,
	}
	if q.StationFrom != nil {
		f.Stations = append(f.Stations, station.FromFeet(*q.StationFrom).String())
	}
	if q.StationTo != nil {
		f.Stations = append(f.Stations, station.FromFeet(*q.StationTo).String())
	}
	return f
}
