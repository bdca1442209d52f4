package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/pkg/logger"
)

var ErrDocumentNotFound = errors.New("document not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content_type TEXT,
		page_count INTEGER DEFAULT 0,
		vision_status TEXT NOT NULL DEFAULT 'pending',
		vision_error TEXT,
		vision_cost_usd REAL DEFAULT 0,
		processed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(vision_status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		sheet_number TEXT,
		sheet_type TEXT,
		text TEXT NOT NULL,
		station_feet REAL,
		is_callout INTEGER DEFAULT 0,
		embedding_id TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_sheet ON chunks(project_id, sheet_number);
	CREATE INDEX IF NOT EXISTS idx_chunks_callout ON chunks(project_id, is_callout);

	CREATE TABLE IF NOT EXISTS quantities (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		quantity REAL NOT NULL,
		unit TEXT,
		sheet_number TEXT,
		station_from REAL,
		station_to REAL,
		confidence REAL NOT NULL,
		source_context TEXT NOT NULL,
		method TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_quantities_project ON quantities(project_id);
	CREATE INDEX IF NOT EXISTS idx_quantities_name ON quantities(project_id, normalized_name);
	CREATE INDEX IF NOT EXISTS idx_quantities_doc_method ON quantities(document_id, method);

	CREATE TABLE IF NOT EXISTS termination_points (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		station_feet REAL NOT NULL,
		utility_type TEXT,
		sheet_reference TEXT,
		method TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_termpoints_project ON termination_points(project_id, utility_type);
	CREATE INDEX IF NOT EXISTS idx_termpoints_doc_method ON termination_points(document_id, method);

	CREATE TABLE IF NOT EXISTS utility_crossings (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		crossing_utility TEXT NOT NULL,
		station_feet REAL NOT NULL,
		elevation REAL,
		sheet_reference TEXT,
		method TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_crossings_project ON utility_crossings(project_id, crossing_utility);
	CREATE INDEX IF NOT EXISTS idx_crossings_doc_method ON utility_crossings(document_id, method);

	CREATE TABLE IF NOT EXISTS query_analytics (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		query_text TEXT NOT NULL,
		query_type TEXT,
		method TEXT,
		confidence REAL,
		result_count INTEGER,
		latency_ms INTEGER,
		success INTEGER DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_project ON query_analytics(project_id);
	CREATE INDEX IF NOT EXISTS idx_analytics_created ON query_analytics(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, project_id, name, content_type, page_count, vision_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			page_count = excluded.page_count,
			updated_at = excluded.updated_at
	`

	status := doc.VisionStatus
	if status == "" {
		status = models.VisionPending
	}

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.ProjectID,
		doc.Name,
		doc.ContentType,
		doc.PageCount,
		status,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("project_id", doc.ProjectID))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `
		SELECT id, project_id, name, content_type, page_count, vision_status,
			COALESCE(vision_error, ''), vision_cost_usd, processed_at, created_at, updated_at
		FROM documents WHERE id = ?
	`

	var doc models.Document
	var processedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.ProjectID,
		&doc.Name,
		&doc.ContentType,
		&doc.PageCount,
		&doc.VisionStatus,
		&doc.VisionError,
		&doc.VisionCostUSD,
		&processedAt,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		doc.ProcessedAt = &t
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

// UpdateVisionStatus is the single atomic state transition for a
// document's vision pipeline; no other synchronization exists or is
// needed around reprocessing.
func (c *Client) UpdateVisionStatus(docID, status, visionError string, costUSD float64) error {
	query := `
		UPDATE documents
		SET vision_status = ?, vision_error = ?, vision_cost_usd = vision_cost_usd + ?,
			processed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE processed_at END,
			updated_at = ?
		WHERE id = ?
	`

	now := time.Now().Unix()
	res, err := c.db.Exec(query, status, visionError, costUSD, status, now, now, docID)
	if err != nil {
		return fmt.Errorf("failed to update vision status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}

	logger.Info("Vision status updated",
		zap.String("doc_id", docID),
		zap.String("status", status),
	)
	return nil
}

func (c *Client) InsertChunk(chunk *models.Chunk) error {
	query := `
		INSERT INTO chunks (id, document_id, project_id, sheet_number, sheet_type, text, station_feet, is_callout, embedding_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	isCallout := 0
	if chunk.IsCallout {
		isCallout = 1
	}

	_, err := c.db.Exec(
		query,
		chunk.ID,
		chunk.DocumentID,
		chunk.ProjectID,
		chunk.SheetNumber,
		chunk.SheetType,
		chunk.Text,
		chunk.StationFeet,
		isCallout,
		chunk.EmbeddingID,
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	return nil
}

func (c *Client) scanChunks(rows *sql.Rows) ([]models.Chunk, error) {
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var stationFeet sql.NullFloat64
		var isCallout int
		var createdAt int64

		err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ProjectID, &ch.SheetNumber,
			&ch.SheetType, &ch.Text, &stationFeet, &isCallout,
			&ch.EmbeddingID, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		if stationFeet.Valid {
			v := stationFeet.Float64
			ch.StationFeet = &v
		}
		ch.IsCallout = isCallout == 1
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

const chunkColumns = `id, document_id, project_id, COALESCE(sheet_number, ''), COALESCE(sheet_type, ''), text, station_feet, is_callout, COALESCE(embedding_id, ''), created_at`

// GetChunksBySheets fetches every chunk on the given sheets, ordered by
// sheet number then station for deterministic, auditable output.
func (c *Client) GetChunksBySheets(ctx context.Context, projectID string, sheetNumbers []string) ([]models.Chunk, error) {
	if len(sheetNumbers) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(sheetNumbers))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT %s FROM chunks
		WHERE project_id = ? AND sheet_number IN (%s)
		ORDER BY sheet_number, station_feet
	`, chunkColumns, placeholders)

	args := make([]interface{}, 0, len(sheetNumbers)+1)
	args = append(args, projectID)
	for _, s := range sheetNumbers {
		args = append(args, s)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by sheets: %w", err)
	}
	return c.scanChunks(rows)
}

// GetCalloutChunks returns all callout-typed chunks in a project.
func (c *Client) GetCalloutChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chunks
		WHERE project_id = ? AND is_callout = 1
		ORDER BY sheet_number, station_feet
	`, chunkColumns)

	rows, err := c.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get callout chunks: %w", err)
	}
	return c.scanChunks(rows)
}

// GetAllChunks returns every chunk in a project; fallback for projects
// ingested before callout detection existed.
func (c *Client) GetAllChunks(ctx context.Context, projectID string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chunks
		WHERE project_id = ?
		ORDER BY sheet_number, station_feet
	`, chunkColumns)

	rows, err := c.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get all chunks: %w", err)
	}
	return c.scanChunks(rows)
}

// FindSheetsMatching returns the distinct sheet numbers whose text
// contains any of the given variants.
func (c *Client) FindSheetsMatching(ctx context.Context, projectID string, variants []string) ([]string, error) {
	if len(variants) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(variants))
	args := make([]interface{}, 0, len(variants)+1)
	args = append(args, projectID)
	for _, v := range variants {
		conditions = append(conditions, "UPPER(text) LIKE ?")
		args = append(args, "%"+strings.ToUpper(v)+"%")
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT sheet_number FROM chunks
		WHERE project_id = ? AND sheet_number IS NOT NULL AND sheet_number != '' AND (%s)
		ORDER BY sheet_number
	`, strings.Join(conditions, " OR "))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching sheets: %w", err)
	}
	defer rows.Close()

	var sheets []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan sheet number: %w", err)
		}
		sheets = append(sheets, s)
	}
	return sheets, rows.Err()
}

type QuantityMatch struct {
	Quantity   models.Quantity
	Similarity float64
}

// SearchQuantities is the fuzzy structured lookup: "waterline a" must
// match a row stored as "Water Line A". Matching runs over normalized
// names; similarity is a coarse containment score, enough to rank exact
// normalized hits above substring hits.
func (c *Client) SearchQuantities(ctx context.Context, projectID, term string, limit int) ([]QuantityMatch, error) {
	normalized := models.NormalizeName(term)
	if normalized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, document_id, project_id, item_name, normalized_name, quantity,
			COALESCE(unit, ''), COALESCE(sheet_number, ''), station_from, station_to,
			confidence, source_context, method, created_at
		FROM quantities
		WHERE project_id = ? AND (normalized_name = ? OR normalized_name LIKE ? OR ? LIKE '%' || normalized_name || '%')
		ORDER BY CASE WHEN normalized_name = ? THEN 0 ELSE 1 END, confidence DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query,
		projectID, normalized, "%"+normalized+"%", normalized, normalized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search quantities: %w", err)
	}
	defer rows.Close()

	var matches []QuantityMatch
	for rows.Next() {
		var q models.Quantity
		var stationFrom, stationTo sql.NullFloat64
		var createdAt int64

		err := rows.Scan(
			&q.ID, &q.DocumentID, &q.ProjectID, &q.ItemName, &q.NormalizedName,
			&q.Quantity, &q.Unit, &q.SheetNumber, &stationFrom, &stationTo,
			&q.Confidence, &q.SourceContext, &q.Method, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quantity: %w", err)
		}

		if stationFrom.Valid {
			v := stationFrom.Float64
			q.StationFrom = &v
		}
		if stationTo.Valid {
			v := stationTo.Float64
			q.StationTo = &v
		}
		q.CreatedAt = time.Unix(createdAt, 0)

		matches = append(matches, QuantityMatch{
			Quantity:   q,
			Similarity: nameSimilarity(normalized, q.NormalizedName),
		})
	}

	return matches, rows.Err()
}

func nameSimilarity(query, stored string) float64 {
	switch {
	case query == stored:
		return 1.0
	case strings.Contains(stored, query) || strings.Contains(query, stored):
		shorter, longer := len(query), len(stored)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return float64(shorter) / float64(longer)
	default:
		return 0
	}
}

// GetQuantitiesBySheet returns every extracted quantity labeled with the
// given sheet number. Sheet numbers are matched case-insensitively and
// with hyphens ignored, so "CU107" finds rows stored as "CU-107".
func (c *Client) GetQuantitiesBySheet(ctx context.Context, projectID, sheetNumber string) ([]models.Quantity, error) {
	key := strings.ToUpper(strings.ReplaceAll(sheetNumber, "-", ""))

	query := `
		SELECT id, document_id, project_id, item_name, normalized_name, quantity,
			COALESCE(unit, ''), COALESCE(sheet_number, ''), station_from, station_to,
			confidence, source_context, method, created_at
		FROM quantities
		WHERE project_id = ? AND UPPER(REPLACE(COALESCE(sheet_number, ''), '-', '')) = ?
		ORDER BY item_name
	`

	rows, err := c.db.QueryContext(ctx, query, projectID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query sheet quantities: %w", err)
	}
	defer rows.Close()

	var quantities []models.Quantity
	for rows.Next() {
		var q models.Quantity
		var stationFrom, stationTo sql.NullFloat64
		var createdAt int64

		err := rows.Scan(
			&q.ID, &q.DocumentID, &q.ProjectID, &q.ItemName, &q.NormalizedName,
			&q.Quantity, &q.Unit, &q.SheetNumber, &stationFrom, &stationTo,
			&q.Confidence, &q.SourceContext, &q.Method, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quantity: %w", err)
		}

		if stationFrom.Valid {
			v := stationFrom.Float64
			q.StationFrom = &v
		}
		if stationTo.Valid {
			v := stationTo.Float64
			q.StationTo = &v
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		quantities = append(quantities, q)
	}
	return quantities, rows.Err()
}

// ReplaceQuantities implements destructive-then-recreate reprocessing:
// all prior rows for the (document, method) pair are removed before the
// new rows are written, so repeat runs never accumulate duplicates.
func (c *Client) ReplaceQuantities(ctx context.Context, documentID, method string, quantities []models.Quantity) error {
	return c.replaceRows(ctx, "quantities", documentID, method, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO quantities (id, document_id, project_id, item_name, normalized_name, quantity,
				unit, sheet_number, station_from, station_to, confidence, source_context, method, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, q := range quantities {
			normalized := q.NormalizedName
			if normalized == "" {
				normalized = models.NormalizeName(q.ItemName)
			}
			_, err := stmt.ExecContext(ctx,
				q.ID, documentID, q.ProjectID, q.ItemName, normalized, q.Quantity,
				q.Unit, q.SheetNumber, q.StationFrom, q.StationTo,
				q.Confidence, q.SourceContext, method, time.Now().Unix(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) ReplaceTerminationPoints(ctx context.Context, documentID, method string, points []models.TerminationPoint) error {
	return c.replaceRows(ctx, "termination_points", documentID, method, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO termination_points (id, document_id, project_id, type, station_feet, utility_type, sheet_reference, method, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range points {
			_, err := stmt.ExecContext(ctx,
				p.ID, documentID, p.ProjectID, p.Type, p.StationFeet,
				p.UtilityType, p.SheetReference, method, time.Now().Unix(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) ReplaceUtilityCrossings(ctx context.Context, documentID, method string, crossings []models.UtilityCrossing) error {
	return c.replaceRows(ctx, "utility_crossings", documentID, method, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO utility_crossings (id, document_id, project_id, crossing_utility, station_feet, elevation, sheet_reference, method, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, cr := range crossings {
			_, err := stmt.ExecContext(ctx,
				cr.ID, documentID, cr.ProjectID, cr.CrossingUtility, cr.StationFeet,
				cr.Elevation, cr.SheetReference, method, time.Now().Unix(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) replaceRows(ctx context.Context, table, documentID, method string, insert func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE document_id = ? AND method = ?", table),
		documentID, method)
	if err != nil {
		return fmt.Errorf("failed to delete prior %s rows: %w", table, err)
	}

	if err := insert(tx); err != nil {
		return fmt.Errorf("failed to insert %s rows: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s replacement: %w", table, err)
	}
	return nil
}

// GetTerminationPoints returns points for a project, optionally filtered
// by utility, ordered by station so BEGIN/END pairing is a linear scan.
func (c *Client) GetTerminationPoints(ctx context.Context, projectID, utilityType string) ([]models.TerminationPoint, error) {
	query := `
		SELECT id, document_id, project_id, type, station_feet, COALESCE(utility_type, ''), COALESCE(sheet_reference, ''), method, created_at
		FROM termination_points
		WHERE project_id = ?
	`
	args := []interface{}{projectID}
	if utilityType != "" {
		query += " AND utility_type = ?"
		args = append(args, utilityType)
	}
	query += " ORDER BY station_feet"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get termination points: %w", err)
	}
	defer rows.Close()

	var points []models.TerminationPoint
	for rows.Next() {
		var p models.TerminationPoint
		var createdAt int64
		err := rows.Scan(&p.ID, &p.DocumentID, &p.ProjectID, &p.Type, &p.StationFeet,
			&p.UtilityType, &p.SheetReference, &p.Method, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan termination point: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (c *Client) GetUtilityCrossings(ctx context.Context, projectID, crossingUtility string) ([]models.UtilityCrossing, error) {
	query := `
		SELECT id, document_id, project_id, crossing_utility, station_feet, elevation, COALESCE(sheet_reference, ''), method, created_at
		FROM utility_crossings
		WHERE project_id = ?
	`
	args := []interface{}{projectID}
	if crossingUtility != "" {
		query += " AND crossing_utility = ?"
		args = append(args, crossingUtility)
	}
	query += " ORDER BY station_feet"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get utility crossings: %w", err)
	}
	defer rows.Close()

	var crossings []models.UtilityCrossing
	for rows.Next() {
		var cr models.UtilityCrossing
		var elevation sql.NullFloat64
		var createdAt int64
		err := rows.Scan(&cr.ID, &cr.DocumentID, &cr.ProjectID, &cr.CrossingUtility,
			&cr.StationFeet, &elevation, &cr.SheetReference, &cr.Method, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan utility crossing: %w", err)
		}
		if elevation.Valid {
			v := elevation.Float64
			cr.Elevation = &v
		}
		cr.CreatedAt = time.Unix(createdAt, 0)
		crossings = append(crossings, cr)
	}
	return crossings, rows.Err()
}

// GetMaxStation returns the largest station seen in a project's chunks,
// used to estimate open-ended range lengths.
func (c *Client) GetMaxStation(ctx context.Context, projectID string) (float64, error) {
	var max sql.NullFloat64
	err := c.db.QueryRowContext(ctx,
		"SELECT MAX(station_feet) FROM chunks WHERE project_id = ?", projectID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max station: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Float64, nil
}

func (c *Client) InsertQueryAnalytics(record *models.QueryAnalytics) error {
	query := `
		INSERT INTO query_analytics (id, project_id, query_text, query_type, method, confidence, result_count, latency_ms, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if record.Success {
		success = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.ProjectID,
		record.QueryText,
		record.QueryType,
		record.Method,
		record.Confidence,
		record.ResultCount,
		record.LatencyMS,
		success,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query analytics: %w", err)
	}

	return nil
}

// GetQueryAnalytics returns the most recent routing records for a
// project, newest first.
func (c *Client) GetQueryAnalytics(ctx context.Context, projectID string, limit int) ([]models.QueryAnalytics, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, project_id, query_text, query_type, method, confidence, result_count, latency_ms, success, created_at
		FROM query_analytics
		WHERE project_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()

	var records []models.QueryAnalytics
	for rows.Next() {
		var r models.QueryAnalytics
		var success int
		var createdAt int64
		err := rows.Scan(&r.ID, &r.ProjectID, &r.QueryText, &r.QueryType, &r.Method,
			&r.Confidence, &r.ResultCount, &r.LatencyMS, &success, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analytics record: %w", err)
		}
		r.Success = success == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}
