// Package ingestion loads extracted sheet text into the retrieval
// stores: sqlite for structured access, milvus for semantic search.
// Callout boxes become their own chunks so re-ranking can favor them.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/docstruct"
	"github.com/plan-agent/backend/internal/llm"
	"github.com/plan-agent/backend/internal/station"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/internal/vector/milvus"
	"github.com/plan-agent/backend/pkg/logger"
)

// SheetInput is one sheet's OCR text, as delivered by the upstream
// text-extraction service.
type SheetInput struct {
	PageNumber  int    `json:"page_number"`
	SheetNumber string `json:"sheet_number"`
	Text        string `json:"text"`
}

type IngestResult struct {
	DocumentID    string `json:"document_id"`
	Sheets        int    `json:"sheets"`
	Chunks        int    `json:"chunks"`
	CalloutChunks int    `json:"callout_chunks"`
}

type Processor struct {
	db       *sqlite.Client
	vectorDB *milvus.Client
	llm      *llm.Client
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client) *Processor {
	return &Processor{
		db:       db,
		vectorDB: vectorDB,
		llm:      llmClient,
	}
}

// IngestDocument registers the document and indexes every sheet. Callout
// boxes are split out as dedicated chunks carrying the box station; the
// rest of the sheet text becomes one chunk per sheet.
func (p *Processor) IngestDocument(ctx context.Context, doc *models.Document, sheets []SheetInput) (*IngestResult, error) {
	logger.Info("Ingesting document",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("sheets", len(sheets)),
	)

	if doc.VisionStatus == "" {
		doc.VisionStatus = models.VisionPending
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := p.db.InsertDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	var chunks []models.Chunk
	callouts := 0
	for _, sheet := range sheets {
		sheetChunks := p.chunkSheet(doc, sheet)
		for _, ch := range sheetChunks {
			if ch.IsCallout {
				callouts++
			}
		}
		chunks = append(chunks, sheetChunks...)
	}

	if len(chunks) == 0 {
		return &IngestResult{DocumentID: doc.ID, Sheets: len(sheets)}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	embeddings, err := p.llm.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	vectors := make([]milvus.ChunkVector, len(chunks))
	for i := range chunks {
		chunks[i].EmbeddingID = chunks[i].ID
		if err := p.db.InsertChunk(&chunks[i]); err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}

		stationFeet := -1.0
		if chunks[i].StationFeet != nil {
			stationFeet = *chunks[i].StationFeet
		}
		vectors[i] = milvus.ChunkVector{
			ChunkID:     chunks[i].ID,
			Embedding:   embeddings[i],
			Text:        chunks[i].Text,
			ProjectID:   chunks[i].ProjectID,
			SheetNumber: chunks[i].SheetNumber,
			SheetType:   chunks[i].SheetType,
			StationFeet: stationFeet,
			IsCallout:   chunks[i].IsCallout,
		}
	}

	if err := p.vectorDB.Insert(ctx, vectors); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}

	logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("callout_chunks", callouts),
	)

	return &IngestResult{
		DocumentID:    doc.ID,
		Sheets:        len(sheets),
		Chunks:        len(chunks),
		CalloutChunks: callouts,
	}, nil
}

func (p *Processor) chunkSheet(doc *models.Document, sheet SheetInput) []models.Chunk {
	text := strings.TrimSpace(sheet.Text)
	if text == "" {
		return nil
	}

	sheetType := string(docstruct.ClassifySheetType(sheet.SheetNumber, text))
	now := time.Now()

	var chunks []models.Chunk
	boxes := docstruct.DetectCallouts(text)
	for _, box := range boxes {
		feet := box.Station.TotalFeet()
		chunks = append(chunks, models.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			ProjectID:   doc.ProjectID,
			SheetNumber: sheet.SheetNumber,
			SheetType:   sheetType,
			Text:        text[box.SpanStart:box.SpanEnd],
			StationFeet: &feet,
			IsCallout:   true,
			CreatedAt:   now,
		})
	}

	remainder := removeSpans(text, boxes)
	if strings.TrimSpace(remainder) != "" {
		chunk := models.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			ProjectID:   doc.ProjectID,
			SheetNumber: sheet.SheetNumber,
			SheetType:   sheetType,
			Text:        remainder,
			CreatedAt:   now,
		}
		if sta, ok := station.Parse(remainder); ok {
			feet := sta.TotalFeet()
			chunk.StationFeet = &feet
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// removeSpans cuts the callout box spans out of the sheet text so the
// remainder chunk does not duplicate them.
func removeSpans(text string, boxes []docstruct.CalloutBox) string {
	if len(boxes) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, box := range boxes {
		if box.SpanStart > last {
			b.WriteString(text[last:box.SpanStart])
		}
		if box.SpanEnd > last {
			last = box.SpanEnd
		}
	}
	if last < len(text) {
		b.WriteString(text[last:])
	}
	return strings.TrimSpace(b.String())
}
