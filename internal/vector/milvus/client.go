package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// ChunkVector is one indexed chunk with the scalar fields the re-ranking
// layer filters and scores on. StationFeet < 0 means no station.
type ChunkVector struct {
	ChunkID     string
	Embedding   []float32
	Text        string
	ProjectID   string
	SheetNumber string
	SheetType   string
	StationFeet float64
	IsCallout   bool
}

type SearchResult struct {
	ChunkID     string
	Text        string
	SheetNumber string
	SheetType   string
	StationFeet float64
	IsCallout   bool
	Score       float32
}

// SearchFilters narrow a vector search by scalar fields.
type SearchFilters struct {
	SheetTypes  []string
	SheetNumber string
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Plan sheet chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "project_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "sheet_number",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "sheet_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "station_feet",
				DataType: entity.FieldTypeFloat,
			},
			{
				Name:     "is_callout",
				DataType: entity.FieldTypeBool,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []ChunkVector) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	projectIDs := make([]string, len(chunks))
	sheetNumbers := make([]string, len(chunks))
	sheetTypes := make([]string, len(chunks))
	stations := make([]float32, len(chunks))
	callouts := make([]bool, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ChunkID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		projectIDs[i] = chunk.ProjectID
		sheetNumbers[i] = chunk.SheetNumber
		sheetTypes[i] = chunk.SheetType
		stations[i] = float32(chunk.StationFeet)
		callouts[i] = chunk.IsCallout
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("project_id", projectIDs),
		entity.NewColumnVarChar("sheet_number", sheetNumbers),
		entity.NewColumnVarChar("sheet_type", sheetTypes),
		entity.NewColumnFloat("station_feet", stations),
		entity.NewColumnBool("is_callout", callouts),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector index", zap.Int("count", len(chunks)))

	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, projectID string, topK int, filters SearchFilters) ([]SearchResult, error) {
	expr := fmt.Sprintf(`project_id == "%s"`, projectID)
	if len(filters.SheetTypes) > 0 {
		quoted := make([]string, len(filters.SheetTypes))
		for i, st := range filters.SheetTypes {
			quoted[i] = fmt.Sprintf("%q", st)
		}
		expr += fmt.Sprintf(" && sheet_type in [%s]", strings.Join(quoted, ", "))
	}
	if filters.SheetNumber != "" {
		expr += fmt.Sprintf(` && sheet_number == "%s"`, filters.SheetNumber)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "sheet_number", "sheet_type", "station_feet", "is_callout"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)
			sheetNumber, _ := sr.Fields.GetColumn("sheet_number").Get(i)
			sheetType, _ := sr.Fields.GetColumn("sheet_type").Get(i)
			stationFeet, _ := sr.Fields.GetColumn("station_feet").Get(i)
			isCallout, _ := sr.Fields.GetColumn("is_callout").Get(i)

			result := SearchResult{
				ChunkID:     chunkID.(string),
				Text:        text.(string),
				SheetNumber: sheetNumber.(string),
				SheetType:   sheetType.(string),
				Score:       sr.Scores[i],
			}
			if f, ok := stationFeet.(float32); ok {
				result.StationFeet = float64(f)
			}
			if b, ok := isCallout.(bool); ok {
				result.IsCallout = b
			}
			results = append(results, result)
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)

	return results, nil
}
