package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/metrics"
	"github.com/plan-agent/backend/pkg/circuitbreaker"
	"github.com/plan-agent/backend/pkg/config"
	"github.com/plan-agent/backend/pkg/logger"
	"github.com/plan-agent/backend/pkg/retry"
)

type Client struct {
	client      *openai.Client
	llmCfg      config.LLMConfig
	visionCfg   config.VisionConfig
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(llmCfg config.LLMConfig, visionCfg config.VisionConfig) *Client {
	client := openai.NewClient(llmCfg.APIKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", llmCfg.Model),
		zap.String("embedding_model", llmCfg.EmbeddingModel),
		zap.String("vision_model", visionCfg.Model),
	)

	return &Client{
		client:      client,
		llmCfg:      llmCfg,
		visionCfg:   visionCfg,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.llmCfg.Temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.llmCfg.MaxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.llmCfg.Model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return wrapAPIError("failed to create completion", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(c.llmCfg.Model, "completion").Add(float64(resp.Usage.TotalTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.llmCfg.EmbeddingModel),
				},
			)

			if err != nil {
				return wrapAPIError("failed to generate embedding", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			metrics.LLMTokensUsed.WithLabelValues(c.llmCfg.EmbeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.llmCfg.EmbeddingModel),
					},
				)

				if err != nil {
					return wrapAPIError("failed to generate batch embeddings", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				metrics.LLMTokensUsed.WithLabelValues(c.llmCfg.EmbeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// AnalyzeSheetImage runs one vision call against a rendered plan sheet.
// The prompt depends on the extraction task; the response is structured
// JSON parsed leniently, since vision models fence and truncate output.
func (c *Client) AnalyzeSheetImage(ctx context.Context, imagePNG []byte, task ExtractionTask) (*VisionAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	imageURL := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(imagePNG))

	var analysis *VisionAnalysis

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:     c.visionCfg.Model,
					MaxTokens: 3000,
					Messages: []openai.ChatCompletionMessage{
						{
							Role:    openai.ChatMessageRoleSystem,
							Content: visionSystemPrompt,
						},
						{
							Role: openai.ChatMessageRoleUser,
							MultiContent: []openai.ChatMessagePart{
								{
									Type: openai.ChatMessagePartTypeText,
									Text: task.Prompt(),
								},
								{
									Type: openai.ChatMessagePartTypeImageURL,
									ImageURL: &openai.ChatMessageImageURL{
										URL:    imageURL,
										Detail: openai.ImageURLDetailHigh,
									},
								},
							},
						},
					},
				},
			)

			if err != nil {
				return wrapAPIError("failed to analyze sheet image", err)
			}

			parsed, err := parseVisionResponse(resp.Choices[0].Message.Content)
			if err != nil {
				return fmt.Errorf("failed to parse vision response: %w", err)
			}

			metrics.LLMTokensUsed.WithLabelValues(c.visionCfg.Model, "vision").Add(float64(resp.Usage.TotalTokens))

			parsed.CostUSD = c.costUSD(resp.Usage)
			metrics.LLMCost.WithLabelValues(c.visionCfg.Model).Add(parsed.CostUSD)
			parsed.Usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			analysis = parsed

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Sheet image analyzed",
		zap.String("task", string(task)),
		zap.Int("quantities", len(analysis.Quantities)),
		zap.Int("termination_points", len(analysis.TerminationPoints)),
		zap.Int("crossings", len(analysis.UtilityCrossings)),
		zap.Float64("cost_usd", analysis.CostUSD),
	)

	return analysis, nil
}

// wrapAPIError marks client-side API failures permanent so the retry
// loop gives up immediately. Rate limits and server errors stay
// retryable.
func wrapAPIError(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) &&
		apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
		apiErr.HTTPStatusCode != 429 {
		return retry.Permanent(wrapped)
	}
	return wrapped
}

func (c *Client) costUSD(usage openai.Usage) float64 {
	prompt := float64(usage.PromptTokens) / 1_000_000 * c.visionCfg.PromptCostPerMTok
	completion := float64(usage.CompletionTokens) / 1_000_000 * c.visionCfg.CompletionCostPerMTok
	return prompt + completion
}
