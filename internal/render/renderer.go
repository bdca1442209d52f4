// Package render turns stored document pages into PNG images for the
// vision pipeline. Rasterization runs in a separate service; this client
// wraps its HTTP API.
package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/plan-agent/backend/pkg/config"
	"github.com/plan-agent/backend/pkg/logger"
)

// Renderer produces a PNG of one document page. Page numbers are
// 1-based.
type Renderer interface {
	RenderPage(ctx context.Context, documentID string, page int, scale float64) ([]byte, error)
}

type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPRenderer(cfg config.RenderConfig) *HTTPRenderer {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *HTTPRenderer) RenderPage(ctx context.Context, documentID string, page int, scale float64) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page numbers are 1-based, got %d", page)
	}

	params := url.Values{}
	params.Add("scale", fmt.Sprintf("%g", scale))
	renderURL := fmt.Sprintf("%s/documents/%s/pages/%d.png?%s",
		r.baseURL, url.PathEscape(documentID), page, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, renderURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned status %d for page %d", resp.StatusCode, page)
	}

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}

	logger.Debug("Page rendered",
		zap.String("document_id", documentID),
		zap.Int("page", page),
		zap.Int("bytes", len(img)),
	)
	return img, nil
}
