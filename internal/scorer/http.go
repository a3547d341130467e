package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to a rule-similarity service over JSON/HTTP.
// The service computes structural similarity between two logic programs and,
// when asked, renders per-rule feedback (missing, extra, and mismatched
// rules) for injection into refinement prompts.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// HTTPOption configures an HTTPClient
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout overrides the default 120s request timeout
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithLogger attaches a logger for request-level debugging
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = logger }
}

// NewHTTPClient creates a client for the similarity service at baseURL
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type evaluateRequest struct {
	Candidate        string `json:"candidate"`
	Reference        string `json:"reference"`
	GenerateFeedback bool   `json:"generate_feedback"`
}

type evaluateResponse struct {
	Similarity float64 `json:"similarity"`
	Feedback   string  `json:"feedback"`
	Error      string  `json:"error,omitempty"`
}

// Score implements Scorer
func (c *HTTPClient) Score(ctx context.Context, candidate, reference string) (Result, error) {
	resp, err := c.evaluate(ctx, evaluateRequest{
		Candidate:        candidate,
		Reference:        reference,
		GenerateFeedback: true,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Similarity: resp.Similarity, Feedback: resp.Feedback}, nil
}

// Pairwise implements PairwiseScorer. Feedback generation is skipped; the
// service only needs to return the similarity.
func (c *HTTPClient) Pairwise(ctx context.Context, a, b string) (float64, error) {
	resp, err := c.evaluate(ctx, evaluateRequest{
		Candidate:        a,
		Reference:        b,
		GenerateFeedback: false,
	})
	if err != nil {
		return 0, err
	}
	return resp.Similarity, nil
}

func (c *HTTPClient) evaluate(ctx context.Context, req evaluateRequest) (*evaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("similarity service request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read similarity response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("similarity service returned %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var resp evaluateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode similarity response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("similarity service error: %s", resp.Error)
	}
	if resp.Similarity < 0 || resp.Similarity > 1 {
		return nil, fmt.Errorf("similarity service returned out-of-range score %g", resp.Similarity)
	}

	c.logger.Debug("similarity evaluated",
		zap.Float64("similarity", resp.Similarity),
		zap.Bool("feedback", req.GenerateFeedback),
		zap.Duration("latency", time.Since(start)))

	return &resp, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
