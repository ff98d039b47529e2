// Package ml wraps the external inference endpoint and normalizes its
// responses. The endpoint itself (model, training, preprocessing) is an
// external collaborator; only its HTTP contract lives here.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/metrics"
	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/circuitbreaker"
	"github.com/skinocare/backend/pkg/logger"
	"github.com/skinocare/backend/pkg/utils"
)

var (
	// ErrUnavailable covers network failures and non-2xx responses. The
	// user may retry; no automatic retry is performed.
	ErrUnavailable = errors.New("inference service unavailable")

	// ErrMalformed reports a response that cannot be normalized into a
	// PredictionResult.
	ErrMalformed = errors.New("inference response malformed")
)

// PredictionCache stores normalized results keyed by image content hash.
// Predictions are deterministic per image, so re-submitting identical bytes
// can skip the external call. Nil-safe: a nil cache disables caching.
type PredictionCache interface {
	GetPrediction(ctx context.Context, imageHash string) (*models.PredictionResult, bool, error)
	SetPrediction(ctx context.Context, imageHash string, result *models.PredictionResult) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	cache      PredictionCache
}

func NewClient(baseURL string, timeout time.Duration, cache PredictionCache) *Client {
	cb := circuitbreaker.New("ml", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	logger.Info("ML client initialized",
		zap.String("base_url", baseURL),
		zap.Duration("timeout", timeout),
	)

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb:    cb,
		cache: cache,
	}
}

// wireResult mirrors the inference endpoint's response body. The endpoint
// may bundle its own details object; only the prediction fields are part of
// the contract consumed here.
type wireResult struct {
	PredictedClass *string         `json:"prediction"`
	Confidence     *float64        `json:"confidence"`
	Probabilities  json.RawMessage `json:"probabilities"`
}

// Predict submits one image and returns the normalized result. A single
// failure surfaces immediately; the caller owns any user-triggered retry.
func (c *Client) Predict(ctx context.Context, image []byte, filename string) (*models.PredictionResult, error) {
	imageHash := utils.HashBytes(image)

	if c.cache != nil {
		cached, hit, err := c.cache.GetPrediction(ctx, imageHash)
		if err != nil {
			logger.Warn("Prediction cache lookup failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.Inc()
			return cached, nil
		}
		metrics.CacheMisses.Inc()
	}

	var result *models.PredictionResult

	start := time.Now()
	err := c.cb.Execute(func() error {
		var err error
		result, err = c.predict(ctx, image, filename)
		return err
	})
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	metrics.PredictionsTotal.WithLabelValues("success").Inc()
	metrics.PredictionConfidence.Observe(result.Confidence)

	if c.cache != nil {
		if err := c.cache.SetPrediction(ctx, imageHash, result); err != nil {
			logger.Warn("Prediction cache store failed", zap.Error(err))
		}
	}

	return result, nil
}

func (c *Client) predict(ctx context.Context, image []byte, filename string) (*models.PredictionResult, error) {
	if filename == "" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Error("Inference request rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return normalize(raw)
}

func normalize(raw []byte) (*models.PredictionResult, error) {
	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if wire.PredictedClass == nil || *wire.PredictedClass == "" {
		return nil, fmt.Errorf("%w: missing predicted class", ErrMalformed)
	}
	if wire.Confidence == nil {
		return nil, fmt.Errorf("%w: missing or non-numeric confidence", ErrMalformed)
	}

	probabilities := map[string]float64{}
	if len(wire.Probabilities) > 0 {
		if err := json.Unmarshal(wire.Probabilities, &probabilities); err != nil {
			return nil, fmt.Errorf("%w: probabilities is not an object of numbers", ErrMalformed)
		}
	}

	return &models.PredictionResult{
		PredictedClass: *wire.PredictedClass,
		Confidence:     *wire.Confidence,
		Probabilities:  probabilities,
	}, nil
}

// HealthCheck is advisory only. Any 2xx counts as healthy; a failure does
// not prevent a later Predict attempt.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("ML health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
