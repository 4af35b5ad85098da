// Package generator implements the client for the AI content generation
// service. The service produces quiz questions and learning paths; the
// client owns request timeouts, retries, circuit breaking and schema
// validation of everything that comes back.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/path"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/pkg/circuitbreaker"
	"github.com/learnloop/learnloop-core/pkg/logger"
	"github.com/learnloop/learnloop-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the generation service client.
type Config struct {
	// BaseURL is the generation service base URL.
	BaseURL string

	// APIKey authenticates requests (sent as a bearer token).
	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// MaxQuestions caps quiz size regardless of what callers ask for.
	MaxQuestions int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Timeout:      30 * time.Second,
		MaxQuestions: 20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client calls the generation service.
type Client struct {
	config     Config
	httpClient *http.Client
	log        *logger.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	mapper     *Mapper
}

// NewClient creates a generation service client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 20
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
		retrier:    retry.GeneratorRetrier(),
		breaker: circuitbreaker.GeneratorBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("generator circuit state changed",
				logger.Component(name),
				logger.F("from", from.String()),
				logger.F("to", to.String()),
			)
		}),
		mapper: NewMapper(),
	}
}

// GenerateQuiz asks the service for count questions on a topic. The result
// is fully validated; a malformed response never reaches the caller.
func (c *Client) GenerateQuiz(ctx context.Context, topic string, count int) ([]group.Question, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: quiz topic is required", shared.ErrValidation)
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: question count must be positive", shared.ErrValidation)
	}
	if count > c.config.MaxQuestions {
		count = c.config.MaxQuestions
	}

	var dto QuizResponseDTO
	err := c.post(ctx, "/v1/quiz", QuizRequestDTO{Topic: topic, Count: count}, &dto)
	if err != nil {
		return nil, err
	}
	return c.mapper.MapQuestions(dto)
}

// GenerateLearningPath asks the service for a prerequisite graph toward a
// goal, owned by ownerID.
func (c *Client) GenerateLearningPath(ctx context.Context, goal, ownerID string) (*path.LearningPath, error) {
	if goal == "" {
		return nil, fmt.Errorf("%w: learning goal is required", shared.ErrValidation)
	}

	var dto PathResponseDTO
	err := c.post(ctx, "/v1/path", PathRequestDTO{Goal: goal}, &dto)
	if err != nil {
		return nil, err
	}
	return c.mapper.MapLearningPath(dto, ownerID, time.Now().UTC())
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// post sends a JSON request through the breaker and retrier, decoding the
// response into out. Transport and server failures come back wrapped in
// ErrGeneration; 4xx responses are permanent and skip retries.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", shared.ErrValidation, err)
	}

	started := time.Now()
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, endpoint, payload, out)
		})
	})

	c.log.Debug("generation request finished",
		logger.Component("generator"),
		logger.Operation(endpoint),
		logger.Latency(time.Since(started)),
	)

	if err != nil {
		if shared.IsValidation(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", shared.ErrGeneration, endpoint, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(fmt.Errorf("service returned %d", resp.StatusCode))

	default:
		var errDTO ErrorResponseDTO
		_ = json.Unmarshal(raw, &errDTO)
		if errDTO.Message != "" {
			return retry.Permanent(fmt.Errorf("service rejected request (%d): %s", resp.StatusCode, errDTO.Message))
		}
		return retry.Permanent(fmt.Errorf("service rejected request (%d)", resp.StatusCode))
	}
}
