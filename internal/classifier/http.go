package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPClassifier calls the inference service over HTTP. Every call is
// bounded by the client timeout, and consecutive failures open a
// circuit breaker so a dead model server fails fast instead of tying up
// request goroutines.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type inferRequest struct {
	Text string `json:"text"`
}

type inferResponse struct {
	Label int     `json:"label"`
	Score float64 `json:"score"`
}

func New(baseURL string, timeout time.Duration) *HTTPClassifier {
	settings := gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &HTTPClassifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.infer(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		return nil, err
	}
	return result.(*Result), nil
}

func (c *HTTPClassifier) infer(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(inferRequest{Text: text})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/infer", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Timeouts, refused connections, context deadlines: all transient.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: inference service returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var inferResp inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&inferResp); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	return &Result{
		Label: inferResp.Label,
		Score: inferResp.Score,
	}, nil
}
