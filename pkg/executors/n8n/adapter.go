// Package n8n bridges steps to an external n8n instance: the step delegates
// its work to an n8n workflow over the REST API and blocks until the remote
// execution returns. Calls go through a circuit breaker so a dead or
// overloaded n8n instance fails fast instead of soaking up workers.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/domain"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxFailures = 5
	defaultOpenPeriod  = 30 * time.Second
)

// Config tunes the n8n bridge.
type Config struct {
	// BaseURL is the n8n instance root, e.g. "https://n8n.internal:5678".
	BaseURL string
	// APIKey is sent as X-N8N-API-KEY on every request.
	APIKey string
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures uint32
	// OpenPeriod is how long the circuit stays open before a probe call.
	OpenPeriod time.Duration
}

// Executor implements the "n8n" step type. Step config carries the remote
// "workflow_id" and an optional "payload" forwarded as the execution input.
type Executor struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[map[string]any]
	logger  *zap.Logger
}

// NewExecutor creates the bridge. A nil client gets a default with a
// timeout; zero breaker settings get defaults.
func NewExecutor(cfg Config, client *http.Client, logger *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openPeriod := cfg.OpenPeriod
	if openPeriod == 0 {
		openPeriod = defaultOpenPeriod
	}

	breaker := gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        "n8n",
		MaxRequests: 1,
		Timeout:     openPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("n8n circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Executor{cfg: cfg, client: client, breaker: breaker, logger: logger}
}

func (e *Executor) Type() string { return domain.StepTypeN8N }

func (e *Executor) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	workflowID, _ := config["workflow_id"].(string)
	if workflowID == "" {
		return nil, fmt.Errorf("n8n step requires a \"workflow_id\" in config")
	}
	payload, _ := config["payload"].(map[string]any)

	output, err := e.breaker.Execute(func() (map[string]any, error) {
		return e.runRemote(ctx, workflowID, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("n8n circuit open: %w", err)
		}
		return nil, err
	}
	return output, nil
}

func (e *Executor) runRemote(ctx context.Context, workflowID string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"workflowData": payload})
	if err != nil {
		return nil, fmt.Errorf("encode n8n payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/workflows/%s/run",
		strings.TrimSuffix(e.cfg.BaseURL, "/"), workflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build n8n request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-N8N-API-KEY", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call n8n workflow %s: %w", workflowID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read n8n response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("n8n workflow %s returned status %d: %s",
			workflowID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"data": string(raw)}, nil
	}
	return decoded, nil
}
