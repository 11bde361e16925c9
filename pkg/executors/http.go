package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowlinehq/flowline/pkg/domain"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor performs an outbound HTTP request described by step config:
// "url" (required), "method" (default GET), "headers" (map), "body" (any
// JSON-encodable value). The response lands in the step output as
// status_code, headers and data; JSON responses are decoded, everything
// else is kept as a string.
//
// A non-2xx status is an error so it feeds the step's retry policy.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates the executor. A nil client gets a default with a
// conservative timeout; per-step timeouts still apply through ctx.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Type() string { return domain.StepTypeHTTPRequest }

func (e *HTTPExecutor) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request step requires a \"url\" in config")
	}
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if raw, ok := config["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for name, value := range headers {
			req.Header.Set(name, fmt.Sprint(value))
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var data any
	if json.Unmarshal(raw, &data) != nil {
		data = string(raw)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for name := range resp.Header {
		respHeaders[name] = resp.Header.Get(name)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"data":        data,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return output, fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}
	return output, nil
}
