// Package httprequest provides the side-effecting action node type: a
// templated HTTP call. Retries and timeouts belong to the engine; the node
// performs exactly one attempt and classifies the response.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/template"
)

// IdempotencyKeyHeader carries the attempt-stable key so replayed requests
// can be deduplicated by the receiving service.
const IdempotencyKeyHeader = "Idempotency-Key"

var ErrMissingURL = errors.New("missing or invalid 'url' in configuration")

type Node struct {
	id      string
	method  string
	url     string
	headers map[string]string
	body    string
	client  *http.Client
}

func NewNode(id string, config map[string]any) (*Node, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, protocol.NewFatalError(fmt.Errorf("http request node %s: %w", id, ErrMissingURL))
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	return &Node{
		id:      id,
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		client:  &http.Client{},
	}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "http_request_node")

	req, err := n.buildRequest(ctx, execCtx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Executing HTTP request", "method", n.method, "url", req.URL.String())

	resp, err := n.client.Do(req)
	if err != nil {
		// Network failures are transient; the engine retries per policy.
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return n.processResponse(ctx, resp, logger)
}

func (n *Node) buildRequest(ctx context.Context, execCtx models.ExecutionContext) (*http.Request, error) {
	renderCtx := &template.RenderContext{
		RunID:       execCtx.RunID,
		WorkflowID:  execCtx.WorkflowID,
		State:       execCtx.State,
		TriggerData: execCtx.TriggerData,
		Variables:   execCtx.Variables,
	}

	urlResult, err := template.RenderWithContext(n.url, renderCtx)
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to render url template: %w", err))
	}

	bodyReader, err := n.buildBody(renderCtx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, n.method, fmt.Sprintf("%v", urlResult), bodyReader)
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to create http request: %w", err))
	}

	for key, value := range n.headers {
		headerResult, err := template.RenderWithContext(value, renderCtx)
		if err != nil {
			return nil, protocol.NewFatalError(fmt.Errorf("failed to render header '%s' template: %w", key, err))
		}

		req.Header.Set(key, fmt.Sprintf("%v", headerResult))
	}

	req.Header.Set(IdempotencyKeyHeader, execCtx.IdempotencyKey)

	return req, nil
}

func (n *Node) buildBody(renderCtx *template.RenderContext) (io.Reader, error) {
	if n.body == "" {
		return strings.NewReader(""), nil
	}

	body, err := template.RenderWithContext(n.body, renderCtx)
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to render body template: %w", err))
	}

	if str, ok := body.(string); ok {
		return strings.NewReader(str), nil
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to marshal body: %w", err))
	}

	return strings.NewReader(string(bodyBytes)), nil
}

func (n *Node) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}

	logger.InfoContext(ctx, "HTTP request completed",
		"status_code", resp.StatusCode, "body_length", len(bodyBytes))

	switch {
	case resp.StatusCode >= 500:
		return result, fmt.Errorf("server error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Client errors do not heal on retry.
		return result, protocol.Fatalf("client error: status %d", resp.StatusCode)
	}

	return result, nil
}

func flattenHeaders(header http.Header) map[string]any {
	flat := make(map[string]any, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
