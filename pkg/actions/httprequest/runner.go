// Package httprequest implements the core.http_request action.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weftd/weft/pkg/runner"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 * 1024 * 1024
)

// Runner performs an HTTP request described by the resolved action args:
// url (required), method, headers, body.
type Runner struct {
	client *http.Client
}

func New() *Runner {
	return &Runner{client: &http.Client{Timeout: defaultTimeout}}
}

func (r *Runner) Type() string { return "core.http_request" }

func (r *Runner) Run(ctx context.Context, in runner.Input) (*runner.Result, error) {
	url, ok := in.Args["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("action %s: missing or invalid 'url'", in.Ref)
	}

	method, _ := in.Args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader

	switch payload := in.Args["body"].(type) {
	case nil:
	case string:
		body = strings.NewReader(payload)
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("action %s: encode body: %w", in.Ref, err)
		}

		body = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("action %s: build request: %w", in.Ref, err)
	}

	if headers, ok := in.Args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// Network-level failures are transient as far as the durable
		// scheduler is concerned.
		return nil, runner.RetryRequested(err.Error())
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("action %s: read response: %w", in.Ref, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, runner.RetryRequested(fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("action %s: upstream returned %d", in.Ref, resp.StatusCode)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	return &runner.Result{
		Output: map[string]any{
			"status_code": resp.StatusCode,
			"headers":     flattenHeaders(resp.Header),
			"data":        decoded,
		},
		ShouldContinue: true,
	}, nil
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}

	return out
}
