// Package engine is the client for the generative-graph engine's REST
// and WebSocket APIs. Responses come from a server whose payload shapes
// drift between versions, so decoding is deliberately permissive.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/runner"
)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithLogger(logger flowpilot.Logger) Option {
	return func(c *Client) {
		c.logger = flowpilot.NormalizeLogger(logger)
	}
}

// WithTemplatesDir points the client at an optional on-disk workflow
// template directory merged into Templates results.
func WithTemplatesDir(dir string) Option {
	return func(c *Client) {
		c.templatesDir = dir
	}
}

// WithRetryStrategy sets the wait policy between the endpoint re-probe
// and the request retry after a transport failure.
func WithRetryStrategy(s runner.RetryStrategy) Option {
	return func(c *Client) {
		if s != nil {
			c.retry = s
		}
	}
}

// WithProbeTimeout overrides the per-candidate endpoint probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// Client talks to one engine instance. The zero value is not usable;
// construct with NewClient.
type Client struct {
	configuredHTTPURL string
	configuredWSURL   string

	hc           *http.Client
	logger       flowpilot.Logger
	retry        runner.RetryStrategy
	templatesDir string
	probeTimeout time.Duration

	mu       sync.Mutex
	baseURL  string
	wsURL    string
	ready    bool
	infoOnce map[string]any
	models   map[string][]string
	tplCache []Template
}

// NewClient builds a Client against the configured HTTP and WebSocket
// URLs. The effective endpoint is detected lazily on first use.
func NewClient(httpURL, wsURL string, opts ...Option) *Client {
	c := &Client{
		configuredHTTPURL: strings.TrimRight(httpURL, "/"),
		configuredWSURL:   wsURL,
		hc:                &http.Client{Timeout: 60 * time.Second},
		logger:            flowpilot.NewFmtLogger(nil),
		retry:             runner.ExponentialBackoffStrategy{Base: 250 * time.Millisecond, Factor: 2, Max: 2 * time.Second},
		probeTimeout:      5 * time.Second,
		models:            make(map[string][]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SubmitWorkflow posts a workflow for execution and returns the prompt
// id assigned by the engine together with the client id used for
// progress tracking. An empty clientID is replaced with a random one.
func (c *Client) SubmitWorkflow(ctx context.Context, workflow map[string]any, clientID string) (string, string, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	payload := map[string]any{"prompt": workflow, "client_id": clientID}

	status, body, err := c.do(ctx, http.MethodPost, "/prompt", nil, payload)
	if err != nil {
		return "", "", err
	}
	if status >= 400 {
		return "", "", flowpilot.NewFetchFailure(
			fmt.Sprintf("workflow submission failed: %s", extractErrorMessage(body)),
			nil,
			map[string]any{"status": status},
		)
	}

	var decoded struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", "", flowpilot.NewFetchFailure("engine returned invalid JSON for workflow submission", err, nil)
	}
	if decoded.PromptID == "" {
		return "", "", flowpilot.NewFetchFailure("engine did not return a prompt id", nil, nil)
	}
	return decoded.PromptID, clientID, nil
}

// Interrupt stops the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodPost, "/interrupt", nil, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return flowpilot.NewFetchFailure(extractErrorMessage(body), nil, map[string]any{"status": status})
	}
	return nil
}

// ClearQueue drops every pending prompt.
func (c *Client) ClearQueue(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodPost, "/queue", nil, map[string]any{"queue": []any{}})
	if err != nil {
		return err
	}
	if status >= 400 {
		return flowpilot.NewFetchFailure(extractErrorMessage(body), nil, map[string]any{"status": status})
	}
	return nil
}

// QueueState returns the raw queue snapshot.
func (c *Client) QueueState(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/queue", nil)
}

// History returns the execution record for a prompt.
func (c *Client) History(ctx context.Context, promptID string) (map[string]any, error) {
	return c.getJSON(ctx, "/history/"+url.PathEscape(promptID), nil)
}

// SystemStats returns the engine's device and version report.
func (c *Client) SystemStats(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/system_stats", nil)
}

// ObjectInfo returns the node-class catalog, cached after the first call.
func (c *Client) ObjectInfo(ctx context.Context, refresh bool) (map[string]any, error) {
	c.mu.Lock()
	if !refresh && c.infoOnce != nil {
		cached := c.infoOnce
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	info, err := c.getJSON(ctx, "/object_info", nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.infoOnce = info
	c.mu.Unlock()
	return info, nil
}

// Restart runs the configured engine restart command and waits for it.
func (c *Client) Restart(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return flowpilot.WrapError("RestartError", "no restart command configured", nil)
	}
	c.logger.Info("executing engine restart command", "command", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if err := cmd.Run(); err != nil {
		return flowpilot.WrapError("RestartError", "restart command failed", err)
	}

	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, flowpilot.NewFetchFailure(
			extractErrorMessage(body),
			nil,
			map[string]any{"status": status, "path": path},
		)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, flowpilot.NewFetchFailure("engine returned invalid JSON", err, map[string]any{"path": path})
	}
	return decoded, nil
}

// do performs one request against the detected endpoint, re-probing and
// retrying once when the transport fails mid-flight.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) (int, []byte, error) {
	if err := c.ensureEndpoint(ctx, false); err != nil {
		return 0, nil, err
	}

	status, data, err := c.send(ctx, method, path, params, body)
	if err == nil {
		return status, data, nil
	}
	if ctx.Err() != nil {
		return 0, nil, err
	}

	if delay := c.retry.SleepDuration(0, err); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}

	if derr := c.ensureEndpoint(ctx, true); derr != nil {
		return 0, nil, derr
	}
	return c.send(ctx, method, path, params, body)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, body any) (int, []byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	c.mu.Lock()
	base := c.baseURL
	c.mu.Unlock()

	target := base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, flowpilot.WrapError("EncodeError", "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, flowpilot.WrapError("RequestError", "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, flowpilot.NewFetchFailure("engine request failed", err, map[string]any{"path": path})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, flowpilot.NewFetchFailure("failed to read engine response", err, map[string]any{"path": path})
	}
	return resp.StatusCode, data, nil
}

// extractErrorMessage digs a human-readable message out of an engine
// error body, falling back to the trimmed raw text capped at 500 bytes.
func extractErrorMessage(raw []byte) string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		text := strings.TrimSpace(string(raw))
		if len(text) > 500 {
			return text[:500]
		}
		if text == "" {
			return "engine returned an empty error response"
		}
		return text
	}

	for _, key := range []string{"error", "message", "detail", "details"} {
		if value, ok := decoded[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}

	compact, err := json.Marshal(decoded)
	if err != nil || len(compact) == 0 {
		return "engine returned an unrecognized error response"
	}
	if len(compact) > 500 {
		compact = compact[:500]
	}
	return string(compact)
}
