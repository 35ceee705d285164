package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	flowpilot "github.com/goliatone/go-flowpilot"
)

// Desktop builds of the engine bind the first free port in this range
// when the default one is taken.
const (
	probePortFirst = 8000
	probePortLast  = 8010
)

// ensureEndpoint makes sure the client points at a live engine. With
// force it discards the previously detected endpoint and probes again.
func (c *Client) ensureEndpoint(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready && !force {
		return nil
	}
	return c.detectEndpointLocked(ctx)
}

func (c *Client) detectEndpointLocked(ctx context.Context) error {
	var lastErr error
	for _, candidate := range c.candidateURLs() {
		ok, err := c.probe(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			continue
		}

		c.baseURL = strings.TrimRight(candidate, "/")
		c.wsURL = buildWSURL(c.baseURL, c.configuredWSURL)
		c.ready = true
		c.logger.Debug("detected engine endpoint", "base_url", c.baseURL, "ws_url", c.wsURL)
		return nil
	}

	c.ready = false
	return flowpilot.NewFetchFailure("no engine endpoint reachable on candidate ports", lastErr, map[string]any{
		"configured": c.configuredHTTPURL,
	})
}

// probe checks a candidate base URL with a cheap stats request. Any
// response below 500 counts as alive; the server may still be loading.
func (c *Client) probe(ctx context.Context, baseURL string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/system_stats", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, baseURL)
	}
	return true, nil
}

// candidateURLs lists the configured URL first, then the same host over
// the probe port range.
func (c *Client) candidateURLs() []string {
	parsed, err := url.Parse(c.configuredHTTPURL)
	if err != nil || parsed.Host == "" {
		return []string{c.configuredHTTPURL}
	}

	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := parsed.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	path := strings.TrimRight(parsed.Path, "/")

	urls := []string{strings.TrimRight(c.configuredHTTPURL, "/")}
	seen := map[string]struct{}{urls[0]: {}}

	for port := probePortFirst; port <= probePortLast; port++ {
		candidate := fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path)
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		urls = append(urls, candidate)
	}
	return urls
}

// buildWSURL derives the tracking socket URL from the detected HTTP
// endpoint, keeping the path of the configured WS URL.
func buildWSURL(httpURL, configuredWS string) string {
	parsedHTTP, err := url.Parse(httpURL)
	if err != nil {
		return configuredWS
	}

	scheme := "ws"
	if parsedHTTP.Scheme == "https" {
		scheme = "wss"
	}

	path := "/ws"
	if template, err := url.Parse(configuredWS); err == nil {
		if template.Scheme == "ws" || template.Scheme == "wss" {
			scheme = template.Scheme
		}
		if template.Path != "" {
			path = template.Path
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("%s://%s%s", scheme, parsedHTTP.Host, path)
}
