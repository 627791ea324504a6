package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAgentPath is the health route served by host agents
const DefaultAgentPath = "/health"

// HTTPChecker probes a host agent's HTTP health route. Any 2xx answer is
// healthy.
type HTTPChecker struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewHTTPChecker creates a checker for path on the agent at address
// (host:port). An empty path uses DefaultAgentPath.
func NewHTTPChecker(address, path string) *HTTPChecker {
	if path == "" {
		path = DefaultAgentPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTPChecker{
		URL:     "http://" + address + path,
		Headers: make(map[string]string),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...interface{}) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return result(false, "failed to create request: %v", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return result(false, "agent unreachable: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result(false, "agent answered HTTP %d", resp.StatusCode)
	}
	return result(true, "agent answered HTTP %d", resp.StatusCode)
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithHeader adds a request header, e.g. an agent token
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithTimeout bounds each probe
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
