package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pulse/internal/config"
)

// HTTPResult is the recorded outcome of an http probe.
type HTTPResult struct {
	Status    int   `json:"status"`
	LatencyMS int64 `json:"latency_ms"`
}

type httpAction struct {
	url     string
	expect  int
	timeout time.Duration
	client  *http.Client
}

func newHTTPAction(raw string, expect int, timeout time.Duration) (*httpAction, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("http: invalid url %q", raw)
	}
	if expect != 0 && (expect < 100 || expect > 599) {
		return nil, fmt.Errorf("http: invalid expect_status %d", expect)
	}
	return &httpAction{
		url:     u.String(),
		expect:  expect,
		timeout: timeout,
		client:  &http.Client{Transport: http.DefaultTransport},
	}, nil
}

func (a *httpAction) Kind() string { return config.ActionHTTP }

func (a *httpAction) Run(ctx context.Context, w Warner) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("http %s: timed out", a.url)
		}
		return nil, fmt.Errorf("http %s: %w", a.url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	elapsed := time.Since(start)

	res := HTTPResult{Status: resp.StatusCode, LatencyMS: elapsed.Milliseconds()}
	if a.timeout > 0 && elapsed > a.timeout/2 {
		warn(w, fmt.Sprintf("slow response: %s", elapsed.Round(time.Millisecond)))
	}
	if !a.statusOK(resp.StatusCode) {
		return res, fmt.Errorf("http %s: unexpected status %d", a.url, resp.StatusCode)
	}
	return res, nil
}

func (a *httpAction) statusOK(code int) bool {
	if a.expect != 0 {
		return code == a.expect
	}
	return code >= 200 && code < 300
}
