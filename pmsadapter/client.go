package pmsadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// restClient is the shared vendor HTTP plumbing: throttled requests,
// status-code classification into the adapter error taxonomy.
type restClient struct {
	vendorType string
	baseURL    string
	http       *http.Client
	limiter    <-chan time.Time
	authorize  func(req *http.Request)
}

func newRestClient(vendorType string, baseURL string, cfg Config, rateLimitEnv string, authorize func(req *http.Request)) *restClient {
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv(rateLimitEnv)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &restClient{
		vendorType: vendorType,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       cfg.httpClient(),
		limiter:    time.Tick(interval),
		authorize:  authorize,
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, params, nil, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *restClient) doJSON(ctx context.Context, method string, path string, params url.Values, body interface{}, out interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return &TransientNetworkError{VendorType: c.vendorType, Err: fmt.Errorf("request timed out: %w", err)}
		}
		return &TransientNetworkError{VendorType: c.vendorType, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := c.classifyStatus(resp, respBody); err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// getBytes fetches a raw document body (PDF, image) rather than JSON.
func (c *restClient) getBytes(ctx context.Context, path string) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-c.limiter:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &TransientNetworkError{VendorType: c.vendorType, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := c.classifyStatus(resp, respBody); err != nil {
		return nil, "", err
	}
	return respBody, resp.Header.Get("Content-Type"), nil
}

func (c *restClient) classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthenticationError{VendorType: c.vendorType, Reason: strings.TrimSpace(string(body))}
	case code == http.StatusTooManyRequests:
		return &RateLimitedError{VendorType: c.vendorType, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case code >= 500:
		return &TransientNetworkError{VendorType: c.vendorType, Err: fmt.Errorf("vendor returned %d: %s", code, strings.TrimSpace(string(body)))}
	default:
		return &PermanentAdapterError{VendorType: c.vendorType, StatusCode: code, Message: strings.TrimSpace(string(body))}
	}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func envOrDefault(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
