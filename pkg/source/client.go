package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/ratelimit"
)

// Client performs throttled HTTP requests and classifies their failures
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a client. timeout bounds connecting and waiting for
// response headers; a streamed body may take as long as it needs.
// GetJSON bounds the whole exchange by timeout.
func NewClient(timeout time.Duration, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
		headers: map[string]string{
			"User-Agent": "dsfetch/1.0",
			"Accept":     "application/json",
		},
		limiter: limiter,
		logger:  log,
	}
}

// SetHeader sets a header sent with every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetToken authenticates requests with a bearer token
func (c *Client) SetToken(token string) {
	if token != "" {
		c.headers["Authorization"] = "Bearer " + token
	}
}

// Get issues a GET and returns the response if its status is 2xx.
// The caller closes the body.
func (c *Client) Get(ctx context.Context, op, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Classify(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Fatal(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    url,
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.WithError(err).DebugWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"duration": duration,
		})
		return nil, errs.Classify(op, err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := checkResponseStatus(op, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// GetJSON issues a GET and decodes the body into v. Unlike Get, the
// request and the body read together must finish within the client timeout.
func (c *Client) GetJSON(ctx context.Context, op, url string, v interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.Get(ctx, op, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errs.IsTransient(errs.Classify(op, err)) {
			return errs.TransientNetwork(op, 0, err)
		}
		return errs.New(errs.ErrorTypeUnclassified, op, "failed to decode response", err)
	}
	return nil
}

// checkResponseStatus maps HTTP failures to transient or fatal errors
func checkResponseStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("%s: %s", resp.Status, bodyPreview(body))

	if errs.IsRetryableStatusCode(resp.StatusCode) {
		return errs.TransientNetwork(op, resp.StatusCode, cause)
	}
	return errs.Fatal(op, resp.StatusCode, cause)
}

func bodyPreview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
