package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackersync/pkg/logger"
	"golang.org/x/time/rate"
)

// Doer is the subset of *http.Client used by Client, so tests can inject fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	Service           string
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Request is replayable: Body is re-sent on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client executes requests with rate limiting and bounded exponential backoff.
// Idempotent methods retry on network errors, 429 and 5xx. POST and PATCH may
// already have taken effect on a 5xx or a dropped connection, so they retry
// only on 429 and on failures to connect.
type Client struct {
	service        string
	doer           Doer
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func New(doer Doer, opts Options) *Client {
	if doer == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = initial
	}

	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		service:        opts.Service,
		doer:           doer,
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     retries,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		sleep:          sleepContext,
	}
}

// SetSleep replaces the backoff wait, mainly for tests.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

func (c *Client) Service() string {
	return c.service
}

// Do sends req and returns the response for any 2xx status. Other statuses
// are returned as *Error after retries are exhausted.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			logger.Warn().
				Str("service", c.service).
				Str("method", req.Method).
				Str("url", req.URL).
				Int("attempt", attempt).
				Dur("wait", wait).
				Err(lastErr).
				Msg("[Transport] retrying request")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		idempotent := isIdempotent(req.Method)
		resp, err := c.attempt(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = c.networkError(req, err)
			if !idempotent && !isConnectError(err) {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := c.statusError(req, resp)
		if !retryableStatus(resp.StatusCode, idempotent) {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var apiErr *Error
	if errors.As(lastErr, &apiErr) && apiErr.retryAfter > 0 {
		if apiErr.retryAfter > c.maxBackoff {
			return c.maxBackoff
		}
		return apiErr.retryAfter
	}

	wait := c.initialBackoff << (attempt - 1)
	if wait <= 0 || wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	return wait
}

func (c *Client) statusError(req *Request, resp *Response) *Error {
	apiErr := &Error{
		Service:    c.service,
		Method:     req.Method,
		Path:       pathOf(req.URL),
		StatusCode: resp.StatusCode,
		Message:    ExtractMessage(resp.Body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.retryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

func (c *Client) networkError(req *Request, err error) *Error {
	return &Error{
		Service: c.service,
		Method:  req.Method,
		Path:    pathOf(req.URL),
		Message: err.Error(),
		Err:     err,
	}
}

func retryableStatus(status int, idempotent bool) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return idempotent && status >= 500
}

func isIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPatch:
		return false
	}
	return true
}

// isConnectError reports failures before the request reached the server:
// DNS lookups and refused or unreachable dials.
func isConnectError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
