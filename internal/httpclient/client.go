// Package httpclient wraps net/http with a narrow Request/Response struct pair and a
// single Send method, so every upstream collaborator (rate plans,
// subscriptions, the downstream notifier) shares one
// timeout/error-translation path.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	ierr "github.com/ridgeline/meterbill/internal/errors"
)

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient builds a Client with the given per-call timeout; the
// caller is still expected to pass a context with its own deadline for
// finer-grained cancellation.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DefaultClient{client: &http.Client{Timeout: timeout}}
}

func (c *DefaultClient) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("malformed upstream request").Mark(ierr.ErrUpstreamUnavailable)
	}

	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("upstream unreachable").Mark(ierr.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("failed reading upstream response").Mark(ierr.ErrUpstreamUnavailable)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewError(resp.StatusCode, respBody, ierr.ErrNotFound)
	}
	if resp.StatusCode >= 500 {
		return nil, NewError(resp.StatusCode, respBody, ierr.ErrUpstreamUnavailable)
	}
	if resp.StatusCode >= 400 {
		return nil, NewError(resp.StatusCode, respBody, ierr.ErrInvalidArgument)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: headers}, nil
}
