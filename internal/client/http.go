package client

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// LimitedHTTPClient performs throttled requests against the backend. The
// zero value is not valid for use.
type LimitedHTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewLimitedHTTPClient returns a client allowing r requests per second with
// the given burst.
func NewLimitedHTTPClient(client *http.Client, r rate.Limit, burst int) *LimitedHTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &LimitedHTTPClient{
		client:  client,
		limiter: rate.NewLimiter(r, burst),
	}
}

// Do waits until the client is within rate limits and then performs the request.
func (c *LimitedHTTPClient) Do(req *http.Request) (*http.Response, error) {
	r := c.limiter.Reserve()
	if !r.OK() {
		return nil, errors.New("invalid limiter configuration")
	}
	delay := r.Delay()
	if delay == 0 {
		return c.client.Do(req)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		r.Cancel()
		return nil, req.Context().Err()
	case <-timer.C:
		return c.client.Do(req)
	}
}
