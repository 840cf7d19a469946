package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Remote verifies tokens against an external auth service (GET {base}/me).
type Remote struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Remote)

func WithTimeout(d time.Duration) Option {
	return func(r *Remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRetry(max int) Option {
	return func(r *Remote) { r.retryMax = max }
}

// WithDial overrides the transport, e.g. an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(r *Remote) { r.http.Dial = dial }
}

func NewRemote(baseURL string, opts ...Option) *Remote {
	r := &Remote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout:  3 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrUnauthenticated
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(r.baseURL + "/me")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	attempts := max(r.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := r.http.DoDeadline(req, resp, r.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("auth request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
				return User{}, ErrUnauthenticated
			case status >= 200 && status < 300:
				var u User
				if err := json.Unmarshal(resp.Body(), &u); err != nil {
					return User{}, fmt.Errorf("decode auth response: %w", err)
				}
				if !u.Authenticated() {
					return User{}, ErrUnauthenticated
				}
				return u, nil
			default:
				lastErr = fmt.Errorf("auth api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
				if !shouldRetryStatus(status) {
					return User{}, lastErr
				}
			}
		}
		if attempt < attempts {
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return User{}, lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return User{}, lastErr
}

func (r *Remote) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(r.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
