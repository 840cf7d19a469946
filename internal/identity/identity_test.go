package identity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-arena/internal/clock"
)

func newAuthServer(t *testing.T, handler fasthttp.RequestHandler) *Remote {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return NewRemote("http://auth.test", WithDial(func(string) (net.Conn, error) { return ln.Dial() }), WithRetry(3))
}

func TestRemoteAuthenticate(t *testing.T) {
	r := newAuthServer(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/me" || string(ctx.Request.Header.Peek("Authorization")) != "Bearer good" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"id":"u-42","name":"Kim","ratings":{"blitz":1640}}`)
	})
	u, err := r.Authenticate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != "u-42" || u.RatingFor(clock.Blitz5) != 1640 || u.RatingFor(clock.Bullet1) != DefaultRating {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := r.Authenticate(context.Background(), "bad"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := r.Authenticate(context.Background(), " "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for empty token, got %v", err)
	}
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	r := newAuthServer(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"id":"u-7"}`)
	})
	u, err := r.Authenticate(context.Background(), "tok")
	if err != nil || u.ID != "u-7" {
		t.Fatalf("expected success after retries: %+v %v", u, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestRemoteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	r := newAuthServer(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	})
	if _, err := r.Authenticate(context.Background(), "tok"); err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected plain error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestStatic(t *testing.T) {
	dev := NewStatic(nil)
	u, err := dev.Authenticate(context.Background(), "alice")
	if err != nil || u.ID != "alice" {
		t.Fatalf("dev identity: %+v %v", u, err)
	}
	table := NewStatic(map[string]User{"t1": {ID: "bob", Ratings: map[string]int{"rapid": 1800}}})
	u, err = table.Authenticate(context.Background(), "t1")
	if err != nil || u.RatingFor(clock.Rapid15) != 1800 {
		t.Fatalf("table identity: %+v %v", u, err)
	}
	if _, err := table.Authenticate(context.Background(), "t2"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
