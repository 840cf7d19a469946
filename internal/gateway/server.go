// Package gateway exposes local and online chess sessions over a websocket.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/localgame"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/online"
	"github.com/park285/cheese-arena/internal/store"
)

const (
	authTimeout = 5 * time.Second
	opTimeout   = 10 * time.Second
	sendBuffer  = 64
)

type Server struct {
	store    store.Store
	auth     identity.Provider
	catalog  *msgcat.Catalog
	archiver online.Archiver
	devUsers bool
	thinkMin time.Duration
	thinkMax time.Duration
	origins  []string
	mux      *http.ServeMux
}

type Option func(*Server)

func WithArchiver(a online.Archiver) Option { return func(s *Server) { s.archiver = a } }

// WithDevUsers trusts ?user=<id> when no token is presented.
func WithDevUsers(on bool) Option { return func(s *Server) { s.devUsers = on } }

func WithThinkWindow(lo, hi time.Duration) Option {
	return func(s *Server) { s.thinkMin, s.thinkMax = lo, hi }
}

// WithOriginPatterns restricts browser origins; none means any origin.
func WithOriginPatterns(p ...string) Option { return func(s *Server) { s.origins = p } }

func New(st store.Store, auth identity.Provider, cat *msgcat.Catalog, opts ...Option) *Server {
	s := &Server{
		store:    st,
		auth:     auth,
		catalog:  cat,
		thinkMin: localgame.DefaultThinkMin,
		thinkMax: localgame.DefaultThinkMax,
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// resolveUser returns the zero User for anonymous connections, which may
// still play against the bot.
func (s *Server) resolveUser(r *http.Request) (identity.User, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token != "" {
		ctx, cancel := context.WithTimeout(r.Context(), authTimeout)
		defer cancel()
		return s.auth.Authenticate(ctx, token)
	}
	if s.devUsers {
		if id := strings.TrimSpace(r.URL.Query().Get("user")); id != "" {
			return identity.User{ID: id, Name: id}, nil
		}
	}
	return identity.User{}, nil
}

func bearerToken(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.resolveUser(r)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, identity.ErrUnauthenticated) {
			status = http.StatusUnauthorized
		}
		obslog.L().Info("gateway_auth_rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(s.origins) == 0,
		OriginPatterns:     s.origins,
	})
	if err != nil {
		obslog.L().Warn("gateway_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := newClient(s, conn, user)
	obslog.L().Info("gateway_connect", zap.String("user_id", user.ID), zap.String("remote", r.RemoteAddr))
	c.serve(r.Context())
	obslog.L().Info("gateway_disconnect", zap.String("user_id", user.ID))
}
