// Package mirror is the reference remote store devices sync against.
//
// It keeps one append-only, versioned log per collection and serves it
// over HTTP: anonymous sessions, document pushes and long-poll reads.
// Devices never depend on it being up; it is the shared copy they
// converge through.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

// MaxWait caps the long-poll window a reader may ask for.
const MaxWait = 30 * time.Second

// Config holds server settings.
type Config struct {
	// Secret signs session tokens. Required.
	Secret []byte

	// TokenTTL is the session lifetime. Zero means DefaultTokenTTL.
	TokenTTL time.Duration

	// AllowAnonymousReads lets requests without a valid token list
	// documents. Writes always need a token.
	AllowAnonymousReads bool
}

// Server serves a Log over HTTP.
type Server struct {
	log      Log
	sessions sessions
	cfg      Config
	newUID   func() string
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for token issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.sessions.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithUIDGenerator sets how anonymous uids are minted.
func WithUIDGenerator(fn func() string) Option {
	return func(s *Server) {
		s.newUID = fn
	}
}

// NewServer creates a Server over log.
func NewServer(log Log, cfg Config, opts ...Option) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("mirror: secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	s := &Server{
		log:      log,
		cfg:      cfg,
		sessions: sessions{secret: cfg.Secret, ttl: cfg.TokenTTL, now: time.Now},
		newUID:   func() string { return uuid.NewString() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/anonymous", s.handleSignIn)
		r.Route("/collections/{collection}/documents", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Put("/{id}", s.handlePush)
		})
	})
	return r
}

// SessionResponse answers a sign-in.
type SessionResponse struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// PushResponse answers a document push.
type PushResponse struct {
	Version int64 `json:"version"`
}

// ListResponse answers a long-poll read.
type ListResponse struct {
	Documents []remote.Document `json:"documents"`
	Head      int64             `json:"head"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	uid := ""
	if token, err := bearerToken(r.Header.Get("Authorization")); err == nil {
		if prior, err := s.sessions.verify(token); err == nil {
			uid = prior
		}
	}
	if uid == "" {
		uid = s.newUID()
	}

	token, err := s.sessions.issue(uid)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{UID: uid, Token: token})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	uid, err := s.authenticate(r)
	if err != nil {
		s.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", err)
		return
	}
	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	var doc remote.Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		s.fail(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("decode document: %w", err))
		return
	}
	if doc.Collection != c || doc.ID != chi.URLParam(r, "id") {
		s.fail(w, http.StatusBadRequest, "BAD_REQUEST", errors.New("document does not match its path"))
		return
	}
	if err := remote.Verify(doc); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err)
		return
	}

	doc.Author = uid
	stored, err := s.log.Append(r.Context(), doc)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	s.logger.Debug("document appended",
		"collection", stored.Collection, "id", stored.ID, "version", stored.Version, "author", uid)
	writeJSON(w, http.StatusOK, PushResponse{Version: stored.Version})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil && !s.cfg.AllowAnonymousReads {
		s.fail(w, http.StatusUnauthorized, "UNAUTHORIZED", err)
		return
	}
	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	since, err := intParam(q.Get("since"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("since: %w", err))
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("limit: %w", err))
		return
	}
	var wait time.Duration
	if raw := q.Get("wait"); raw != "" {
		if wait, err = time.ParseDuration(raw); err != nil || wait < 0 {
			s.fail(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("wait: invalid duration %q", raw))
			return
		}
	}
	wait = min(wait, MaxWait)

	ctx := r.Context()
	docs, err := s.log.Since(ctx, c, since, int(limit))
	if err == nil && len(docs) == 0 && wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		werr := s.log.Wait(waitCtx, c, since)
		cancel()
		switch {
		case werr == nil:
			docs, err = s.log.Since(ctx, c, since, int(limit))
		case ctx.Err() != nil:
			// Client went away.
			return
		case !errors.Is(werr, context.DeadlineExceeded):
			err = werr
		}
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "INTERNAL", err)
		return
	}

	head, err := s.log.Head(ctx, c)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "INTERNAL", err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Documents: docs, Head: head})
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	return s.sessions.verify(token)
}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (model.Collection, bool) {
	c, err := model.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		s.fail(w, http.StatusNotFound, "UNKNOWN_COLLECTION", err)
		return "", false
	}
	return c, true
}

func (s *Server) fail(w http.ResponseWriter, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("mirror request failed", "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func intParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// Document fields are returned byte for byte so digests still verify.
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
