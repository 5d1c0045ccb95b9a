// Package api serves the manual trigger, the OAuth handshake and health/metrics
// endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/jdaza33/gmail-api/internal/ingest"
)

const stateCookie = "orderpoll_oauth_state"

// Trigger runs one gated ingestion cycle.
type Trigger interface {
	Trigger(ctx context.Context, source string) (ingest.Report, error)
	Busy() bool
}

// OAuth is the consent handshake for the mailbox account.
type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
	Expiry() time.Time
}

type Server struct {
	Trigger        Trigger
	OAuth          OAuth        // optional; /auth and /gmail are not mounted without it
	Metrics        http.Handler // optional
	AllowedOrigins []string
	Log            *slog.Logger
	OnAuthFailure  func(error) // optional; called when a manual cycle hits rejected credentials
}

func (s *Server) Routes() http.Handler {
	if s.Log == nil {
		s.Log = slog.New(slog.DiscardHandler)
	}
	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/execute", s.handleExecute)
	if s.OAuth != nil {
		r.Get("/auth", s.handleAuth)
		r.Get("/gmail", s.handleCallback)
	}
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	return r
}

type executeResponse struct {
	Success bool           `json:"success"`
	Report  *ingest.Report `json:"report,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// aggregate drops per-message failure detail; callers get counts only.
func aggregate(rep ingest.Report) *ingest.Report {
	rep.Failures = nil
	return &rep
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Trigger.Trigger(r.Context(), "http")
	switch {
	case err == nil:
		writeJSON(w, s.Log, http.StatusOK, executeResponse{Success: true, Report: aggregate(rep)})
	case errors.Is(err, ingest.ErrCycleInProgress):
		writeError(w, s.Log, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrClosed):
		writeError(w, s.Log, http.StatusServiceUnavailable, err.Error())
	default:
		if errors.Is(err, ingest.ErrAuth) && s.OnAuthFailure != nil {
			s.OnAuthFailure(err)
		}
		s.Log.Error("manual cycle failed", "run_id", rep.RunID, "error", err)
		msg := "ingestion cycle failed"
		if errors.Is(err, ingest.ErrAuth) {
			msg = "mail provider rejected credentials"
		}
		resp := executeResponse{Error: msg}
		if rep.RunID != "" {
			resp.Report = aggregate(rep)
		}
		writeJSON(w, s.Log, http.StatusBadGateway, resp)
	}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.OAuth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, s.Log, http.StatusBadRequest, "missing code")
		return
	}
	if c, err := r.Cookie(stateCookie); err == nil {
		got := r.URL.Query().Get("state")
		if subtle.ConstantTimeCompare([]byte(c.Value), []byte(got)) != 1 {
			writeError(w, s.Log, http.StatusBadRequest, "state mismatch")
			return
		}
	}
	if err := s.OAuth.Exchange(r.Context(), code); err != nil {
		s.Log.Error("oauth exchange failed", "error", err)
		writeError(w, s.Log, http.StatusBadGateway, "exchange authorization code failed")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})
	writeJSON(w, s.Log, http.StatusOK, map[string]any{
		"success": true,
		"expiry":  s.OAuth.Expiry(),
	})
}

type healthResponse struct {
	Status      string     `json:"status"`
	CycleActive bool       `json:"cycle_active"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", CycleActive: s.Trigger.Busy()}
	if s.OAuth != nil {
		if exp := s.OAuth.Expiry(); !exp.IsZero() {
			resp.TokenExpiry = &exp
		}
	}
	writeJSON(w, s.Log, http.StatusOK, resp)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
