package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/gorilla/securecookie"
	"github.com/microcosm-cc/bluemonday"
	"github.com/robfig/cron/v3"

	"commcal/internal/calendar"
	"commcal/internal/config"
	appLog "commcal/internal/log"
)

// Server is the calendar web UI. Every browser session drives its own
// calendar.View; the print view and JSON API are stateless.
type Server struct {
	cfg   *config.Config
	dir   calendar.Directory
	feeds calendar.FeedSource
	loc   *time.Location
	now   func() time.Time

	router    chi.Router
	csrf      func(http.Handler) http.Handler
	views     *registry
	public    *publicCache
	pages     *template.Template
	sanitizer *bluemonday.Policy
}

type Option func(*Server)

// WithFeeds overlays subscribed feeds on every view the server creates.
func WithFeeds(f calendar.FeedSource) Option {
	return func(s *Server) { s.feeds = f }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the router. A missing session key is replaced with a
// random one, so sessions do not survive a restart.
func NewServer(cfg *config.Config, dir calendar.Directory, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		dir:       dir,
		loc:       cfg.Location(),
		now:       time.Now,
		sanitizer: bluemonday.UGCPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pages, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web: templates: %w", err)
	}
	s.pages = pages

	key := []byte(cfg.Session.Key)
	if len(key) == 0 {
		appLog.Warn("session.key not set; using a random key for this run")
		key = securecookie.GenerateRandomKey(32)
	}
	s.views = newRegistry(key, cfg.Session.Name, cfg.Session.IdleTimeout, s.newView, s.now)

	csrfKey := sha256.Sum256(key)
	s.csrf = csrf.Protect(csrfKey[:],
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.CookieName(cfg.Session.Name+"-csrf"),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailed)),
	)
	s.public = newPublicCache(publicTTL, s.now, s.loadPublic)

	s.router = s.routes()
	return s, nil
}

func (s *Server) newView() *calendar.View {
	opts := []calendar.Option{calendar.WithLocation(s.loc), calendar.WithClock(s.now)}
	if s.feeds != nil {
		opts = append(opts, calendar.WithFeeds(s.feeds))
	}
	return calendar.New(s.dir, opts...)
}

// Handler returns the HTTP handler, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// ScheduleSweep drops idle session views every five minutes.
func (s *Server) ScheduleSweep(c *cron.Cron) (cron.EntryID, error) {
	return c.AddFunc("@every 5m", func() {
		if n := s.views.Sweep(); n > 0 {
			appLog.Info("dropped idle calendar views", "count", n, "active", s.views.Len())
		}
	})
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	// Session pages. Every form post must carry the page's CSRF token.
	r.Group(func(r chi.Router) {
		r.Use(plaintextCSRF, s.csrf)

		r.Get("/", s.handleIndex)
		r.Post("/navigate", s.handleNavigate)
		r.Post("/today", s.handleToday)
		r.Get("/day/{date}/more", s.handleMore)
		r.Get("/dismiss", s.handleDismiss)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/{id}", s.handleDetail)
			r.Post("/{id}", s.handleUpdate)
			r.Post("/{id}/delete", s.handleDelete)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/flag", s.handleFlag)
		})

		r.Post("/admin", s.handleAdmin)
		r.Post("/admin/exit", s.handleAdminExit)
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
	})

	r.Get("/print/{year}/{month}", s.handlePrint)
	r.Get("/api/grid/{year}/{month}", s.handleGrid)
	r.Get("/calendar.ics", s.handleICS)
	r.Get("/preview.png", s.handlePreview)

	return r
}

// plaintextCSRF tells the CSRF check that a request without TLS is plain
// HTTP, so it skips the HTTPS-only Referer check.
func plaintextCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

func csrfFailed(w http.ResponseWriter, r *http.Request) {
	appLog.Warn("rejected form post", "path", r.URL.Path, "reason", csrf.FailureReason(r))
	http.Error(w, "Forbidden - the form expired, reload the page and try again", http.StatusForbidden)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="commcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return http.ErrServerClosed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
