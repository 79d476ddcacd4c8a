package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"commcal/internal/calendar"
	"commcal/internal/ics"
	appLog "commcal/internal/log"
	"commcal/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sessionView returns the browser's view. A new view is loaded with the
// current month before it is handed out.
func (s *Server) sessionView(w http.ResponseWriter, r *http.Request) *calendar.View {
	v, created := s.views.viewFor(w, r)
	if created {
		v.Refresh(r.Context())
	}
	return v
}

func backHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleIndex renders the browser's own view. Until a browser takes its
// first action it gets the shared visitor month, so clients that drop
// cookies cost no directory call per request.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if v := s.views.lookup(r); v != nil {
		v.LoadTags(r.Context())
		s.render(w, r, s.pageData(v.Snapshot(), false))
		return
	}
	s.render(w, r, s.pageData(s.currentPublic(r), false))
}

func (s *Server) currentPublic(r *http.Request) calendar.Snapshot {
	today := s.now().In(s.loc)
	return s.publicSnapshot(r, today.Year(), today.Month())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	v := s.sessionView(w, r)
	delta, err := strconv.Atoi(r.FormValue("delta"))
	if err != nil {
		http.Error(w, "invalid delta", http.StatusBadRequest)
		return
	}
	v.ChangeMonth(r.Context(), delta)
	backHome(w, r)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	s.sessionView(w, r).Today(r.Context())
	backHome(w, r)
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	v := s.sessionView(w, r)
	v.HideEventDetails()
	v.OpenOverflow(chi.URLParam(r, "date"))
	backHome(w, r)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	v := s.sessionView(w, r)
	v.DismissOverflow()
	v.HideEventDetails()
	backHome(w, r)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	v := s.sessionView(w, r)
	if r.URL.Query().Get("from") != "overflow" {
		v.DismissOverflow()
	}
	id := model.EventID(chi.URLParam(r, "id"))
	if !v.ShowEventByID(id) {
		v.Notify(calendar.NoticeError, "That event is no longer on this month.")
	}
	backHome(w, r)
}

func draftFromForm(r *http.Request) model.EventDraft {
	d := model.EventDraft{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Date:        strings.TrimSpace(r.FormValue("date")),
		Time:        strings.TrimSpace(r.FormValue("time")),
		Location:    strings.TrimSpace(r.FormValue("location")),
		Description: strings.TrimSpace(r.FormValue("description")),
		URL:         strings.TrimSpace(r.FormValue("url")),
	}
	for _, id := range r.PostForm["tags"] {
		if id = strings.TrimSpace(id); id != "" {
			d.Tags = append(d.Tags, model.TagID(id))
		}
	}
	return d
}

// Action handlers report failures through the view's notices, so they
// always redirect back to the calendar.

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	_, _ = s.sessionView(w, r).AddEvent(r.Context(), draftFromForm(r))
	backHome(w, r)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := model.EventID(chi.URLParam(r, "id"))
	_, _ = s.sessionView(w, r).UpdateEvent(r.Context(), id, draftFromForm(r))
	backHome(w, r)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).DeleteEvent(r.Context(), model.EventID(chi.URLParam(r, "id")))
	backHome(w, r)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).ApproveEvent(r.Context(), model.EventID(chi.URLParam(r, "id")))
	backHome(w, r)
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).FlagEvent(r.Context(), model.EventID(chi.URLParam(r, "id")))
	backHome(w, r)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).UnlockAdmin(r.Context(), r.FormValue("password"))
	backHome(w, r)
}

func (s *Server) handleAdminExit(w http.ResponseWriter, r *http.Request) {
	s.sessionView(w, r).LockAdmin(r.Context())
	backHome(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).SignIn(r.Context(), r.FormValue("email"), r.FormValue("password"))
	backHome(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	_ = s.sessionView(w, r).Register(r.Context(),
		r.FormValue("email"), r.FormValue("username"), r.FormValue("password"), r.FormValue("confirm"))
	backHome(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessionView(w, r).SignOut(r.Context())
	backHome(w, r)
}

var errBadMonth = errors.New("year and month must be numeric, month 1-12")

func monthParams(r *http.Request) (int, time.Month, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 || year > 9999 {
		return 0, 0, errBadMonth
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, errBadMonth
	}
	return year, time.Month(month), nil
}

// publicSnapshot returns the shared visitor snapshot of year/month.
func (s *Server) publicSnapshot(r *http.Request, year int, month time.Month) calendar.Snapshot {
	return s.public.get(r.Context(), year, month)
}

// loadPublic fills the public cache from a throwaway visitor view.
func (s *Server) loadPublic(ctx context.Context, year int, month time.Month) calendar.Snapshot {
	v := s.newView()
	v.GoTo(ctx, year, month)
	v.LoadTags(ctx)
	return v.Snapshot()
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	year, month, err := monthParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.render(w, r, s.pageData(s.publicSnapshot(r, year, month), true))
}

// gridCell is one cell of the JSON layout.
type gridCell struct {
	Day        int                   `json:"day"`
	OtherMonth bool                  `json:"other_month"`
	Date       string                `json:"date,omitempty"`
	Events     []model.CalendarEvent `json:"events"`
	More       int                   `json:"more"`
	MoreLabel  string                `json:"more_label,omitempty"`

	// Overflow holds the events behind MoreLabel.
	Overflow []model.CalendarEvent `json:"overflow,omitempty"`
}

type gridResponse struct {
	Year   int        `json:"year"`
	Month  int        `json:"month"`
	Title  string     `json:"title"`
	Cells  []gridCell `json:"cells"`
	Events int        `json:"event_count"`
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	year, month, err := monthParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.publicSnapshot(r, year, month)

	resp := gridResponse{
		Year:   snap.Year,
		Month:  int(snap.Month),
		Title:  snap.Title,
		Cells:  make([]gridCell, 0, len(snap.Grid.Cells)),
		Events: len(snap.Events),
	}
	for _, c := range snap.Grid.Cells {
		b := snap.Bucket(c)
		visible := b.Visible
		if visible == nil {
			visible = []model.CalendarEvent{}
		}
		resp.Cells = append(resp.Cells, gridCell{
			Day:        c.Day,
			OtherMonth: c.OtherMonth,
			Date:       c.Date,
			Events:     visible,
			More:       b.More(),
			MoreLabel:  b.MoreLabel(),
			Overflow:   b.Overflow,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleICS exports the month the browser is looking at, or the current
// month for visitors without a session.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	var snap calendar.Snapshot
	if v := s.views.lookup(r); v != nil {
		snap = v.Snapshot()
	} else {
		snap = s.currentPublic(r)
	}
	body := ics.Export(snap.Title, snap.Events, s.loc, s.now())

	filename := strings.ToLower(strings.ReplaceAll(snap.Title, " ", "-")) + ".ics"
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write([]byte(body))
}

// handlePreview serves the last snapshot written by the capture job.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.Snapshot.Output
	if path == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, data pageData) {
	if !data.Print {
		data.CSRF = csrf.TemplateField(r)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, "page", data); err != nil {
		appLog.Error("template render failed", err)
	}
}
