package calendar

import (
	"context"
	"sync"
	"time"

	"commcal/internal/directory"
	appLog "commcal/internal/log"
	"commcal/internal/model"
)

// NoticeTTL is how long a notice stays visible. It is fixed and notices
// cannot be dismissed early.
const NoticeTTL = 3 * time.Second

// Directory is the subset of the Events Directory the view depends on.
type Directory interface {
	MonthEvents(ctx context.Context, year int, month time.Month, includePending bool) ([]model.CalendarEvent, error)
	CreateEvent(ctx context.Context, d model.EventDraft) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, id model.EventID, d model.EventDraft) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id model.EventID) error
	ApproveEvent(ctx context.Context, id model.EventID) error
	FlagEvent(ctx context.Context, id model.EventID) error
	VerifyAdmin(ctx context.Context, password string) error
	SignIn(ctx context.Context, email, password string) (model.Account, error)
	Register(ctx context.Context, email, username, password string) (model.Account, error)
	Tags(ctx context.Context) ([]model.Tag, error)
	SetEventTags(ctx context.Context, id model.EventID, tags []model.TagID) ([]model.Tag, error)
}

// FeedSource contributes read-only events (e.g. subscribed ICS feeds) to a
// month. Failures are handled by the source; it returns what it has.
type FeedSource interface {
	MonthEvents(ctx context.Context, year int, month time.Month) []model.CalendarEvent
}

// AppState is the role of whoever drives the view.
type AppState struct {
	Admin   bool
	Account *model.Account
}

func (s AppState) SignedIn() bool { return s.Account != nil }

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a short-lived, non-blocking message.
type Notice struct {
	Kind    NoticeKind
	Text    string
	Expires time.Time
}

// OverflowPanel lists the events of one day that did not fit in its cell.
type OverflowPanel struct {
	Date   string
	Label  string
	Events []model.CalendarEvent
}

// DetailPanel is an opened event plus the actions the current role may
// take on it.
type DetailPanel struct {
	Event   model.CalendarEvent
	Actions []Action
}

// Snapshot is everything needed to paint the view once.
type Snapshot struct {
	Year  int
	Month time.Month
	Title string

	Grid   model.MonthGrid
	Events []model.CalendarEvent

	// Loading is true while the latest issued load has not settled.
	Loading bool

	State    AppState
	Overflow *OverflowPanel
	Detail   *DetailPanel
	Notices  []Notice
	Today    string

	// Tags are the choices offered when adding an event.
	Tags []model.Tag
}

// Bucket splits a populated cell into chips and overflow.
func (s Snapshot) Bucket(cell model.DayCell) model.EventBucket {
	if cell.OtherMonth {
		return model.EventBucket{}
	}
	return Split(cell.Events)
}

// View is the calendar controller: it owns the displayed month, the
// events cached for it and the grid computed from both.
type View struct {
	dir   Directory
	feeds FeedSource
	now   func() time.Time
	loc   *time.Location

	mu     sync.Mutex
	year   int
	month  time.Month
	events []model.CalendarEvent
	grid   model.MonthGrid

	// issued is the sequence number of the latest load started; applied
	// the one whose result is currently shown. Only a result carrying the
	// latest issued number is ever applied.
	issued  uint64
	applied uint64

	state        AppState
	overflowDate string
	detail       *model.CalendarEvent
	notices      []Notice

	tags       []model.Tag
	tagsLoaded bool
}

type Option func(*View)

// WithFeeds overlays read-only events on every loaded month.
func WithFeeds(f FeedSource) Option {
	return func(v *View) { v.feeds = f }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// WithLocation sets the zone used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(v *View) {
		if loc != nil {
			v.loc = loc
		}
	}
}

// New creates a view showing the current month. Nothing is fetched until
// LoadMonth, ChangeMonth or Refresh is called.
func New(dir Directory, opts ...Option) *View {
	v := &View{
		dir: dir,
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(v)
	}
	today := v.now().In(v.loc)
	v.year, v.month = today.Year(), today.Month()
	v.grid = ComputeGrid(v.year, v.month)
	return v
}

// Month returns the displayed month.
func (v *View) Month() (int, time.Month) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.year, v.month
}

// State returns a copy of the role state.
func (v *View) State() AppState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// LoadMonth displays year/month and replaces the cached events with the
// directory's list for it. A failed fetch leaves the month empty and posts
// an error notice; it never returns an error. The result reports whether
// this call's fetch was applied (false when a newer load superseded it).
func (v *View) LoadMonth(ctx context.Context, year int, month time.Month, includePending bool) bool {
	v.mu.Lock()
	seq := v.begin(year, month)
	token := v.token()
	v.mu.Unlock()

	return v.fetch(ctx, seq, year, month, includePending, token)
}

// ChangeMonth moves the displayed month by delta and loads it. When
// navigations overlap, the last one started wins.
func (v *View) ChangeMonth(ctx context.Context, delta int) bool {
	v.mu.Lock()
	year, month := AddMonths(v.year, v.month, delta)
	seq := v.begin(year, month)
	admin, token := v.state.Admin, v.token()
	v.mu.Unlock()

	return v.fetch(ctx, seq, year, month, admin, token)
}

// GoTo displays year/month using the current role.
func (v *View) GoTo(ctx context.Context, year int, month time.Month) bool {
	v.mu.Lock()
	seq := v.begin(year, month)
	admin, token := v.state.Admin, v.token()
	v.mu.Unlock()

	return v.fetch(ctx, seq, year, month, admin, token)
}

// Today jumps back to the current month.
func (v *View) Today(ctx context.Context) bool {
	t := v.now().In(v.loc)
	return v.GoTo(ctx, t.Year(), t.Month())
}

// Refresh reloads the displayed month. Every action that changes events
// or the role ends with it.
func (v *View) Refresh(ctx context.Context) bool {
	return v.ChangeMonth(ctx, 0)
}

// begin starts a load of year/month. Caller holds v.mu.
func (v *View) begin(year int, month time.Month) uint64 {
	if year != v.year || month != v.month {
		v.events = nil
		v.grid = ComputeGrid(year, month)
	}
	v.year, v.month = year, month
	v.overflowDate = ""
	v.detail = nil
	v.issued++
	return v.issued
}

// token returns the bearer token of the signed-in account. Caller holds v.mu.
func (v *View) token() string {
	if v.state.Account == nil {
		return ""
	}
	return v.state.Account.Token
}

func (v *View) fetch(ctx context.Context, seq uint64, year int, month time.Month, includePending bool, token string) bool {
	events, err := v.dir.MonthEvents(directory.WithToken(ctx, token), year, month, includePending)
	if err == nil && v.feeds != nil {
		extra := v.feeds.MonthEvents(ctx, year, month)
		if len(extra) > 0 {
			merged := make([]model.CalendarEvent, 0, len(events)+len(extra))
			merged = append(merged, events...)
			events = append(merged, extra...)
		}
	}
	return v.finish(seq, year, month, events, err)
}

func (v *View) finish(seq uint64, year int, month time.Month, events []model.CalendarEvent, err error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if seq != v.issued {
		appLog.Debug("discarding superseded month load", "year", year, "month", int(month), "seq", seq, "latest", v.issued)
		return false
	}

	if err != nil {
		appLog.Error("month load failed; showing month without events", err, "year", year, "month", int(month))
		v.notifyLocked(NoticeError, "Could not load events for "+MonthTitle(year, month)+".")
		events = nil
	}

	v.events = events
	v.applied = seq
	v.grid = Populate(ComputeGrid(year, month), events)
	return true
}

// Snapshot returns the current render input.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	snap := Snapshot{
		Year:    v.year,
		Month:   v.month,
		Title:   MonthTitle(v.year, v.month),
		Grid:    v.grid,
		Events:  append([]model.CalendarEvent(nil), v.events...),
		Loading: v.applied != v.issued,
		State:   v.state,
		Notices: v.liveNotices(now),
		Today:   now.In(v.loc).Format(model.DateLayout),
		Tags:    v.tags,
	}

	if v.overflowDate != "" {
		bucket := Split(EventsOn(v.events, v.overflowDate))
		if bucket.More() > 0 {
			snap.Overflow = &OverflowPanel{
				Date:   v.overflowDate,
				Label:  bucket.MoreLabel(),
				Events: bucket.Overflow,
			}
		}
	}
	if v.detail != nil {
		snap.Detail = &DetailPanel{
			Event:   *v.detail,
			Actions: DetailActions(*v.detail, v.state),
		}
	}
	return snap
}

// OpenOverflow opens the overflow panel of date, closing any other one.
// It reports false when date has nothing hidden.
func (v *View) OpenOverflow(date string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if Split(EventsOn(v.events, date)).More() == 0 {
		v.overflowDate = ""
		return false
	}
	v.overflowDate = date
	return true
}

// DismissOverflow closes the overflow panel, if any.
func (v *View) DismissOverflow() {
	v.mu.Lock()
	v.overflowDate = ""
	v.mu.Unlock()
}

// ShowEventDetails opens the detail panel for ev.
func (v *View) ShowEventDetails(ev model.CalendarEvent) {
	v.mu.Lock()
	v.detail = &ev
	v.mu.Unlock()
}

// ShowEventByID opens the detail panel for a cached event.
func (v *View) ShowEventByID(id model.EventID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ev := range v.events {
		if ev.ID == id {
			ev := ev
			v.detail = &ev
			return true
		}
	}
	return false
}

// HideEventDetails closes the detail panel.
func (v *View) HideEventDetails() {
	v.mu.Lock()
	v.detail = nil
	v.mu.Unlock()
}

// Notify posts a notice from a collaborator (e.g. an import finishing).
func (v *View) Notify(kind NoticeKind, text string) {
	v.mu.Lock()
	v.notifyLocked(kind, text)
	v.mu.Unlock()
}

func (v *View) notifyLocked(kind NoticeKind, text string) {
	v.notices = append(v.notices, Notice{Kind: kind, Text: text, Expires: v.now().Add(NoticeTTL)})
}

// liveNotices drops expired notices. Caller holds v.mu.
func (v *View) liveNotices(now time.Time) []Notice {
	live := v.notices[:0]
	for _, n := range v.notices {
		if now.Before(n.Expires) {
			live = append(live, n)
		}
	}
	v.notices = live
	return append([]Notice(nil), live...)
}
