package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"commcal/internal/calendar"
	appLog "commcal/internal/log"
)

const viewKey = "view"

type viewEntry struct {
	view     *calendar.View
	lastSeen time.Time
}

// registry maps the view id stored in the session cookie to the view
// of that browser.
type registry struct {
	store   *sessions.CookieStore
	name    string
	idle    time.Duration
	newView func() *calendar.View
	now     func() time.Time

	mu    sync.Mutex
	views map[string]*viewEntry
}

func newRegistry(key []byte, name string, idle time.Duration, newView func() *calendar.View, now func() time.Time) *registry {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &registry{
		store:   store,
		name:    name,
		idle:    idle,
		newView: newView,
		now:     now,
		views:   make(map[string]*viewEntry),
	}
}

// lookup returns the view named by the request's session cookie, or nil
// when there is none or it has been swept.
func (g *registry) lookup(r *http.Request) *calendar.View {
	// A cookie that fails to decode (e.g. after a key change) counts as
	// no session.
	sess, err := g.store.Get(r, g.name)
	if err != nil {
		appLog.Debug("session cookie rejected", "error", err)
		return nil
	}
	id, _ := sess.Values[viewKey].(string)
	if id == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.views[id]
	if !ok {
		return nil
	}
	e.lastSeen = g.now()
	return e.view
}

// viewFor returns the view of the requesting browser, creating it (and
// the cookie) on first contact. created is true for a fresh view, which
// has not loaded anything yet.
func (g *registry) viewFor(w http.ResponseWriter, r *http.Request) (v *calendar.View, created bool) {
	if v := g.lookup(r); v != nil {
		return v, false
	}
	sess, _ := g.store.Get(r, g.name)
	now := g.now()

	id := uuid.NewString()
	g.mu.Lock()
	v = g.newView()
	g.views[id] = &viewEntry{view: v, lastSeen: now}
	g.mu.Unlock()

	sess.Values[viewKey] = id
	if err := sess.Save(r, w); err != nil {
		appLog.Error("session save failed", err)
	}
	return v, true
}

// Sweep drops views idle for longer than the idle timeout.
func (g *registry) Sweep() int {
	if g.idle <= 0 {
		return 0
	}
	cutoff := g.now().Add(-g.idle)

	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, e := range g.views {
		if e.lastSeen.Before(cutoff) {
			delete(g.views, id)
			n++
		}
	}
	return n
}

func (g *registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.views)
}
