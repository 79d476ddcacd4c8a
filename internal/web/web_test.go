package web

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"commcal/internal/config"
	"commcal/internal/directory"
	appLog "commcal/internal/log"
	"commcal/internal/model"
)

func init() {
	appLog.UseLogger(zap.NewNop())
}

// directoryStub is an in-memory Events Directory.
type directoryStub struct {
	mu         sync.Mutex
	events     []model.CalendarEvent
	monthCalls int
	lastAdmin  string
	actions    []string
}

func (d *directoryStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events/{year}/{month}", func(w http.ResponseWriter, r *http.Request) {
		var year, month int
		fmt.Sscan(r.PathValue("year"), &year)
		fmt.Sscan(r.PathValue("month"), &month)
		prefix := fmt.Sprintf("%04d-%02d-", year, month)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.monthCalls++
		d.lastAdmin = r.URL.Query().Get("admin")
		out := []model.CalendarEvent{}
		for _, ev := range d.events {
			if !strings.HasPrefix(ev.Date, prefix) {
				continue
			}
			if ev.NeedsReview && d.lastAdmin != "true" {
				continue
			}
			out = append(out, ev)
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/admin/verify", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "letmein" {
			_, _ = w.Write([]byte(`{"success": false, "message": "Invalid admin password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	mux.HandleFunc("POST /api/users/register", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		d.mu.Lock()
		d.actions = append(d.actions, "register "+in["username"])
		d.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "jwt",
			"user":  map[string]any{"id": 9, "email": in["email"], "username": in["username"]},
		})
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 7, "name": "music"}, {"id": 8, "name": "food"}]`))
	})
	mux.HandleFunc("POST /api/events/{id}/tags", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Tags []struct {
				ID json.Number `json:"id"`
			} `json:"tags"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		ids := make([]string, 0, len(in.Tags))
		for _, t := range in.Tags {
			ids = append(ids, t.ID.String())
		}
		d.mu.Lock()
		d.actions = append(d.actions, "tags "+r.PathValue("id")+" "+strings.Join(ids, ","))
		d.mu.Unlock()
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("POST /api/events/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.actions = append(d.actions, r.PathValue("action")+" "+r.PathValue("id"))
		d.mu.Unlock()
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	mux.HandleFunc("POST /api/events", func(w http.ResponseWriter, r *http.Request) {
		var in model.EventDraft
		_ = json.NewDecoder(r.Body).Decode(&in)
		d.mu.Lock()
		ev := model.CalendarEvent{ID: model.EventID(fmt.Sprint(100 + len(d.events))), Title: in.Title, Date: in.Date, NeedsReview: true}
		d.events = append(d.events, ev)
		d.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ev)
	})
	return mux
}

func seededDirectory() *directoryStub {
	d := &directoryStub{}
	for i := 0; i < 4; i++ {
		d.events = append(d.events, model.CalendarEvent{
			ID:    model.EventID(fmt.Sprint(i + 1)),
			Title: fmt.Sprintf("Meetup %d", i+1),
			Date:  "2024-03-05",
		})
	}
	d.events = append(d.events,
		model.CalendarEvent{ID: "10", Title: "Pending bake sale", Date: "2024-03-09", NeedsReview: true},
		model.CalendarEvent{ID: "11", Title: "Garden day", Date: "2024-03-12",
			Description: `<p>Bring gloves</p><script>alert(1)</script>`},
		model.CalendarEvent{ID: "20", Title: "April fools", Date: "2024-04-01"},
	)
	return d
}

type testEnv struct {
	dir    *directoryStub
	app    *httptest.Server
	client *http.Client
	server *Server
	clock  *time.Time
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := seededDirectory()
	dirSrv := httptest.NewServer(dir.handler())
	t.Cleanup(dirSrv.Close)

	cfg := config.DefaultConfig()
	cfg.Directory.BaseURL = dirSrv.URL
	cfg.Session.Key = "0123456789abcdef0123456789abcdef"
	cfg.Snapshot.Output = ""
	if mutate != nil {
		mutate(cfg)
	}

	clock := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	env := &testEnv{dir: dir, clock: &clock}
	srv, err := NewServer(cfg, directory.NewClient(cfg.Directory.BaseURL, time.Second),
		WithClock(func() time.Time { return *env.clock }))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	env.server = srv
	env.app = httptest.NewServer(srv.Handler())
	t.Cleanup(env.app.Close)

	jar, _ := cookiejar.New(nil)
	env.client = &http.Client{Jar: jar}
	return env
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := e.client.Get(e.app.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

var csrfField = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

// csrfToken reads the form token from the calendar page.
func (e *testEnv) csrfToken(t *testing.T) string {
	t.Helper()
	_, body := e.get(t, "/")
	m := csrfField.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("page has no CSRF field")
	}
	return html.UnescapeString(m[1])
}

// post submits form the way the page does, CSRF token included.
func (e *testEnv) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("gorilla.csrf.Token", e.csrfToken(t))
	resp, err := e.client.PostForm(e.app.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestIndexRendersCurrentMonth(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/")
	if code != http.StatusOK {
		t.Fatalf("GET / = %d", code)
	}
	text := html.UnescapeString(body)
	for _, want := range []string{"March 2024", "Meetup 1", "Meetup 3", "+ 1 more", `data-ready="true"`} {
		if !strings.Contains(text, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "Meetup 4") {
		t.Error("fourth event of the day should be behind the overflow link")
	}
	if strings.Contains(body, "Pending bake sale") {
		t.Error("visitor sees an event pending review")
	}

	env.get(t, "/")
	if env.dir.monthCalls != 1 {
		t.Errorf("directory month calls = %d, want 1 (visitor month cached)", env.dir.monthCalls)
	}
}

func TestCookielessVisitorsShareMonth(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(env.app.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET / = %d", resp.StatusCode)
		}
		for _, c := range resp.Cookies() {
			if c.Name == "commcal-session" {
				t.Errorf("visitor page started a session: %q", c.Value)
			}
		}
	}
	if env.dir.monthCalls != 1 {
		t.Errorf("directory month calls = %d, want 1", env.dir.monthCalls)
	}
	if n := env.server.views.Len(); n != 0 {
		t.Errorf("views = %d, want none before the first action", n)
	}

	*env.clock = env.clock.Add(publicTTL + time.Second)
	env.get(t, "/")
	if env.dir.monthCalls != 2 {
		t.Errorf("month calls = %d; expired visitor month not reloaded", env.dir.monthCalls)
	}
}

func TestNavigateAndToday(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	_, body := env.post(t, "/navigate", url.Values{"delta": {"1"}})
	if !strings.Contains(body, "April 2024") || !strings.Contains(body, "April fools") {
		t.Errorf("after next: page does not show April 2024")
	}

	_, body = env.post(t, "/today", nil)
	if !strings.Contains(body, "March 2024") {
		t.Errorf("after today: page does not show March 2024")
	}

	code, _ := env.post(t, "/navigate", url.Values{"delta": {"x"}})
	if code != http.StatusBadRequest {
		t.Errorf("bad delta = %d, want 400", code)
	}
}

func TestOverflowAndDetailPanels(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	_, body := env.get(t, "/day/2024-03-05/more")
	if !strings.Contains(body, `id="overflow"`) || !strings.Contains(body, "Meetup 4") {
		t.Fatal("overflow panel not shown")
	}

	_, body = env.get(t, "/events/4?from=overflow")
	if !strings.Contains(body, `id="detail"`) || !strings.Contains(body, `id="overflow"`) {
		t.Error("opening an event from the overflow panel should keep it open")
	}

	_, body = env.get(t, "/events/11")
	if strings.Contains(body, `id="overflow"`) {
		t.Error("opening an event from the grid should close the overflow panel")
	}
	if !strings.Contains(body, "<p>Bring gloves</p>") || strings.Contains(body, "alert(1)") {
		t.Error("description not sanitized")
	}
	if strings.Contains(body, "/events/11/approve") || strings.Contains(body, "/events/11/delete") {
		t.Error("visitor detail panel offers admin actions")
	}

	_, body = env.get(t, "/dismiss")
	if strings.Contains(body, `id="detail"`) {
		t.Error("detail still open after dismiss")
	}
}

func TestAdminFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	_, body := env.post(t, "/admin", url.Values{"password": {"nope"}})
	if !strings.Contains(body, "Invalid admin password") {
		t.Error("rejected password should post the directory's message")
	}
	if env.dir.lastAdmin != "false" {
		t.Errorf("admin query = %q after rejection", env.dir.lastAdmin)
	}

	_, body = env.post(t, "/admin", url.Values{"password": {"letmein"}})
	if !strings.Contains(body, "Admin access granted") || !strings.Contains(body, "Pending bake sale") {
		t.Error("admin mode should show events pending review")
	}
	if env.dir.lastAdmin != "true" {
		t.Errorf("admin query = %q, want true", env.dir.lastAdmin)
	}

	_, body = env.get(t, "/events/10")
	if !strings.Contains(body, "/events/10/approve") || strings.Contains(body, "/events/10/flag") {
		t.Error("pending event should offer approve, not flag")
	}
	env.post(t, "/events/10/approve", nil)
	if len(env.dir.actions) != 1 || env.dir.actions[0] != "approve 10" {
		t.Errorf("directory actions = %v", env.dir.actions)
	}

	_, body = env.post(t, "/admin/exit", nil)
	if strings.Contains(body, "Pending bake sale") {
		t.Error("leaving admin mode should hide pending events")
	}
}

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	_, body := env.post(t, "/events", url.Values{"title": {""}, "date": {"2024-03-20"}})
	if !strings.Contains(body, "title and date are required") {
		t.Error("missing title should be reported")
	}

	_, body = env.post(t, "/events", url.Values{"title": {"Choir"}, "date": {"2024-03-20"}})
	if !strings.Contains(body, "Event added") {
		t.Error("success notice missing")
	}
}

func TestCreateEventWithTags(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.get(t, "/")
	if !strings.Contains(body, `name="tags" value="7"`) || !strings.Contains(body, "music") {
		t.Fatal("add form does not offer the directory's tags")
	}

	env.post(t, "/events", url.Values{"title": {"Choir"}, "date": {"2024-03-20"}, "tags": {"7", "8"}})
	want := []string{"tags 107 7,8"}
	if fmt.Sprint(env.dir.actions) != fmt.Sprint(want) {
		t.Errorf("directory actions = %v, want %v", env.dir.actions, want)
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	_, body := env.post(t, "/register", url.Values{
		"email": {"bo@example.com"}, "username": {"bo"}, "password": {"Secret123"}, "confirm": {"Secret321"},
	})
	if !strings.Contains(body, "Passwords do not match") {
		t.Error("mismatched confirmation not reported")
	}
	if len(env.dir.actions) != 0 {
		t.Errorf("directory actions = %v, want none", env.dir.actions)
	}

	_, body = env.post(t, "/register", url.Values{
		"email": {"bo@example.com"}, "username": {"bo"}, "password": {"Secret123"}, "confirm": {"Secret123"},
	})
	if !strings.Contains(body, "Account created. Signed in as bo.") || !strings.Contains(body, `action="/logout"`) {
		t.Error("registration should sign the new account in")
	}
	if len(env.dir.actions) != 1 || env.dir.actions[0] != "register bo" {
		t.Errorf("directory actions = %v", env.dir.actions)
	}
}

func TestFormPostRequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/")

	resp, err := env.client.PostForm(env.app.URL+"/navigate", url.Values{"delta": {"1"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("POST without token = %d, want 403", resp.StatusCode)
	}
	if n := env.server.views.Len(); n != 0 {
		t.Errorf("rejected post created %d views", n)
	}

	code, body := env.post(t, "/navigate", url.Values{"delta": {"1"}})
	if code != http.StatusOK || !strings.Contains(body, "April 2024") {
		t.Errorf("POST with token = %d", code)
	}
}

func TestGridAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/api/grid/2024/3")
	if code != http.StatusOK {
		t.Fatalf("GET /api/grid = %d: %s", code, body)
	}
	var resp gridResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Cells) != 42 || resp.Title != "March 2024" {
		t.Fatalf("grid = %d cells, title %q", len(resp.Cells), resp.Title)
	}
	for _, c := range resp.Cells {
		if c.Date == "2024-03-05" {
			if len(c.Events) != 3 || c.More != 1 || c.MoreLabel != "+ 1 more" {
				t.Errorf("2024-03-05 = %+v", c)
			}
			if len(c.Overflow) != 1 || c.Overflow[0].Title != "Meetup 4" {
				t.Errorf("2024-03-05 overflow = %+v", c.Overflow)
			}
		}
		if c.OtherMonth && len(c.Events) > 0 {
			t.Errorf("padding cell carries events: %+v", c)
		}
	}

	code, _ = env.get(t, "/api/grid/2024/13")
	if code != http.StatusBadRequest {
		t.Errorf("month 13 = %d, want 400", code)
	}
}

func TestPrintView(t *testing.T) {
	env := newTestEnv(t, nil)
	code, body := env.get(t, "/print/2024/4")
	if code != http.StatusOK {
		t.Fatalf("GET /print = %d", code)
	}
	if !strings.Contains(body, `data-ready="true"`) || !strings.Contains(body, "April fools") {
		t.Error("print view incomplete")
	}
	if strings.Contains(body, `action="/navigate"`) {
		t.Error("print view should not render controls")
	}
}

func TestICSExport(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := env.client.Get(env.app.URL + "/calendar.ics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(string(body), "SUMMARY:Meetup 4") {
		t.Error("export should include every event of the month, overflow included")
	}
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	})

	code, _ := env.get(t, "/health")
	if code != http.StatusOK {
		t.Errorf("/health = %d, want 200 without credentials", code)
	}
	code, _ = env.get(t, "/")
	if code != http.StatusUnauthorized {
		t.Errorf("/ = %d, want 401", code)
	}

	req, _ := http.NewRequest(http.MethodGet, env.app.URL+"/", nil)
	req.SetBasicAuth("u", "p")
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ with credentials = %d", resp.StatusCode)
	}
}

func TestSweepDropsIdleViews(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Session.IdleTimeout = time.Hour })
	env.post(t, "/today", nil)
	if env.server.views.Len() != 1 {
		t.Fatalf("views = %d", env.server.views.Len())
	}

	*env.clock = env.clock.Add(30 * time.Minute)
	if n := env.server.views.Sweep(); n != 0 {
		t.Errorf("swept %d active views", n)
	}
	*env.clock = env.clock.Add(2 * time.Hour)
	if n := env.server.views.Sweep(); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}

	calls := env.dir.monthCalls
	env.post(t, "/today", nil)
	if env.server.views.Len() != 1 || env.dir.monthCalls == calls {
		t.Errorf("views = %d, month calls %d -> %d; a swept session should get a fresh view",
			env.server.views.Len(), calls, env.dir.monthCalls)
	}
}
