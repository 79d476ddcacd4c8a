package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	appLog "commcal/internal/log"
	"commcal/internal/model"
)

const defaultTimeout = 5 * time.Second

// Client talks to the Events Directory REST service.
type Client struct {
	baseURL string
	client  *http.Client

	// Month listings are fetched conditionally; a 304 reuses the body
	// cached for the same URL.
	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// cacheEntry holds HTTP cache metadata for a single month URL.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
}

// NewClient creates a directory client for baseURL (e.g.
// "http://127.0.0.1:8000"). A non-positive timeout uses 5s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]cacheEntry),
	}
}

type tokenKey struct{}

// WithToken attaches a bearer token to every directory call made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey{}).(string)
	return s
}

// MonthEvents returns the events of year/month in the order the directory
// lists them. includePending adds events that still need review.
func (c *Client) MonthEvents(ctx context.Context, year int, month time.Month, includePending bool) ([]model.CalendarEvent, error) {
	path := fmt.Sprintf("/api/events/%d/%d?admin=%s", year, int(month), strconv.FormatBool(includePending))
	target := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(ctx, req)
	req.Header.Set("Accept", "application/json")

	c.cacheMu.Lock()
	meta, cached := c.cache[target]
	c.cacheMu.Unlock()
	if cached {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("directory fetch start", "year", year, "month", int(month), "admin", includePending)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	var body []byte
	switch {
	case resp.StatusCode == http.StatusNotModified && cached:
		body = meta.Body
		appLog.Debug("directory month not modified; using cache", "year", year, "month", int(month))
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("directory: GET %s: read body: %w", path, err)
		}
		c.remember(target, resp.Header, body)
	default:
		return nil, statusError(resp)
	}

	events := make([]model.CalendarEvent, 0)
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("directory: GET %s: decode events: %w", path, err)
	}
	appLog.Debug("directory fetch success", "year", year, "month", int(month), "event_count", len(events))
	return events, nil
}

func (c *Client) remember(target string, h http.Header, body []byte) {
	etag, lastMod := h.Get("ETag"), h.Get("Last-Modified")
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if etag == "" && lastMod == "" {
		delete(c.cache, target)
		return
	}
	c.cache[target] = cacheEntry{ETag: etag, LastModified: lastMod, Body: body}
}

// CreateEvent posts a new event and returns it as stored.
func (c *Client) CreateEvent(ctx context.Context, d model.EventDraft) (model.CalendarEvent, error) {
	var out model.CalendarEvent
	err := c.do(ctx, http.MethodPost, "/api/events", d, &out)
	return out, err
}

// UpdateEvent replaces the editable fields of event id.
func (c *Client) UpdateEvent(ctx context.Context, id model.EventID, d model.EventDraft) (model.CalendarEvent, error) {
	var out model.CalendarEvent
	err := c.do(ctx, http.MethodPut, "/api/events/"+url.PathEscape(id.String()), d, &out)
	return out, err
}

func (c *Client) DeleteEvent(ctx context.Context, id model.EventID) error {
	return c.do(ctx, http.MethodDelete, "/api/events/"+url.PathEscape(id.String()), nil, nil)
}

// ApproveEvent clears needs_review.
func (c *Client) ApproveEvent(ctx context.Context, id model.EventID) error {
	return c.do(ctx, http.MethodPost, "/api/events/"+url.PathEscape(id.String())+"/approve", nil, nil)
}

// FlagEvent sets needs_review.
func (c *Client) FlagEvent(ctx context.Context, id model.EventID) error {
	return c.do(ctx, http.MethodPost, "/api/events/"+url.PathEscape(id.String())+"/flag", nil, nil)
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyAdmin asks the directory to check an admin password. A refusal is
// reported as ErrDenied.
func (c *Client) VerifyAdmin(ctx context.Context, password string) error {
	var out verifyResponse
	err := c.do(ctx, http.MethodPost, "/api/admin/verify", map[string]string{"password": password}, &out)
	if err != nil {
		return err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "invalid admin password"
		}
		return &StatusError{Code: http.StatusForbidden, Message: msg}
	}
	return nil
}

type signInResponse struct {
	Token string        `json:"token"`
	User  model.Account `json:"user"`
}

// SignIn exchanges credentials for an account and bearer token.
func (c *Client) SignIn(ctx context.Context, email, password string) (model.Account, error) {
	var out signInResponse
	body := map[string]string{"email": strings.ToLower(strings.TrimSpace(email)), "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/users/login", body, &out); err != nil {
		return model.Account{}, err
	}
	if out.Token == "" {
		return model.Account{}, fmt.Errorf("directory: POST /api/users/login: response has no token")
	}
	acct := out.User
	acct.Token = out.Token
	return acct, nil
}

// Register creates an account. The directory signs the new user in, so
// the result carries a bearer token like SignIn's.
func (c *Client) Register(ctx context.Context, email, username, password string) (model.Account, error) {
	var out signInResponse
	body := map[string]string{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"username": strings.TrimSpace(username),
		"password": password,
	}
	if err := c.do(ctx, http.MethodPost, "/api/users/register", body, &out); err != nil {
		return model.Account{}, err
	}
	if out.Token == "" {
		return model.Account{}, fmt.Errorf("directory: POST /api/users/register: response has no token")
	}
	acct := out.User
	acct.Token = out.Token
	return acct, nil
}

// Tags lists every tag an event can be given.
func (c *Client) Tags(ctx context.Context) ([]model.Tag, error) {
	var out []model.Tag
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type tagRef struct {
	ID any `json:"id"`
}

// SetEventTags assigns tags to event id and returns the event's tags.
func (c *Client) SetEventTags(ctx context.Context, id model.EventID, tags []model.TagID) ([]model.Tag, error) {
	refs := make([]tagRef, 0, len(tags))
	for _, t := range tags {
		refs = append(refs, tagRef{ID: wireID(t)})
	}
	var out []model.Tag
	path := "/api/events/" + url.PathEscape(id.String()) + "/tags"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"tags": refs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// wireID sends numeric ids back as JSON numbers.
func wireID(id model.EventID) any {
	if n, err := strconv.ParseInt(id.String(), 10, 64); err == nil {
		return n
	}
	return id.String()
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("directory: %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if tok := tokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}
