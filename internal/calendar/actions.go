package calendar

import (
	"context"
	"errors"

	"commcal/internal/directory"
	appLog "commcal/internal/log"
	"commcal/internal/model"
)

var (
	// ErrNotAdmin is returned by review and edit actions outside admin mode.
	ErrNotAdmin = errors.New("admin mode required")
	// ErrPasswordMismatch is returned by Register when the confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Action is a button offered in the detail panel.
type Action string

const (
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionFlag    Action = "flag"
)

// DetailActions derives the detail panel buttons from the event and the
// role. It is evaluated on every snapshot so buttons never outlive a role
// change.
func DetailActions(ev model.CalendarEvent, state AppState) []Action {
	if !state.Admin || ev.ReadOnly() {
		return nil
	}
	actions := []Action{ActionEdit, ActionDelete}
	if ev.NeedsReview {
		return append(actions, ActionApprove)
	}
	return append(actions, ActionFlag)
}

// AddEvent creates an event, assigns the draft's tags and reloads the
// month. An event whose tags could not be saved is still returned, with
// the tagging error.
func (v *View) AddEvent(ctx context.Context, d model.EventDraft) (model.CalendarEvent, error) {
	if err := d.Validate(); err != nil {
		v.fail("add event", err)
		return model.CalendarEvent{}, err
	}
	actx := v.authContext(ctx)
	ev, err := v.dir.CreateEvent(actx, d)
	if err != nil {
		v.fail("add event", err)
		return model.CalendarEvent{}, err
	}
	v.Notify(NoticeSuccess, "Event added.")

	if len(d.Tags) > 0 {
		tags, terr := v.dir.SetEventTags(actx, ev.ID, d.Tags)
		if terr != nil {
			v.fail("tag event", terr, "id", ev.ID)
			err = terr
		} else {
			ev.Tags = tags
		}
	}
	v.Refresh(ctx)
	return ev, err
}

// LoadTags fetches the tag choices once per view. Failures are logged
// and retried on the next call; the add form then offers no tags.
func (v *View) LoadTags(ctx context.Context) {
	v.mu.Lock()
	loaded := v.tagsLoaded
	v.mu.Unlock()
	if loaded {
		return
	}

	tags, err := v.dir.Tags(ctx)
	if err != nil {
		appLog.Warn("tag list unavailable", "error", err)
		return
	}
	v.mu.Lock()
	v.tags, v.tagsLoaded = tags, true
	v.mu.Unlock()
}

// UpdateEvent edits an event and reloads the month. Admin only.
func (v *View) UpdateEvent(ctx context.Context, id model.EventID, d model.EventDraft) (model.CalendarEvent, error) {
	if err := v.requireAdmin("edit event"); err != nil {
		return model.CalendarEvent{}, err
	}
	if err := d.Validate(); err != nil {
		v.fail("edit event", err)
		return model.CalendarEvent{}, err
	}
	ev, err := v.dir.UpdateEvent(v.authContext(ctx), id, d)
	if err != nil {
		v.fail("edit event", err, "id", id)
		return model.CalendarEvent{}, err
	}
	v.Notify(NoticeSuccess, "Event updated.")
	v.Refresh(ctx)
	return ev, nil
}

// DeleteEvent removes an event and reloads the month. Admin only.
func (v *View) DeleteEvent(ctx context.Context, id model.EventID) error {
	return v.review(ctx, "delete event", "Event deleted.", id, v.dir.DeleteEvent)
}

// ApproveEvent clears the review flag of an event. Admin only.
func (v *View) ApproveEvent(ctx context.Context, id model.EventID) error {
	return v.review(ctx, "approve event", "Event approved.", id, v.dir.ApproveEvent)
}

// FlagEvent marks an event for review. Admin only.
func (v *View) FlagEvent(ctx context.Context, id model.EventID) error {
	return v.review(ctx, "flag event", "Event flagged for review.", id, v.dir.FlagEvent)
}

func (v *View) review(ctx context.Context, op, done string, id model.EventID, call func(context.Context, model.EventID) error) error {
	if err := v.requireAdmin(op); err != nil {
		return err
	}
	if err := call(v.authContext(ctx), id); err != nil {
		v.fail(op, err, "id", id)
		return err
	}
	v.Notify(NoticeSuccess, done)
	v.Refresh(ctx)
	return nil
}

// UnlockAdmin enters admin mode once the directory accepts password.
// The month is reloaded so events pending review appear.
func (v *View) UnlockAdmin(ctx context.Context, password string) error {
	if err := v.dir.VerifyAdmin(v.authContext(ctx), password); err != nil {
		v.fail("admin verification", err)
		return err
	}
	v.mu.Lock()
	v.state.Admin = true
	v.notifyLocked(NoticeSuccess, "Admin access granted.")
	v.mu.Unlock()

	v.Refresh(ctx)
	return nil
}

// LockAdmin leaves admin mode and reloads without pending events.
func (v *View) LockAdmin(ctx context.Context) {
	v.mu.Lock()
	wasAdmin := v.state.Admin
	v.state.Admin = false
	v.mu.Unlock()

	if wasAdmin {
		v.Refresh(ctx)
	}
}

// SignIn authenticates against the directory; the returned token is sent
// with every later directory call of this view.
func (v *View) SignIn(ctx context.Context, email, password string) error {
	acct, err := v.dir.SignIn(ctx, email, password)
	if err != nil {
		v.fail("sign in", err)
		return err
	}
	v.mu.Lock()
	v.state.Account = &acct
	v.notifyLocked(NoticeSuccess, "Signed in as "+displayName(acct)+".")
	v.mu.Unlock()
	return nil
}

// Register creates an account and signs in with it. The confirmation is
// checked before the directory is called.
func (v *View) Register(ctx context.Context, email, username, password, confirm string) error {
	if password != confirm {
		v.Notify(NoticeError, "Passwords do not match.")
		return ErrPasswordMismatch
	}
	acct, err := v.dir.Register(ctx, email, username, password)
	if err != nil {
		v.fail("register", err)
		return err
	}
	v.mu.Lock()
	v.state.Account = &acct
	v.notifyLocked(NoticeSuccess, "Account created. Signed in as "+displayName(acct)+".")
	v.mu.Unlock()
	return nil
}

// SignOut forgets the account. Admin mode is left as well.
func (v *View) SignOut(ctx context.Context) {
	v.mu.Lock()
	v.state.Account = nil
	v.mu.Unlock()
	v.LockAdmin(ctx)
}

func displayName(a model.Account) string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

func (v *View) authContext(ctx context.Context) context.Context {
	v.mu.Lock()
	token := v.token()
	v.mu.Unlock()
	return directory.WithToken(ctx, token)
}

func (v *View) requireAdmin(op string) error {
	if v.State().Admin {
		return nil
	}
	v.Notify(NoticeError, "Admin mode is required to "+op+".")
	return ErrNotAdmin
}

// fail logs err and posts it as an error notice.
func (v *View) fail(op string, err error, kv ...any) {
	appLog.Error(op+" failed", err, kv...)
	msg := directory.UserMessage(err)
	if errors.Is(err, model.ErrInvalidDraft) {
		msg = err.Error()
	}
	v.Notify(NoticeError, msg)
}
