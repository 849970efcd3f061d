// Package picker tracks Google Photos Picker sessions from creation until the
// user's selection is fetched, the session times out or it is cancelled.
//
// Sessions live only in process memory. A restart forgets them and the next
// poll reports ErrSessionNotFound.
package picker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultTimeout       = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultRetention     = 10 * time.Minute

	// maxPickedPages bounds how many pages of picked items are read.
	maxPickedPages = 20
)

var (
	ErrSessionNotFound       = errors.New("picker session not found")
	ErrSessionTimedOut       = errors.New("picker session timed out")
	ErrSessionCancelled      = errors.New("picker session cancelled")
	ErrNoProviderAccount     = errors.New("no Google Photos account is available for this user")
	ErrUpstreamQuotaExceeded = errors.New("google photos quota exceeded")
	ErrSessionCreateFailed   = errors.New("failed to create picker session")
)

// TokenProvider supplies fresh credentials for a browser session.
type TokenProvider interface {
	AccessToken(ctx context.Context, sessionID string) (auth.Credentials, error)
}

// Options configures a Coordinator. Zero values take the defaults.
type Options struct {
	// PollInterval and Timeout apply when the upstream omits its polling hints.
	PollInterval time.Duration
	Timeout      time.Duration

	SweepInterval time.Duration

	// Retention is how long terminal sessions stay answerable.
	Retention time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Result is what a poll reports.
type Result struct {
	State        model.PickerState `json:"state"`
	MediaItems   []model.MediaItem `json:"mediaItems,omitempty"`
	PollInterval time.Duration     `json:"-"`
}

// MediaItemsSet reports whether the user's selection was fetched.
func (r Result) MediaItemsSet() bool {
	return r.State == model.PickerCompleted
}

// Err returns the error for a terminal non-success state, or nil.
func (r Result) Err() error {
	switch r.State {
	case model.PickerTimedOut:
		return ErrSessionTimedOut
	case model.PickerCancelled:
		return ErrSessionCancelled
	}
	return nil
}

type entry struct {
	session    model.PickerSession
	terminalAt time.Time

	// fetching is set while one poller reads the picked items; others wait on done.
	fetching bool
	done     chan struct{}
}

// Coordinator owns the registry of picker sessions. It is safe for concurrent use.
type Coordinator struct {
	api    adapter.PickerAPI
	tokens TokenProvider

	pollInterval  time.Duration
	timeout       time.Duration
	sweepInterval time.Duration
	retention     time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewCoordinator creates a Coordinator. Call Start to run the timeout sweep.
func NewCoordinator(api adapter.PickerAPI, tokens TokenProvider, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		api:           api,
		tokens:        tokens,
		pollInterval:  opts.PollInterval,
		timeout:       opts.Timeout,
		sweepInterval: opts.SweepInterval,
		retention:     opts.Retention,
		now:           opts.Now,
		logger:        opts.Logger,
		sessions:      make(map[string]*entry),
		stopCh:        make(chan struct{}),
	}
}

// Create starts an upstream picker session for the browser session ownerID
// and registers it as pending. Nothing is registered on failure.
func (c *Coordinator) Create(ctx context.Context, ownerID, destinationPath string) (*model.PickerSession, error) {
	creds, err := c.tokens.AccessToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	up, err := c.api.CreateSession(ctx, creds.AccessToken, requestID)
	if err != nil {
		return nil, mapCreateError(err)
	}
	if up.ID == "" || up.PickerURI == "" {
		return nil, fmt.Errorf("%w: upstream returned an incomplete session", ErrSessionCreateFailed)
	}

	ps := model.PickerSession{
		ID:              up.ID,
		PickerURI:       up.PickerURI,
		RequestID:       requestID,
		AccessToken:     creds.AccessToken,
		OwnerID:         ownerID,
		UserID:          creds.UserID,
		DestinationPath: destinationPath,
		CreatedAt:       c.now(),
		PollInterval:    ParseDuration(up.PollInterval, c.pollInterval),
		Timeout:         ParseDuration(up.TimeoutIn, c.timeout),
		State:           model.PickerPending,
	}

	c.mu.Lock()
	c.sessions[ps.ID] = &entry{session: ps}
	c.mu.Unlock()

	logging.FromContext(ctx).Info("picker session created",
		"picker_session", ps.ID,
		"request_id", requestID,
		"poll_interval", ps.PollInterval,
		"timeout", ps.Timeout,
	)
	return &ps, nil
}

// Poll reports the session's state, checking upstream at most once. The first
// poller to see the selection complete fetches the picked items. Concurrent
// pollers wait for that fetch instead of repeating it.
func (c *Coordinator) Poll(ctx context.Context, ownerID, sessionID string) (Result, error) {
	c.mu.Lock()
	e, ok := c.lookupLocked(ownerID, sessionID)
	if !ok {
		c.mu.Unlock()
		return Result{}, ErrSessionNotFound
	}
	c.expireLocked(e, c.now())
	if e.session.State.Terminal() {
		r := c.resultLocked(e)
		c.mu.Unlock()
		return r, nil
	}
	if e.fetching {
		done := e.done
		c.mu.Unlock()
		return c.waitFetch(ctx, e, done)
	}
	token := e.session.AccessToken
	c.mu.Unlock()

	token = c.freshToken(ctx, ownerID, token)
	up, err := c.api.GetSession(ctx, token, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("poll picker session: %w", err)
	}

	c.mu.Lock()
	if !up.MediaItemsSet || e.session.State.Terminal() {
		// Another caller may have moved the session on while we were upstream.
		r := c.resultLocked(e)
		c.mu.Unlock()
		return r, nil
	}
	if e.fetching {
		done := e.done
		c.mu.Unlock()
		return c.waitFetch(ctx, e, done)
	}
	e.fetching = true
	e.done = make(chan struct{})
	done := e.done
	c.mu.Unlock()

	items, fetchErr := c.fetchPicked(ctx, token, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.fetching = false
	close(done)
	if fetchErr != nil {
		return Result{}, fmt.Errorf("fetch picked items: %w", fetchErr)
	}
	if e.session.State == model.PickerPending {
		e.session.State = model.PickerCompleted
		e.session.MediaItems = items
		e.terminalAt = c.now()
		logging.FromContext(ctx).Info("picker session completed",
			"picker_session", sessionID,
			"media_items", len(items),
		)
	}
	return c.resultLocked(e), nil
}

// Cancel moves a pending session to cancelled and asks upstream to delete
// it. Terminal sessions keep their state.
func (c *Coordinator) Cancel(ctx context.Context, ownerID, sessionID string) (Result, error) {
	c.mu.Lock()
	e, ok := c.lookupLocked(ownerID, sessionID)
	if !ok {
		c.mu.Unlock()
		return Result{}, ErrSessionNotFound
	}
	now := c.now()
	c.expireLocked(e, now)
	cancelled := c.cancelLocked(e, now)
	token := e.session.AccessToken
	r := c.resultLocked(e)
	c.mu.Unlock()

	if cancelled {
		c.deleteUpstream(ctx, ownerID, sessionID, token)
	}
	return r, nil
}

// CancelOwner cancels every pending session of a browser session and
// returns how many were cancelled.
func (c *Coordinator) CancelOwner(ctx context.Context, ownerID string) int {
	type victim struct{ id, token string }
	var victims []victim

	c.mu.Lock()
	now := c.now()
	for id, e := range c.sessions {
		if e.session.OwnerID != ownerID {
			continue
		}
		c.expireLocked(e, now)
		if c.cancelLocked(e, now) {
			victims = append(victims, victim{id: id, token: e.session.AccessToken})
		}
	}
	c.mu.Unlock()

	for _, v := range victims {
		c.deleteUpstream(ctx, "", v.id, v.token)
	}
	return len(victims)
}

// Sweep times out expired pending sessions and drops terminal sessions past
// the retention window.
func (c *Coordinator) Sweep() (timedOut, removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.sessions {
		if c.expireLocked(e, now) {
			timedOut++
		}
		if e.session.State.Terminal() && !e.fetching && now.Sub(e.terminalAt) >= c.retention {
			delete(c.sessions, id)
			removed++
		}
	}
	return timedOut, removed
}

// Len returns the number of tracked sessions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Pending returns the number of pending sessions.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sessions {
		if e.session.State == model.PickerPending {
			n++
		}
	}
	return n
}

// Start launches the periodic sweep. It is a no-op if already started.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if timedOut, removed := c.Sweep(); timedOut+removed > 0 {
					c.logger.Info("picker sweep", "timed_out", timedOut, "removed", removed)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic sweep. It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Coordinator) lookupLocked(ownerID, sessionID string) (*entry, bool) {
	e, ok := c.sessions[sessionID]
	if !ok || e.session.OwnerID != ownerID {
		return nil, false
	}
	return e, true
}

// expireLocked times out a pending session whose deadline has passed. A
// session whose items are being fetched is left to finish.
func (c *Coordinator) expireLocked(e *entry, now time.Time) bool {
	if e.session.State != model.PickerPending || e.fetching {
		return false
	}
	if now.Before(e.session.CreatedAt.Add(e.session.Timeout)) {
		return false
	}
	e.session.State = model.PickerTimedOut
	e.terminalAt = now
	return true
}

func (c *Coordinator) cancelLocked(e *entry, now time.Time) bool {
	if e.session.State != model.PickerPending {
		return false
	}
	e.session.State = model.PickerCancelled
	e.terminalAt = now
	return true
}

func (c *Coordinator) resultLocked(e *entry) Result {
	r := Result{State: e.session.State, PollInterval: e.session.PollInterval}
	if len(e.session.MediaItems) > 0 {
		r.MediaItems = append([]model.MediaItem(nil), e.session.MediaItems...)
	}
	return r
}

func (c *Coordinator) waitFetch(ctx context.Context, e *entry, done <-chan struct{}) (Result, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked(e), nil
}

func (c *Coordinator) fetchPicked(ctx context.Context, token, sessionID string) ([]model.MediaItem, error) {
	var items []model.MediaItem
	pageToken := ""
	for page := 0; page < maxPickedPages; page++ {
		res, err := c.api.ListPickedItems(ctx, token, sessionID, pageToken)
		if err != nil {
			return nil, err
		}
		items = append(items, res.MediaItems...)
		if res.NextPageToken == "" {
			return items, nil
		}
		pageToken = res.NextPageToken
	}
	logging.FromContext(ctx).Warn("picked items truncated", "picker_session", sessionID, "pages", maxPickedPages)
	return items, nil
}

// freshToken prefers a refreshed token for the owner and falls back to the
// token captured at creation.
func (c *Coordinator) freshToken(ctx context.Context, ownerID, snapshot string) string {
	if c.tokens == nil {
		return snapshot
	}
	creds, err := c.tokens.AccessToken(ctx, ownerID)
	if err != nil {
		logging.FromContext(ctx).Debug("using picker session token snapshot", "error", err)
		return snapshot
	}
	return creds.AccessToken
}

func (c *Coordinator) deleteUpstream(ctx context.Context, ownerID, sessionID, token string) {
	if ownerID != "" {
		token = c.freshToken(ctx, ownerID, token)
	}
	if err := c.api.DeleteSession(ctx, token, sessionID); err != nil {
		logging.FromContext(ctx).Warn("failed to delete upstream picker session", "picker_session", sessionID, "error", err)
	}
}

func mapCreateError(err error) error {
	switch adapter.StatusOf(err) {
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %w", ErrNoProviderAccount, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrUpstreamQuotaExceeded, err)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", auth.ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%w: %w", ErrSessionCreateFailed, err)
	}
}

// ParseDuration parses an upstream duration string such as "5s" or
// "1799.5s", returning def when s is empty, malformed or not positive.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
