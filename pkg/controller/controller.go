package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hubbridge/hubbridge/pkg/ihost"
	"github.com/hubbridge/hubbridge/pkg/log"
	"github.com/hubbridge/hubbridge/pkg/riot"
	"github.com/hubbridge/hubbridge/pkg/storage"
)

const (
	// retryDelay separates cycles regardless of how the previous one ended.
	retryDelay = 5 * time.Second
	// pollInterval bounds how long the watch loop sleeps between checks.
	pollInterval = 500 * time.Millisecond
	// staleAfter is how long a once-updating connection may go silent before
	// the watchdog kills it.
	staleAfter = 5 * time.Minute

	cardLabel = "Hubble CloudLink Usage"
	cardURL   = "http://ihost.local:9009/card.html"
)

// ErrNotLoggedIn is returned by a cycle when the persisted settings are
// incomplete. No network calls are made in that case.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrStaleConnection is returned when the watchdog force-closed a connection
// that stopped receiving updates.
var ErrStaleConnection = errors.New("connection is not receiving updates")

type portal interface {
	Login(ctx context.Context, email, password string) (riot.Session, error)
}

type hub interface {
	Announce(ctx context.Context, accessToken string) (ihost.Endpoint, error)
	EnsureCard(ctx context.Context, accessToken, label, cardURL string) (ihost.Card, error)
	ReportState(ctx context.Context, accessToken string, endpoint ihost.Endpoint, state ihost.DeviceState) error
}

type monitor interface {
	AccessToken() string
	Keys() map[string]interface{}
	KeysLastUpdatedAt() time.Time
	Revision() uint64
	Updates() <-chan struct{}
	IsClosed() bool
	Close() error
}

type dialFunc func(ctx context.Context, accessToken string) (monitor, error)

// Controller runs the bridge loop: authenticate upstream, keep exactly one
// live telemetry connection, and mirror snapshot changes to the hub.
type Controller struct {
	db     storage.Database
	portal portal
	hub    hub
	dial   dialFunc

	// mu guards mon because Restart and Status are called from HTTP
	// handlers while the cycle goroutine swaps the connection
	mu  sync.Mutex
	mon monitor
}

// Status is a point-in-time snapshot of the current connection for the HTTP
// surface.
type Status struct {
	Keys              map[string]interface{}
	KeysLastUpdatedAt time.Time
	AccessToken       string
}

// New creates a Controller wired to the real telemetry socket.
func New(db storage.Database, p *riot.Portal, h *ihost.Client) *Controller {
	return &Controller{
		db:     db,
		portal: p,
		hub:    h,
		dial: func(ctx context.Context, accessToken string) (monitor, error) {
			return riot.NewMonitor(ctx, accessToken)
		},
	}
}

// Run executes cycles until the context is canceled. Every cycle outcome,
// success or failure, is followed by the same fixed delay.
func (c *Controller) Run(ctx context.Context) {
	for {
		log.Ctx(ctx).DebugContext(ctx, "running iteration")
		if err := c.runCycle(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).WarnContext(ctx, "update failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// Restart closes the current connection so the running cycle ends and the
// next one re-authenticates with fresh settings.
func (c *Controller) Restart() {
	c.mu.Lock()
	mon := c.mon
	c.mu.Unlock()
	if mon != nil {
		mon.Close()
	}
}

// Status returns the current connection snapshot, or the zero Status when no
// connection has been established yet.
func (c *Controller) Status() Status {
	c.mu.Lock()
	mon := c.mon
	c.mu.Unlock()
	if mon == nil {
		return Status{}
	}
	return Status{
		Keys:              mon.Keys(),
		KeysLastUpdatedAt: mon.KeysLastUpdatedAt(),
		AccessToken:       mon.AccessToken(),
	}
}

func (c *Controller) runCycle(ctx context.Context) error {
	settings, err := c.db.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.LoggedIn() {
		return ErrNotLoggedIn
	}

	sess, err := c.portal.Login(ctx, settings.Email, settings.Password)
	if err != nil {
		return err
	}

	mon, err := c.dial(ctx, sess.AccessToken)
	if err != nil {
		return err
	}
	c.swapMonitor(mon)

	endpoint, err := c.hub.Announce(ctx, settings.IHostAccessToken)
	if err != nil {
		return err
	}
	if _, err := c.hub.EnsureCard(ctx, settings.IHostAccessToken, cardLabel, cardURL); err != nil {
		return err
	}

	return c.watch(ctx, settings.IHostAccessToken, mon, endpoint)
}

// swapMonitor installs the new connection and closes the previous one, so at
// most one socket is ever live.
func (c *Controller) swapMonitor(mon monitor) {
	c.mu.Lock()
	prev := c.mon
	c.mon = mon
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// watch mirrors snapshot changes to the hub until the connection ends. Each
// revision is reported at most once; revisions arriving while a report is in
// flight coalesce into the next one.
func (c *Controller) watch(ctx context.Context, hubToken string, mon monitor, endpoint ihost.Endpoint) error {
	var lastReported uint64
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if mon.IsClosed() {
			return nil
		}

		rev := mon.Revision()
		if rev == lastReported {
			if last := mon.KeysLastUpdatedAt(); !last.IsZero() && time.Since(last) > staleAfter {
				log.Ctx(ctx).ErrorContext(ctx, "connection is not receiving updates, reconnecting")
				mon.Close()
				return ErrStaleConnection
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			case <-mon.Updates():
			}
			continue
		}

		lastReported = rev
		state := ihost.StateFromKeys(mon.Keys())
		log.Ctx(ctx).DebugContext(ctx, "updating hub",
			slog.Uint64("revision", rev),
			slog.Int("battery", state.Battery),
			slog.Int("electricPower", state.ElectricPower),
		)
		if err := c.hub.ReportState(ctx, hubToken, endpoint, state); err != nil {
			return err
		}
	}
}
