// Package autosave owns the in-memory copy of a guide version while it is
// being edited and persists it after edits settle.
//
// Every Mutate compares a digest of the canonical snapshot against the last
// persisted one. Differing edits re-arm a debounce timer so a burst of
// edits produces one write. At most one write per version is in flight.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"guias/api/internal/clock"
	"guias/api/internal/guide"
	"guias/api/internal/platform/logger"
)

const DefaultDelay = 1200 * time.Millisecond

type Saver interface {
	SaveGuide(ctx context.Context, versionID string, doc guide.SessionGuide) error
}

type SaverFunc func(ctx context.Context, versionID string, doc guide.SessionGuide) error

func (f SaverFunc) SaveGuide(ctx context.Context, versionID string, doc guide.SessionGuide) error {
	return f(ctx, versionID, doc)
}

type State string

const (
	StateIdle   State = "idle"
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateError  State = "error"
)

type Status struct {
	State   State      `json:"state"`
	At      *time.Time `json:"at,omitempty"`
	Message string     `json:"message,omitempty"`
	Dirty   bool       `json:"dirty"`
}

var ErrClosed = errors.New("autosave controller closed")

type SaveError struct {
	VersionID string
	Err       error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save guide version %s: %v", e.VersionID, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

type Option func(*Controller)

func WithDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOnStatus registers a callback for status changes. It runs outside
// the controller lock.
func WithOnStatus(fn func(Status)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

type Controller struct {
	versionID string
	saver     Saver
	clock     clock.Clock
	delay     time.Duration
	log       *logger.Logger
	onStatus  func(Status)

	// saveMu makes writes for this version strictly sequential.
	saveMu sync.Mutex

	mu              sync.Mutex
	current         guide.SessionGuide
	currentDigest   [32]byte
	persistedDigest [32]byte
	timer           *clock.Timer
	generation      uint64
	status          Status
	closed          bool
}

// New starts a controller for a version whose stored content is initial.
func New(versionID string, initial guide.SessionGuide, saver Saver, opts ...Option) (*Controller, error) {
	digest, err := digestOf(initial)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		versionID:       versionID,
		saver:           saver,
		clock:           clock.Real(),
		delay:           DefaultDelay,
		log:             logger.NewNop(),
		current:         initial.Clone(),
		currentDigest:   digest,
		persistedDigest: digest,
		status:          Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("version_id", versionID)
	return c, nil
}

func (c *Controller) VersionID() string { return c.versionID }

// Current returns a copy of the in-memory document. Changing the copy
// does not change the controller's document.
func (c *Controller) Current() guide.SessionGuide {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.status
	status.Dirty = c.currentDigest != c.persistedDigest
	return status
}

// Mutate replaces the value at path and schedules a save if the document
// now differs from what was last persisted.
func (c *Controller) Mutate(path guide.FieldPath, value any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	next, err := guide.Apply(c.current, path, value)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	digest, err := digestOf(next)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.current = next
	c.currentDigest = digest

	if digest == c.persistedDigest {
		c.cancelLocked()
		c.mu.Unlock()
		c.log.Debug("autosave: edit matches persisted snapshot", "path", path.String())
		return nil
	}
	c.armLocked()
	c.mu.Unlock()
	return nil
}

// Flush cancels the debounce and saves now if there are unsaved changes.
// A save already in flight completes first.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
	return c.save(ctx)
}

// Close stops the debounce timer. Unsaved edits are not written.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelLocked()
}

func (c *Controller) armLocked() {
	c.cancelLocked()
	gen := c.generation
	c.timer = c.clock.AfterFunc(c.delay, func() { c.fire(gen) })
}

func (c *Controller) cancelLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	if err := c.save(context.Background()); err != nil {
		c.log.Warn("autosave: debounced save failed", "error", err)
	}
}

func (c *Controller) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.currentDigest == c.persistedDigest {
		c.mu.Unlock()
		return nil
	}
	doc := c.current.Clone()
	digest := c.currentDigest
	saving := c.setStatusLocked(Status{State: StateSaving})
	c.mu.Unlock()
	c.notify(saving)

	err := c.saver.SaveGuide(ctx, c.versionID, doc)

	c.mu.Lock()
	var status Status
	if err != nil {
		status = c.setStatusLocked(Status{State: StateError, At: ptrTime(c.clock.Now()), Message: err.Error()})
	} else {
		c.persistedDigest = digest
		status = c.setStatusLocked(Status{State: StateSaved, At: ptrTime(c.clock.Now())})
		// An edit that landed during the write and was then reverted to
		// the old snapshot cancelled its timer; the document is dirty again
		// relative to what was just written.
		if c.currentDigest != c.persistedDigest && c.timer == nil && !c.closed {
			c.armLocked()
		}
	}
	c.mu.Unlock()
	c.notify(status)

	if err != nil {
		c.log.Error("autosave: save failed", "error", err)
		return &SaveError{VersionID: c.versionID, Err: err}
	}
	c.log.Debug("autosave: saved")
	return nil
}

func (c *Controller) setStatusLocked(status Status) Status {
	c.status = status
	status.Dirty = c.currentDigest != c.persistedDigest
	return status
}

func (c *Controller) notify(status Status) {
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func digestOf(doc guide.SessionGuide) ([32]byte, error) {
	payload, err := guide.Canonical(doc)
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(payload), nil
}
