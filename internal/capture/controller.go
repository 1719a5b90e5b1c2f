// Package capture owns the local microphone pipeline: a Controller that keeps
// the running flag honest, and a GStreamer-backed Capturer that feeds RTP
// into the transport's audio track.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/duet/internal/util"
)

// Capturer is the media collaborator driven by a Controller.
type Capturer interface {
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsCapturing(ctx context.Context) (bool, error)
}

// Controller tracks whether capture is running. The flag changes only
// through Toggle and through resynchronization with the capturer; after a
// failed start or stop the local value is never trusted.
type Controller struct {
	capturer Capturer

	mu          sync.Mutex
	running     bool
	initialized bool
}

// NewController creates a controller for capturer.
func NewController(capturer Capturer) *Controller {
	return &Controller{capturer: capturer}
}

// Initialize sets up the capturer. Failure is reported as a warning and
// leaves the controller usable; a later Toggle retries it.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeLocked(ctx)
}

func (c *Controller) initializeLocked(ctx context.Context) error {
	if err := c.capturer.Initialize(ctx); err != nil {
		util.LogWarning("audio capture unavailable: %v", err)
		return &Error{Op: "initialize", Running: c.running, Err: ErrInitialization, Cause: err}
	}
	c.initialized = true
	return nil
}

// Toggle starts capture when stopped and stops it when running. It returns
// the resulting state, which on failure is re-read from the capturer.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		if err := c.initializeLocked(ctx); err != nil {
			return c.running, err
		}
	}

	op := "start"
	var err error
	if c.running {
		op = "stop"
		err = c.capturer.Stop(ctx)
	} else {
		err = c.capturer.Start(ctx)
	}

	if err == nil {
		c.running = !c.running
		if c.running {
			util.LogSuccess("audio capture started")
		} else {
			util.LogInfo("audio capture stopped")
		}
		return c.running, nil
	}

	actual, qerr := c.capturer.IsCapturing(ctx)
	if qerr != nil {
		c.running = false
		err = errors.Join(err, qerr)
	} else {
		c.running = actual
	}
	util.LogError("audio capture %s failed: %v (running: %t)", op, err, c.running)

	return c.running, &Error{Op: op, Running: c.running, Err: ErrCapture, Cause: err}
}

// QueryState reads the capturer's ground truth and stores it. On failure the
// cached value is returned with the error.
func (c *Controller) QueryState(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	running, err := c.capturer.IsCapturing(ctx)
	if err != nil {
		return c.running, &Error{Op: "query", Running: c.running, Err: ErrCapture, Cause: err}
	}
	c.running = running
	return running, nil
}

// Running returns the cached state for rendering.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Initialized reports whether Initialize has succeeded.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Shutdown stops capture if it is running.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	err := c.capturer.Stop(ctx)
	c.running = false
	return err
}
