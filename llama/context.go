package llama

import (
	"sync"
	"sync/atomic"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

// Context is the mutable decoding state bound to one Model: the key/value
// cache and the current fill position. All methods serialize on a per-context
// mutex, so a Context may be shared between goroutines but never runs two
// operations at once. Pos does not take the mutex and may be read at any time.
type Context struct {
	id     Handle
	model  *Model
	c      engine.Context
	params engine.ContextParams

	mu     sync.Mutex
	nCur   atomic.Int64
	closed bool

	// set while a GenerateTokens callback runs with mu held
	inCallback atomic.Bool
}

// CreateContext builds a cache of params.ContextWindow tokens against model.
func CreateContext(model *Model, params ContextParams) (*Context, error) {
	const op = "CreateContext"

	if model == nil {
		return nil, errorf(KindArgument, op, "model is nil")
	}
	if err := params.Validate(); err != nil {
		return nil, newError(KindArgument, op, err)
	}
	if err := model.retain(); err != nil {
		return nil, newError(KindHandle, op, err)
	}

	resolved := params.Resolve()
	ec, err := model.m.NewContext(resolved)
	if err != nil {
		_ = model.release()
		logger.Log.Warn("context creation failed", "window", resolved.ContextWindow, "error", err)
		return nil, newError(KindContext, op, err)
	}

	c := &Context{model: model, c: ec, params: resolved}
	c.id = contexts.Put(c)
	metrics.ContextsLive.Inc()
	logger.Log.Debug("context created",
		"model", model.path,
		"window", resolved.ContextWindow,
		"threads", resolved.Threads,
		"threads_batch", resolved.ThreadsBatch,
	)
	return c, nil
}

// LookupContext resolves a handle issued by Context.Handle.
func LookupContext(h Handle) (*Context, error) {
	c, err := contexts.Get(h)
	if err != nil {
		return nil, newError(KindHandle, "LookupContext", err)
	}
	return c, nil
}

func (c *Context) Handle() Handle { return c.id }

func (c *Context) Model() *Model { return c.model }

func (c *Context) Window() int { return c.params.ContextWindow }

func (c *Context) Threads() int { return c.params.Threads }

func (c *Context) ThreadsBatch() int { return c.params.ThreadsBatch }

// Pos returns n_cur, the number of positions filled in the cache. It is safe
// to call during generation, including from a GenerateTokens callback.
func (c *Context) Pos() int { return int(c.nCur.Load()) }

// Reset empties the cache.
func (c *Context) Reset() error {
	const op = "Reset"
	if err := c.lock(op); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return err
	}
	c.reset()
	return nil
}

func (c *Context) reset() {
	c.c.ClearCache()
	c.nCur.Store(0)
}

// Close releases the cache and the context's hold on its model. Closing twice
// is a no-op.
func (c *Context) Close() error {
	if err := c.lock("Close"); err != nil {
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.c.Close()
	c.mu.Unlock()

	_, _ = contexts.Remove(c.id)
	metrics.ContextsLive.Dec()
	logger.Log.Debug("context closed", "model", c.model.path)

	if rerr := c.model.release(); rerr != nil && err == nil {
		return rerr
	}
	if err != nil {
		return newError(KindContext, "Close", err)
	}
	return nil
}

// lock takes mu. Called from inside a GenerateTokens callback it fails instead
// of waiting on the generation that holds the mutex.
func (c *Context) lock(op string) error {
	if c.inCallback.Load() {
		return errorf(KindArgument, op, "context is busy in a GenerateTokens callback")
	}
	c.mu.Lock()
	return nil
}

func (c *Context) checkOpen(op string) error {
	if c.closed {
		return errorf(KindHandle, op, "context is closed")
	}
	return nil
}
