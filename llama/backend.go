package llama

import (
	"fmt"
	"strings"
	"sync"

	"github.com/23skdu/quarrel-bindings/internal/config"
	_ "github.com/23skdu/quarrel-bindings/internal/cpu"
	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

// The engine backend is process-wide. Every live Model holds one reference;
// the backend is initialized on the first acquire and freed on the last
// release, so it is never freed twice or used after free.
var backend struct {
	mu   sync.Mutex
	name string
	b    engine.Backend
	refs int
}

func init() {
	backend.name = config.DefaultBackend
}

// UseBackend selects the registered engine backend for subsequent loads. It
// fails while any model is loaded.
func UseBackend(name string) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.refs > 0 {
		return errorf(KindArgument, "UseBackend", "backend %q is in use by %d models", backend.name, backend.refs)
	}
	if _, err := engine.NewBackend(name); err != nil {
		return newError(KindArgument, "UseBackend", err)
	}
	backend.name = name
	backend.b = nil
	return nil
}

// BackendName returns the backend used for new loads.
func BackendName() string {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return backend.name
}

func acquireBackend() (engine.Backend, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.refs == 0 {
		b, err := engine.NewBackend(backend.name)
		if err != nil {
			return nil, err
		}
		if err := b.Init(); err != nil {
			return nil, fmt.Errorf("backend %s init: %w", backend.name, err)
		}
		backend.b = b
		logger.Log.Debug("backend initialized", "backend", backend.name)
	}
	backend.refs++
	metrics.BackendRefs.Set(float64(backend.refs))
	return backend.b, nil
}

func releaseBackend() {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	if backend.refs == 0 {
		return
	}
	backend.refs--
	metrics.BackendRefs.Set(float64(backend.refs))
	if backend.refs == 0 {
		backend.b.Free()
		backend.b = nil
		logger.Log.Debug("backend freed", "backend", backend.name)
	}
}

func backendRefs() int {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return backend.refs
}

// SystemInfo describes the compute backend: CPU features, thread count and
// accelerator presence.
func SystemInfo() string {
	backend.mu.Lock()
	b, name := backend.b, backend.name
	backend.mu.Unlock()

	if b == nil {
		var err error
		if b, err = engine.NewBackend(name); err != nil {
			return fmt.Sprintf("backend = %s (unavailable: %v)", name, err)
		}
	}
	return fmt.Sprintf("%s backend = %s | registered = %s |",
		b.SystemInfo(), name, strings.Join(engine.Backends(), ","))
}
