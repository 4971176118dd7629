package llama

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/handle"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

var (
	models   handle.Table[*Model]
	contexts handle.Table[*Context]
)

// Model is a loaded, immutable set of weights and vocabulary. It may back any
// number of contexts; its memory is released once Close has been called and
// every context built from it is closed.
type Model struct {
	id      Handle
	path    string
	opts    engine.ModelParams
	backend string
	m       engine.Model

	mu       sync.Mutex
	contexts int
	closed   bool
	freed    bool
}

// LoadModel loads the model file at path. On failure nothing stays allocated.
func LoadModel(path string, opts ModelOptions) (*Model, error) {
	const op = "LoadModel"

	if err := opts.Validate(); err != nil {
		return nil, newError(KindArgument, op, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, newError(KindLoad, op, err)
	}
	params := opts.Resolve()

	b, err := acquireBackend()
	if err != nil {
		return nil, newError(KindLoad, op, err)
	}
	em, err := b.LoadModel(path, params)
	if err != nil {
		releaseBackend()
		logger.Log.Warn("model load failed", "path", path, "error", err)
		return nil, newError(KindLoad, op, fmt.Errorf("failed to load model %s: %w", path, err))
	}

	m := &Model{path: path, opts: params, backend: b.Name(), m: em}
	m.id = models.Put(m)
	metrics.ModelsLive.Inc()
	logger.Log.Info("model loaded",
		"path", path,
		"desc", em.Description(),
		"vocab", em.NumVocab(),
		"backend", m.backend,
		"gpu_layers", params.GPULayers,
		"vocab_only", params.VocabOnly,
	)
	return m, nil
}

// LookupModel resolves a handle issued by Model.Handle.
func LookupModel(h Handle) (*Model, error) {
	m, err := models.Get(h)
	if err != nil {
		return nil, newError(KindHandle, "LookupModel", err)
	}
	return m, nil
}

func (m *Model) Handle() Handle { return m.id }

func (m *Model) Path() string { return m.path }

func (m *Model) VocabOnly() bool { return m.opts.VocabOnly }

func (m *Model) Description() string { return m.m.Description() }

func (m *Model) VocabSize() int { return m.m.NumVocab() }

// EOS returns the end-of-sequence token, or -1 if the vocabulary has none.
func (m *Model) EOS() Token { return m.m.EOS() }

func (m *Model) BOS() Token { return m.m.BOS() }

// TrainContext is the context length the model was trained with, 0 if unknown.
func (m *Model) TrainContext() int { return m.m.TrainContext() }

// Close releases the model. If contexts are still open the release happens
// when the last of them is closed. Closing twice is a no-op.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pending := m.contexts
	m.mu.Unlock()

	if pending > 0 {
		logger.Log.Debug("model close deferred", "path", m.path, "contexts", pending)
		return nil
	}
	return m.free()
}

var errModelClosed = errors.New("model is closed")

// retain registers a new context against the model.
func (m *Model) retain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errModelClosed
	}
	m.contexts++
	return nil
}

func (m *Model) release() error {
	m.mu.Lock()
	m.contexts--
	last := m.contexts == 0 && m.closed
	m.mu.Unlock()
	if last {
		return m.free()
	}
	return nil
}

func (m *Model) free() error {
	m.mu.Lock()
	if m.freed {
		m.mu.Unlock()
		return nil
	}
	m.freed = true
	m.mu.Unlock()

	_, _ = models.Remove(m.id)
	err := m.m.Close()
	releaseBackend()
	metrics.ModelsLive.Dec()
	logger.Log.Info("model freed", "path", m.path)
	if err != nil {
		return newError(KindLoad, "Close", err)
	}
	return nil
}
