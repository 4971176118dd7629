// Package engine defines the contract between the public llama API and the
// backends that actually load weights and run forward passes.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Token is a vocabulary id.
type Token int32

// DefaultSeed asks the backend to pick its own seed.
const DefaultSeed uint32 = 0xFFFFFFFF

// MaxContextWindow bounds the context window a caller may request.
const MaxContextWindow = 1 << 20

type ModelParams struct {
	GPULayers int
	UseMmap   bool
	UseMlock  bool
	VocabOnly bool
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		GPULayers: 0,
		UseMmap:   true,
		UseMlock:  false,
		VocabOnly: false,
	}
}

type ContextParams struct {
	Seed          uint32
	ContextWindow int
	Threads       int
	ThreadsBatch  int
}

// Backend is process-wide state. Init and Free are called by the owner of the
// backend reference count, never concurrently.
type Backend interface {
	Name() string
	Init() error
	Free()
	LoadModel(path string, params ModelParams) (Model, error)
	SystemInfo() string
}

type Model interface {
	// Tokenize converts text into ids. addSpecial prepends BOS when the
	// vocabulary asks for it.
	Tokenize(text string, addSpecial bool) ([]Token, error)
	// TokenToPiece returns the surface text of a token, possibly empty.
	TokenToPiece(tok Token) string
	NumVocab() int
	BOS() Token
	EOS() Token
	TrainContext() int
	Description() string
	NewContext(params ContextParams) (Context, error)
	Close() error
}

type Context interface {
	// Decode runs a forward pass over the batch appending to the cache. It
	// returns 0 on success, 1 when the cache has no room for the batch and a
	// negative value for any other failure.
	Decode(b *Batch) int
	// Logits returns the scores for batch entry i of the last Decode; -1
	// selects the last entry. Entries not flagged for logits return nil.
	Logits(i int) []float32
	ClearCache()
	Window() int
	Close() error
}

var (
	ErrKVCacheFull    = errors.New("could not find a kv cache slot")
	ErrUnknownBackend = errors.New("unknown backend")
)

// DecodeError carries a negative Decode status.
type DecodeError struct {
	Status int
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("llama_decode failed: %d", e.Status)
}

// StatusError maps a Decode status to an error.
func StatusError(status int) error {
	switch {
	case status == 0:
		return nil
	case status == 1:
		return ErrKVCacheFull
	default:
		return DecodeError{Status: status}
	}
}

type Factory func() Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterBackend makes a backend available by name. Backends register
// themselves from init; registering a name twice panics.
func RegisterBackend(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("engine: RegisterBackend factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("engine: RegisterBackend called twice for " + name)
	}
	registry[name] = f
}

func NewBackend(name string) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}
	return f(), nil
}

func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
