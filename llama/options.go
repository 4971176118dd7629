package llama

import (
	"github.com/23skdu/quarrel-bindings/internal/config"
	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/handle"
)

// Token is a vocabulary id in [0, vocabulary size).
type Token = engine.Token

// Handle identifies a live Model or Context in the process registry.
type Handle = handle.ID

// ModelOptions controls loading. Nil fields take the engine defaults: no GPU
// layers, mmap on, mlock off, full weights.
type ModelOptions = config.ModelOptions

// ContextParams sizes a context. Zero fields take the defaults: a 4096 token
// window, 6 threads, ThreadsBatch equal to Threads, and an engine-chosen seed.
type ContextParams = config.ContextParams

const (
	DefaultContextWindow = config.DefaultContextWindow
	DefaultThreads       = config.DefaultThreads
	DefaultMaxLength     = config.DefaultMaxLength
	DefaultBatchSize     = config.DefaultBatchSize
)

func Bool(v bool) *bool { return &v }

func Int(v int) *int { return &v }

func Uint32(v uint32) *uint32 { return &v }

// DefaultModelOptions returns the engine defaults with every field set.
func DefaultModelOptions() ModelOptions {
	p := ModelOptions{}.Resolve()
	return ModelOptions{
		GPULayers: Int(p.GPULayers),
		VocabOnly: Bool(p.VocabOnly),
		UseMmap:   Bool(p.UseMmap),
		UseMlock:  Bool(p.UseMlock),
	}
}

// DefaultContextParams returns the context defaults. Seed stays nil so the
// engine picks one.
func DefaultContextParams() ContextParams {
	p := ContextParams{}.Resolve()
	return ContextParams{
		ContextWindow: p.ContextWindow,
		Threads:       p.Threads,
		ThreadsBatch:  p.ThreadsBatch,
	}
}
