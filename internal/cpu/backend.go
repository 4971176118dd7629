// Package cpu is a pure-Go reference engine. It runs a single-layer causal
// mixer over GGUF embedding and output tensors, which is enough to drive the
// session API end to end on any machine.
package cpu

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/logger"
)

const Name = "cpu"

// MaxCacheBytes caps the per-context cache allocation.
var MaxCacheBytes int64 = 1 << 30

func init() {
	engine.RegisterBackend(Name, func() engine.Backend { return &Backend{} })
}

type Backend struct {
	mu          sync.Mutex
	initialized bool
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	b.initialized = true
	logger.Log.Debug("cpu backend initialized", "cpu", cpuid.CPU.BrandName, "cores", runtime.NumCPU())
	return nil
}

func (b *Backend) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return
	}
	b.initialized = false
	logger.Log.Debug("cpu backend freed")
}

func (b *Backend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	b.mu.Lock()
	ready := b.initialized
	b.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("cpu backend not initialized")
	}
	m, err := loadModel(path, params)
	if err != nil {
		return nil, err
	}
	return m, nil
}

var features = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"AVX", cpuid.AVX},
	{"AVX2", cpuid.AVX2},
	{"AVX512", cpuid.AVX512F},
	{"FMA", cpuid.FMA3},
	{"F16C", cpuid.F16C},
	{"SSE3", cpuid.SSE3},
	{"SSSE3", cpuid.SSSE3},
	{"NEON", cpuid.ASIMD},
}

// SystemInfo reports CPU capabilities in "NAME = 0|1" pairs.
func (b *Backend) SystemInfo() string {
	parts := make([]string, 0, len(features)+3)
	for _, f := range features {
		v := 0
		if cpuid.CPU.Supports(f.id) {
			v = 1
		}
		parts = append(parts, fmt.Sprintf("%s = %d", f.name, v))
	}
	parts = append(parts,
		"BLAS = 1 (gonum)",
		fmt.Sprintf("threads = %d", runtime.NumCPU()),
		"gpu = none",
	)
	return strings.Join(parts, " | ") + " |"
}
