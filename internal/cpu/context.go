package cpu

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

// Decode status codes below zero.
const (
	statusEmptyBatch   = -1
	statusBadPosition  = -2
	statusBadToken     = -3
	statusBadSequence  = -4
	statusContextClose = -5
	statusNoWeights    = -6
)

// rowsPerTask is the smallest slice of the vocabulary worth a goroutine.
const rowsPerTask = 256

type Context struct {
	model *Model

	window       int
	threads      int
	threadsBatch int
	seed         uint32

	// cache[p*dim:(p+1)*dim] is the hidden state at position p.
	cache []float32
	sum   []float32
	n     int

	// outputs[i] holds logits for entry i of the last batch when flags[i].
	outputs [][]float32
	flags   []bool
	closed  bool
}

func newContext(m *Model, params engine.ContextParams) (*Context, error) {
	if params.ContextWindow <= 0 {
		return nil, fmt.Errorf("context window must be positive, got %d", params.ContextWindow)
	}
	bytes := int64(params.ContextWindow) * int64(m.dim) * 4
	if bytes > MaxCacheBytes {
		return nil, fmt.Errorf("failed to allocate kv cache: %d bytes exceeds limit of %d", bytes, MaxCacheBytes)
	}

	c := &Context{
		model:        m,
		window:       params.ContextWindow,
		threads:      params.Threads,
		threadsBatch: params.ThreadsBatch,
		seed:         params.Seed,
		cache:        make([]float32, params.ContextWindow*m.dim),
		sum:          make([]float32, m.dim),
	}
	if c.threads <= 0 {
		c.threads = runtime.NumCPU()
	}
	if c.threadsBatch <= 0 {
		c.threadsBatch = c.threads
	}
	if c.seed == engine.DefaultSeed {
		c.seed = rand.Uint32()
	}

	metrics.RecordKVCacheAlloc(bytes)
	logger.Log.Debug("cpu context created",
		"window", c.window,
		"threads", c.threads,
		"threads_batch", c.threadsBatch,
		"seed", c.seed,
		"cache_bytes", bytes,
	)
	return c, nil
}

func (c *Context) Window() int { return c.window }

func (c *Context) ClearCache() {
	c.n = 0
	clear(c.sum)
	c.outputs = c.outputs[:0]
	c.flags = c.flags[:0]
}

func (c *Context) Decode(b *engine.Batch) int {
	if c.closed {
		return statusContextClose
	}
	if c.model.vocabOnly {
		return statusNoWeights
	}
	if status := c.validate(b); status != 0 {
		return status
	}

	dim := c.model.dim
	start := b.Pos[0]
	if start < c.n {
		c.rewind(start)
	}

	c.outputs = c.outputs[:0]
	c.flags = append(c.flags[:0], b.Logits...)
	for i, tok := range b.Tokens {
		pos := b.Pos[i]
		row := c.cache[pos*dim : (pos+1)*dim]
		copy(row, c.model.embd[int(tok)*dim:(int(tok)+1)*dim])
		if pos > 0 {
			blas32.Axpy(1/float32(pos), vec(c.sum), vec(row))
		}
		blas32.Axpy(1, vec(row), vec(c.sum))
		c.n = pos + 1

		var out []float32
		if b.Logits[i] {
			threads := c.threads
			if b.Len() > 1 {
				threads = c.threadsBatch
			}
			out = c.project(row, threads)
		}
		c.outputs = append(c.outputs, out)
	}

	metrics.RecordKVCacheFill(c.n, c.window)
	return 0
}

func (c *Context) validate(b *engine.Batch) int {
	if b == nil || b.Len() == 0 {
		return statusEmptyBatch
	}
	start := b.Pos[0]
	if start < 0 || start > c.n {
		return statusBadPosition
	}
	for i := range b.Tokens {
		if b.Pos[i] != start+i {
			return statusBadPosition
		}
		if b.Pos[i] >= c.window {
			return 1
		}
		if b.Tokens[i] < 0 || int(b.Tokens[i]) >= c.model.NumVocab() {
			return statusBadToken
		}
		for _, seq := range b.SeqIDs[i] {
			if seq != 0 {
				return statusBadSequence
			}
		}
	}
	return 0
}

// rewind drops cached positions at and after pos.
func (c *Context) rewind(pos int) {
	dim := c.model.dim
	clear(c.sum)
	for p := 0; p < pos; p++ {
		blas32.Axpy(1, vec(c.cache[p*dim:(p+1)*dim]), vec(c.sum))
	}
	c.n = pos
}

// project computes output · h, splitting the vocabulary across threads.
// Each row is computed by exactly one task, so results do not depend on the
// thread count.
func (c *Context) project(h []float32, threads int) []float32 {
	dim := c.model.dim
	vocab := c.model.NumVocab()
	logits := make([]float32, vocab)

	chunk := (vocab + threads - 1) / threads
	if chunk < rowsPerTask {
		chunk = rowsPerTask
	}

	var g errgroup.Group
	g.SetLimit(threads)
	for lo := 0; lo < vocab; lo += chunk {
		hi := min(lo+chunk, vocab)
		g.Go(func() error {
			a := blas32.General{
				Rows:   hi - lo,
				Cols:   dim,
				Stride: dim,
				Data:   c.model.output[lo*dim : hi*dim],
			}
			blas32.Gemv(blas.NoTrans, 1, a, vec(h), 0, vec(logits[lo:hi]))
			return nil
		})
	}
	_ = g.Wait()
	return logits
}

func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

func (c *Context) Logits(i int) []float32 {
	idx := engine.OutputIndex(c.flags, i)
	if idx < 0 {
		return nil
	}
	return c.outputs[idx]
}

func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	metrics.RecordKVCacheAlloc(-int64(len(c.cache)) * 4)
	c.cache, c.sum, c.outputs, c.flags = nil, nil, nil, nil
	return nil
}
