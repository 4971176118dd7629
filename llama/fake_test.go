package llama

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/23skdu/quarrel-bindings/internal/engine"
)

// fake is a scripted engine. Token ids index fakeVocab; id 0 is BOS and id 1
// is EOS, both with empty pieces. Every Decode makes the next script token the
// argmax of the returned logits.
var fakeVocab = []string{"", "", "a", "b", "c", "d", "e", "h", "l", "o", " "}

const (
	fakeBOS engine.Token = 0
	fakeEOS engine.Token = 1
)

type fakeState struct {
	inits, frees  atomic.Int32
	decodes       atomic.Int32
	tokenizes     atomic.Int32
	loadErr       error
	contextErr    error
	failAt        int32 // 1-based Decode call that fails, 0 never
	failStatus    int
	script        []engine.Token
	modelsClosed  atomic.Int32
	contextsAlive atomic.Int32
}

var fake = &fakeState{}

func init() {
	engine.RegisterBackend("fake", func() engine.Backend { return fakeBackend{} })
}

// useFake switches the package to the fake backend for one test.
func useFake(t *testing.T, script ...engine.Token) *fakeState {
	t.Helper()
	fake = &fakeState{script: script, failStatus: -1}
	if err := UseBackend("fake"); err != nil {
		t.Fatalf("UseBackend: %v", err)
	}
	t.Cleanup(func() {
		if n := backendRefs(); n != 0 {
			t.Errorf("backend still has %d references", n)
		}
		if err := UseBackend("cpu"); err != nil {
			t.Errorf("restore backend: %v", err)
		}
	})
	return fake
}

// fakeModelPath returns an existing file; the fake backend never reads it.
func fakeModelPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.gguf")
	if err := os.WriteFile(path, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fakeBackend struct{}

func (fakeBackend) Name() string       { return "fake" }
func (fakeBackend) Init() error        { fake.inits.Add(1); return nil }
func (fakeBackend) Free()              { fake.frees.Add(1) }
func (fakeBackend) SystemInfo() string { return "FAKE = 1 |" }

func (fakeBackend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	if fake.loadErr != nil {
		return nil, fake.loadErr
	}
	return &fakeModel{state: fake}, nil
}

type fakeModel struct {
	state *fakeState
}

func (m *fakeModel) Tokenize(text string, addSpecial bool) ([]engine.Token, error) {
	m.state.tokenizes.Add(1)
	var out []engine.Token
	if addSpecial {
		out = append(out, fakeBOS)
	}
	for _, r := range text {
		id := -1
		for i, p := range fakeVocab {
			if p == string(r) {
				id = i
				break
			}
		}
		if id < 0 {
			return nil, errors.New("fake: rune not in vocabulary")
		}
		out = append(out, engine.Token(id))
	}
	return out, nil
}

func (m *fakeModel) TokenToPiece(tok engine.Token) string {
	if tok < 0 || int(tok) >= len(fakeVocab) {
		return ""
	}
	return fakeVocab[tok]
}

func (m *fakeModel) NumVocab() int       { return len(fakeVocab) }
func (m *fakeModel) BOS() engine.Token   { return fakeBOS }
func (m *fakeModel) EOS() engine.Token   { return fakeEOS }
func (m *fakeModel) TrainContext() int   { return 64 }
func (m *fakeModel) Description() string { return "fake 0 F32" }
func (m *fakeModel) Close() error        { m.state.modelsClosed.Add(1); return nil }

func (m *fakeModel) NewContext(params engine.ContextParams) (engine.Context, error) {
	if m.state.contextErr != nil {
		return nil, m.state.contextErr
	}
	m.state.contextsAlive.Add(1)
	return &fakeContext{state: m.state, window: params.ContextWindow}, nil
}

type fakeContext struct {
	state  *fakeState
	window int
	step   int
	logits []float32
	closed bool
}

func (c *fakeContext) Decode(b *engine.Batch) int {
	n := c.state.decodes.Add(1)
	if c.state.failAt != 0 && n == c.state.failAt {
		return c.state.failStatus
	}
	c.logits = make([]float32, len(fakeVocab))
	next := fakeEOS
	if len(c.state.script) > 0 {
		next = c.state.script[c.step%len(c.state.script)]
	}
	c.logits[next] = 1
	c.step++
	return 0
}

func (c *fakeContext) Logits(i int) []float32 { return c.logits }

func (c *fakeContext) ClearCache() { c.step = 0 }

func (c *fakeContext) Window() int { return c.window }

func (c *fakeContext) Close() error {
	if !c.closed {
		c.closed = true
		c.state.contextsAlive.Add(-1)
	}
	return nil
}
