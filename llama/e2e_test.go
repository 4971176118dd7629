package llama

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/23skdu/quarrel-bindings/internal/cpu"
)

func cpuFixture(t *testing.T, opts cpu.FixtureOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.gguf")
	if err := cpu.WriteFixture(path, opts); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	return path
}

func openCPU(t *testing.T, opts ModelOptions, window int) (*Model, *Context) {
	t.Helper()
	if BackendName() != "cpu" {
		t.Fatalf("backend = %s", BackendName())
	}
	m, err := LoadModel(cpuFixture(t, cpu.DefaultFixtureOptions()), opts)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	c, err := CreateContext(m, ContextParams{ContextWindow: window, Threads: 2})
	if err != nil {
		m.Close()
		t.Fatalf("CreateContext: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		m.Close()
		if n := backendRefs(); n != 0 {
			t.Errorf("backend still has %d references", n)
		}
	})
	return m, c
}

func TestVocabOnlyEncodeDecode(t *testing.T) {
	m, c := openCPU(t, ModelOptions{VocabOnly: Bool(true)}, 16)
	if !m.VocabOnly() {
		t.Fatal("VocabOnly() = false")
	}

	toks, err := Encode(c, "ab", false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Token{9}, toks); diff != "" {
		t.Errorf("Encode(ab) (-want +got):\n%s", diff)
	}
	withBOS, err := Encode(c, "ab", true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Token{1, 9}, withBOS); diff != "" {
		t.Errorf("Encode(ab, bos) (-want +got):\n%s", diff)
	}
	text, err := Decode(c, withBOS)
	if err != nil {
		t.Fatal(err)
	}
	if text != "ab" {
		t.Errorf("Decode = %q, want %q", text, "ab")
	}

	if _, err := c.Generate("ab", 8); !errors.Is(err, ErrDecode) {
		t.Errorf("Generate without weights: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	_, c := openCPU(t, ModelOptions{VocabOnly: Bool(true)}, 16)

	for _, text := range []string{"ab", "cd", "a b c", "dab.", "a!b?"} {
		toks, err := Encode(c, text, true)
		if err != nil {
			t.Fatalf("Encode(%q): %v", text, err)
		}
		got, err := Decode(c, toks)
		if err != nil {
			t.Fatal(err)
		}
		if got != text {
			t.Errorf("round trip %q = %q", text, got)
		}
	}

	texts := []string{"ab", "cd", "a b c"}
	seqs := make([][]Token, len(texts))
	for i, text := range texts {
		seqs[i], _ = Encode(c, text, false)
	}
	joined, err := EncodeBatch(c, texts)
	if err != nil {
		t.Fatal(err)
	}
	var want []Token
	for _, s := range seqs {
		want = append(want, s...)
	}
	if diff := cmp.Diff(want, joined); diff != "" {
		t.Errorf("EncodeBatch (-want +got):\n%s", diff)
	}
	decoded, err := DecodeBatch(c, seqs)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(texts, decoded); diff != "" {
		t.Errorf("DecodeBatch (-want +got):\n%s", diff)
	}
}

func TestGenerateCPU(t *testing.T) {
	m, c := openCPU(t, ModelOptions{}, 16)
	if m.Description() != "llama 288 all F32" {
		t.Errorf("Description() = %q", m.Description())
	}
	if m.VocabSize() != len(cpu.FixtureTokens) || m.TrainContext() != 128 {
		t.Errorf("vocab=%d train=%d", m.VocabSize(), m.TrainContext())
	}

	first, err := c.Generate("the cat", 12)
	if err != nil {
		t.Fatal(err)
	}
	if c.Pos() > 12 {
		t.Errorf("Pos() = %d exceeds maxLength", c.Pos())
	}
	again, err := c.Generate("the cat", 12)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("Generate not deterministic: %q then %q", first, again)
	}

	if _, err := c.Generate("a b c d e a b c d e a b", 16); !errors.Is(err, ErrCapacity) {
		t.Errorf("long prompt: %v", err)
	}
}

func TestCPUContextTooLarge(t *testing.T) {
	saved := cpu.MaxCacheBytes
	cpu.MaxCacheBytes = 64
	defer func() { cpu.MaxCacheBytes = saved }()

	m, err := LoadModel(cpuFixture(t, cpu.DefaultFixtureOptions()), ModelOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := CreateContext(m, ContextParams{ContextWindow: 16}); !errors.Is(err, ErrContext) {
		t.Errorf("oversized cache: %v", err)
	}
}

func TestLoadGarbage(t *testing.T) {
	path := fakeModelPath(t)
	if _, err := LoadModel(path, ModelOptions{}); !errors.Is(err, ErrLoad) {
		t.Errorf("garbage file: %v", err)
	}
	if backendRefs() != 0 {
		t.Errorf("backend refs = %d after failed load", backendRefs())
	}
}

func TestSystemInfo(t *testing.T) {
	info := SystemInfo()
	for _, want := range []string{"backend = cpu", "threads = ", "registered = "} {
		if !strings.Contains(info, want) {
			t.Errorf("SystemInfo() = %q, missing %q", info, want)
		}
	}
	if !strings.Contains(info, "cpu") || !strings.Contains(info, "fake") {
		t.Errorf("registered backends missing from %q", info)
	}
}
