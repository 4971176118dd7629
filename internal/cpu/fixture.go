package cpu

import (
	"math"

	"github.com/23skdu/quarrel-bindings/internal/gguf"
)

// FixtureTokens is the vocabulary written by WriteFixture. Ids 0-2 are
// <unk>, <s> and </s>.
var FixtureTokens = []string{
	"<unk>", "<s>", "</s>", "▁",
	"a", "b", "c", "d", "e",
	"ab", "cd", "▁a", "▁b", "▁the", "▁cat",
	".", "<0x21>", "<0x3F>",
}

var fixtureTypes = []int32{
	2, 3, 3, 1,
	1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1,
	1, 6, 6,
}

type FixtureOptions struct {
	Name          string
	Dim           int
	ContextLength int
	F16           bool
	TiedOutput    bool
}

func DefaultFixtureOptions() FixtureOptions {
	return FixtureOptions{Name: "quarrel-fixture", Dim: 8, ContextLength: 128}
}

// WriteFixture writes a small llama-style GGUF file the cpu engine can run.
// Weights are a deterministic function of the token and dimension index.
func WriteFixture(path string, opts FixtureOptions) error {
	if opts.Dim <= 0 {
		opts.Dim = DefaultFixtureOptions().Dim
	}
	if opts.ContextLength <= 0 {
		opts.ContextLength = DefaultFixtureOptions().ContextLength
	}
	vocab := len(FixtureTokens)
	dims := []uint64{uint64(opts.Dim), uint64(vocab)}

	embd := make([]float32, vocab*opts.Dim)
	out := make([]float32, vocab*opts.Dim)
	for t := 0; t < vocab; t++ {
		for d := 0; d < opts.Dim; d++ {
			embd[t*opts.Dim+d] = float32(math.Sin(float64(t*opts.Dim+d+1) * 0.7))
			out[t*opts.Dim+d] = float32(math.Cos(float64((t+3)*(d+1)) * 0.3))
		}
	}

	fileType := uint32(0)
	if opts.F16 {
		fileType = 1
	}
	w := gguf.NewWriter().
		Set("general.architecture", "llama").
		Set("general.name", opts.Name).
		Set("general.file_type", fileType).
		Set("llama.context_length", uint32(opts.ContextLength)).
		Set("llama.embedding_length", uint32(opts.Dim)).
		Set("tokenizer.ggml.model", "llama").
		Set("tokenizer.ggml.tokens", FixtureTokens).
		Set("tokenizer.ggml.token_type", fixtureTypes).
		Set("tokenizer.ggml.bos_token_id", uint32(1)).
		Set("tokenizer.ggml.eos_token_id", uint32(2)).
		Set("tokenizer.ggml.unknown_token_id", uint32(0)).
		Set("tokenizer.ggml.add_bos_token", true)

	add := w.AddF32
	if opts.F16 {
		add = w.AddF16
	}
	add("token_embd.weight", dims, embd)
	if !opts.TiedOutput {
		add("output.weight", dims, out)
	}
	return w.WriteFile(path)
}
