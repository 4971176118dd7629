package llama

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

// DecodeStep runs one forward pass over batch, appending it to the cache.
// The batch must fit in the window: a batch that would not fit fails with a
// CapacityError without reaching the engine.
func (c *Context) DecodeStep(b *Batch) error {
	const op = "DecodeStep"
	if err := c.lock(op); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return err
	}
	phase := "decode"
	if b != nil && b.Len() > 1 {
		phase = "prefill"
	}
	return c.decodeStep(op, b, phase)
}

func (c *Context) decodeStep(op string, b *Batch, phase string) error {
	if b == nil || b.Len() == 0 {
		return errorf(KindArgument, op, "empty batch")
	}
	start := b.b.Pos[0]
	if need := start + b.Len(); need > c.params.ContextWindow {
		metrics.RecordCapacityViolation()
		return capacityError(op, need, c.params.ContextWindow)
	}

	t0 := time.Now()
	status := c.c.Decode(b.b)
	if status != 0 {
		metrics.RecordDecodeError(strconv.Itoa(status))
		return newError(KindDecode, op, engine.StatusError(status))
	}
	metrics.RecordDecode(phase, b.Len(), time.Since(t0))
	c.nCur.Store(int64(start + b.Len()))
	return nil
}

// Logits returns the scores computed for batch entry i by the last
// DecodeStep, -1 meaning the last entry. The slice is valid until the next
// DecodeStep.
func (c *Context) Logits(i int) ([]float32, error) {
	const op = "Logits"
	if err := c.lock(op); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	logits := c.c.Logits(i)
	if logits == nil {
		return nil, errorf(KindArgument, op, "no logits for batch entry %d", i)
	}
	return logits, nil
}

// Generate greedily extends prompt until the model emits end-of-sequence or
// the sequence, prompt included, reaches maxLength tokens. It returns the
// generated text without the prompt. maxLength 0 means DefaultMaxLength.
//
// Each call starts from an empty cache. On failure the text is discarded and
// the error is a *GenerateError.
func (c *Context) Generate(prompt string, maxLength int) (string, error) {
	return c.run(prompt, maxLength, nil)
}

// GenerateTokens is Generate with a callback receiving every sampled token
// and its piece as it is produced. An error from fn stops generation and is
// returned wrapped in a *GenerateError.
//
// fn runs while the context is held and must not use it: every method other
// than Pos and the accessors fails with an ArgumentError until fn returns.
func (c *Context) GenerateTokens(prompt string, maxLength int, fn func(tok Token, piece string) error) error {
	_, err := c.run(prompt, maxLength, fn)
	return err
}

func (c *Context) run(prompt string, maxLength int, fn func(Token, string) error) (string, error) {
	const op = "Generate"
	if err := c.lock(op); err != nil {
		return "", err
	}
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return "", err
	}

	start := time.Now()
	g := generation{ctx: c, fn: fn}
	outcome, err := g.run(prompt, maxLength)
	metrics.RecordGeneration(outcome, g.generated, time.Since(start))

	if err != nil {
		logger.Log.Warn("generation failed", "outcome", outcome, "generated", g.generated, "error", err)
		var genErr *GenerateError
		if errors.As(err, &genErr) {
			return "", err
		}
		return "", &GenerateError{Err: err, Partial: g.text.String(), Generated: g.generated}
	}
	logger.Log.Debug("generation finished",
		"outcome", outcome,
		"prompt_tokens", g.promptTokens,
		"generated", g.generated,
		"elapsed", time.Since(start),
	)
	return g.text.String(), nil
}

// generation is the state of one Generate call. It is discarded when the
// call returns.
type generation struct {
	ctx *Context
	fn  func(Token, string) error

	text         strings.Builder
	promptTokens int
	generated    int
}

// run walks Prefill, then Sample, CheckTermination and Append over
// single-token decode steps. It returns the terminal outcome.
func (g *generation) run(prompt string, maxLength int) (string, error) {
	const op = "Generate"
	c := g.ctx
	window := c.params.ContextWindow

	switch {
	case maxLength == 0:
		maxLength = DefaultMaxLength
	case maxLength < 0:
		return "error", errorf(KindArgument, op, "negative maxLength %d", maxLength)
	}
	if maxLength > window {
		metrics.RecordCapacityViolation()
		return "error", capacityError(op, maxLength, window)
	}

	c.reset()

	tokens, err := c.tokenize(op, prompt, true)
	if err != nil {
		return "error", err
	}
	if len(tokens) == 0 {
		return "error", errorf(KindArgument, op, "prompt produced no tokens")
	}
	g.promptTokens = len(tokens)
	metrics.RecordPrompt(len(tokens))
	if len(tokens) > window {
		metrics.RecordCapacityViolation()
		return "error", capacityError(op, len(tokens), window)
	}

	batch, err := BuildBatch(tokens, 0, 0)
	if err != nil {
		return "error", err
	}
	if err := c.decodeStep(op, batch, "prefill"); err != nil {
		return "error", err
	}

	eos := c.model.EOS()
	for {
		pos := c.Pos()
		if pos >= maxLength {
			break
		}
		logits := c.c.Logits(-1)
		if logits == nil {
			return "error", errorf(KindDecode, op, "engine returned no logits at position %d", pos-1)
		}
		tok := engine.ArgMax(logits)
		if tok < 0 {
			return "error", errorf(KindDecode, op, "no finite logits at position %d", pos-1)
		}
		if tok == eos {
			return "eos", nil
		}

		piece := c.model.m.TokenToPiece(tok)
		g.text.WriteString(piece)
		g.generated++
		if err := g.emit(tok, piece); err != nil {
			return "stopped", &GenerateError{Err: err, Partial: g.text.String(), Generated: g.generated}
		}

		batch.Clear()
		if err := batch.Add(tok, pos, 0, true); err != nil {
			return "error", err
		}
		if err := c.decodeStep(op, batch, "decode"); err != nil {
			return "error", err
		}
	}
	return "length", nil
}

func (g *generation) emit(tok Token, piece string) error {
	if g.fn == nil {
		return nil
	}
	g.ctx.inCallback.Store(true)
	defer g.ctx.inCallback.Store(false)
	return g.fn(tok, piece)
}
