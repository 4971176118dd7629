package llama

import (
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/quarrel-bindings/internal/metrics"
)

// Encode tokenizes text. With addBOS the model's beginning-of-sequence token
// is prepended when its vocabulary defines one. The cache is not touched.
func Encode(ctx *Context, text string, addBOS bool) ([]Token, error) {
	const op = "Encode"
	if ctx == nil {
		return nil, errorf(KindArgument, op, "context is nil")
	}
	if err := ctx.lock(op); err != nil {
		return nil, err
	}
	defer ctx.mu.Unlock()
	if err := ctx.checkOpen(op); err != nil {
		return nil, err
	}
	return ctx.tokenize(op, text, addBOS)
}

func (c *Context) tokenize(op, text string, addBOS bool) ([]Token, error) {
	toks, err := c.model.m.Tokenize(text, addBOS)
	if err != nil {
		return nil, newError(KindArgument, op, err)
	}
	return toks, nil
}

// EncodeBatch tokenizes each text without a BOS marker and concatenates the
// results in input order with nothing between them.
func EncodeBatch(ctx *Context, texts []string) ([]Token, error) {
	const op = "EncodeBatch"
	if ctx == nil {
		return nil, errorf(KindArgument, op, "context is nil")
	}
	if err := ctx.lock(op); err != nil {
		return nil, err
	}
	defer ctx.mu.Unlock()
	if err := ctx.checkOpen(op); err != nil {
		return nil, err
	}

	parts := make([][]Token, len(texts))
	var g errgroup.Group
	g.SetLimit(ctx.params.ThreadsBatch)
	for i, text := range texts {
		g.Go(func() error {
			toks, err := ctx.tokenize(op, text, false)
			if err != nil {
				return err
			}
			parts[i] = toks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]Token, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// EncodeValues is EncodeBatch for dynamically typed input. It fails with an
// ArgumentError naming the first element that is not a string, before any
// text is tokenized.
func EncodeValues(ctx *Context, values []any) ([]Token, error) {
	texts := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, errorf(KindArgument, "EncodeValues", "element %d is %T, want string", i, v)
		}
		texts[i] = s
	}
	return EncodeBatch(ctx, texts)
}

// Decode concatenates the piece of every token. Tokens with an empty piece,
// such as control tokens, contribute nothing. Ids outside the vocabulary are
// passed to the engine unchecked; the cpu engine renders them as empty.
func Decode(ctx *Context, tokens []Token) (string, error) {
	const op = "Decode"
	if ctx == nil {
		return "", errorf(KindArgument, op, "context is nil")
	}
	if err := ctx.lock(op); err != nil {
		return "", err
	}
	defer ctx.mu.Unlock()
	if err := ctx.checkOpen(op); err != nil {
		return "", err
	}
	return ctx.detokenize(tokens), nil
}

func (c *Context) detokenize(tokens []Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		piece := c.model.m.TokenToPiece(tok)
		if piece == "" {
			continue
		}
		sb.WriteString(piece)
	}
	metrics.RecordTokenizerDecode(len(tokens))
	return sb.String()
}

// DecodeBatch decodes each sequence independently, one string per input.
func DecodeBatch(ctx *Context, sequences [][]Token) ([]string, error) {
	const op = "DecodeBatch"
	if ctx == nil {
		return nil, errorf(KindArgument, op, "context is nil")
	}
	if err := ctx.lock(op); err != nil {
		return nil, err
	}
	defer ctx.mu.Unlock()
	if err := ctx.checkOpen(op); err != nil {
		return nil, err
	}

	out := make([]string, len(sequences))
	var g errgroup.Group
	g.SetLimit(ctx.params.ThreadsBatch)
	for i, seq := range sequences {
		g.Go(func() error {
			out[i] = ctx.detokenize(seq)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
