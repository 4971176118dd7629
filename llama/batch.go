package llama

import "github.com/23skdu/quarrel-bindings/internal/engine"

// Batch is a bounded buffer of tokens submitted together to DecodeStep.
type Batch struct {
	b *engine.Batch
}

type BatchEntry struct {
	Token  Token
	Pos    int
	SeqID  int
	Logits bool
}

// NewBatch allocates an empty batch holding up to capacity entries.
func NewBatch(capacity int) (*Batch, error) {
	b, err := engine.NewBatch(capacity)
	if err != nil {
		return nil, newError(KindArgument, "NewBatch", err)
	}
	return &Batch{b: b}, nil
}

// Add appends one entry. Only sequence 0 is supported by the engines in this
// module; other ids are rejected at decode time.
func (b *Batch) Add(tok Token, pos, seq int, logits bool) error {
	const op = "Batch.Add"
	if pos < 0 {
		return errorf(KindArgument, op, "negative position %d", pos)
	}
	if seq < 0 {
		return errorf(KindArgument, op, "negative sequence id %d", seq)
	}
	if err := b.b.Add(tok, pos, logits, seq); err != nil {
		return newError(KindArgument, op, err)
	}
	return nil
}

func (b *Batch) Len() int { return b.b.Len() }

func (b *Batch) Capacity() int { return b.b.Capacity() }

func (b *Batch) Clear() { b.b.Clear() }

func (b *Batch) Entry(i int) (BatchEntry, bool) {
	if i < 0 || i >= b.b.Len() {
		return BatchEntry{}, false
	}
	return BatchEntry{
		Token:  b.b.Tokens[i],
		Pos:    b.b.Pos[i],
		SeqID:  b.b.SeqIDs[i][0],
		Logits: b.b.Logits[i],
	}, true
}

func (b *Batch) Entries() []BatchEntry {
	out := make([]BatchEntry, b.Len())
	for i := range out {
		out[i], _ = b.Entry(i)
	}
	return out
}

// BuildBatch places tokens at positions start, start+1, ... in sequence seq.
// Only the last entry requests logits. The batch capacity is the larger of
// len(tokens) and DefaultBatchSize so it can be reused for single-token steps.
func BuildBatch(tokens []Token, start, seq int) (*Batch, error) {
	if len(tokens) == 0 {
		return nil, errorf(KindArgument, "BuildBatch", "no tokens")
	}
	b, err := NewBatch(max(len(tokens), DefaultBatchSize))
	if err != nil {
		return nil, err
	}
	last := len(tokens) - 1
	for i, tok := range tokens {
		if err := b.Add(tok, start+i, seq, i == last); err != nil {
			return nil, err
		}
	}
	return b, nil
}
