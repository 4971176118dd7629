package engine

import (
	"errors"
	"fmt"
)

var ErrBatchFull = errors.New("batch is full")

// Batch is a fixed-capacity set of tokens submitted to Context.Decode.
// Entry i is (Tokens[i], Pos[i], SeqIDs[i], Logits[i]).
type Batch struct {
	Tokens []Token
	Pos    []int
	SeqIDs [][]int
	Logits []bool

	capacity int
}

func NewBatch(capacity int) (*Batch, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("batch capacity must be positive, got %d", capacity)
	}
	return &Batch{
		Tokens:   make([]Token, 0, capacity),
		Pos:      make([]int, 0, capacity),
		SeqIDs:   make([][]int, 0, capacity),
		Logits:   make([]bool, 0, capacity),
		capacity: capacity,
	}, nil
}

func (b *Batch) Add(tok Token, pos int, logits bool, seqIDs ...int) error {
	if len(b.Tokens) >= b.capacity {
		return fmt.Errorf("%w: capacity %d", ErrBatchFull, b.capacity)
	}
	if len(seqIDs) == 0 {
		seqIDs = []int{0}
	}
	b.Tokens = append(b.Tokens, tok)
	b.Pos = append(b.Pos, pos)
	b.SeqIDs = append(b.SeqIDs, append([]int(nil), seqIDs...))
	b.Logits = append(b.Logits, logits)
	return nil
}

func (b *Batch) Len() int { return len(b.Tokens) }

func (b *Batch) Capacity() int { return b.capacity }

func (b *Batch) Clear() {
	b.Tokens = b.Tokens[:0]
	b.Pos = b.Pos[:0]
	b.SeqIDs = b.SeqIDs[:0]
	b.Logits = b.Logits[:0]
}

// OutputIndex resolves the entry index passed to Context.Logits against the
// logits flags of the decoded batch, -1 meaning the last entry. It returns -1
// when the entry does not exist or was not flagged.
func OutputIndex(flags []bool, i int) int {
	if i == -1 {
		i = len(flags) - 1
	}
	if i < 0 || i >= len(flags) || !flags[i] {
		return -1
	}
	return i
}
