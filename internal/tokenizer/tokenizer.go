package tokenizer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/23skdu/quarrel-bindings/internal/gguf"
)

// TokenType mirrors tokenizer.ggml.token_type values.
type TokenType int

const (
	TypeUndefined TokenType = iota
	TypeNormal
	TypeUnknown
	TypeControl
	TypeUserDefined
	TypeUnused
	TypeByte
)

const (
	spmSpace = "▁" // U+2581, sentencepiece word boundary
	bpeSpace = "Ġ" // U+0120, byte-level BPE space
)

var ErrUntokenizable = errors.New("tokenizer: text contains characters outside the vocabulary")

type Tokenizer struct {
	Tokens []string
	Vocab  map[string]int
	Types  []TokenType

	BOS    int // -1 when the vocabulary has none
	EOS    int
	UNK    int
	AddBOS bool

	space  string
	bytes  [256]int
	maxLen int
}

// New loads the vocabulary from a GGUF file without mapping tensor data.
func New(path string) (*Tokenizer, error) {
	f, err := gguf.Open(path, gguf.Options{Mmap: true, MetadataOnly: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromMetadata(f.KV)
}

// FromMetadata builds a tokenizer from tokenizer.ggml.* keys.
func FromMetadata(kv map[string]interface{}) (*Tokenizer, error) {
	tokens, err := gguf.GetStrings(kv, "tokenizer.ggml.tokens")
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	rawTypes, err := gguf.GetInts(kv, "tokenizer.ggml.token_type")
	if err != nil {
		return nil, err
	}
	if rawTypes != nil && len(rawTypes) != len(tokens) {
		return nil, fmt.Errorf("token_type has %d entries for %d tokens", len(rawTypes), len(tokens))
	}
	types := make([]TokenType, len(tokens))
	for i := range types {
		types[i] = TypeNormal
		if rawTypes != nil {
			types[i] = TokenType(rawTypes[i])
		}
	}

	special := func(key string) (int, error) {
		id, ok := gguf.GetInt(kv, key)
		if !ok {
			return -1, nil
		}
		if id >= len(tokens) {
			return -1, fmt.Errorf("%s = %d out of range for %d tokens", key, id, len(tokens))
		}
		return id, nil
	}

	t := &Tokenizer{Tokens: tokens, Types: types}
	if t.BOS, err = special("tokenizer.ggml.bos_token_id"); err != nil {
		return nil, err
	}
	if t.EOS, err = special("tokenizer.ggml.eos_token_id"); err != nil {
		return nil, err
	}
	if t.UNK, err = special("tokenizer.ggml.unknown_token_id"); err != nil {
		return nil, err
	}
	t.AddBOS = gguf.GetBool(kv, "tokenizer.ggml.add_bos_token", t.BOS >= 0)

	switch gguf.GetString(kv, "tokenizer.ggml.model") {
	case "llama":
		t.space = spmSpace
	case "gpt2":
		t.space = bpeSpace
	}

	t.index()
	return t, nil
}

func (t *Tokenizer) index() {
	t.Vocab = make(map[string]int, len(t.Tokens))
	for i := range t.bytes {
		t.bytes[i] = -1
	}
	for i, s := range t.Tokens {
		if t.Types[i] == TypeByte {
			if b, ok := parseByteToken(s); ok {
				t.bytes[b] = i
			}
			continue
		}
		if t.Types[i] == TypeControl || t.Types[i] == TypeUnused || s == "" {
			continue
		}
		if _, dup := t.Vocab[s]; !dup {
			t.Vocab[s] = i
		}
		if len(s) > t.maxLen {
			t.maxLen = len(s)
		}
	}
}

// parseByteToken decodes "<0xNN>".
func parseByteToken(s string) (byte, bool) {
	if len(s) != 6 || !strings.HasPrefix(s, "<0x") || s[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(s[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func (t *Tokenizer) Size() int { return len(t.Tokens) }

// Fingerprint identifies the vocabulary contents.
func (t *Tokenizer) Fingerprint() uint64 {
	h := xxhash.New()
	for i, s := range t.Tokens {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0, byte(t.Types[i])})
	}
	return h.Sum64()
}

// Encode splits text by greedy longest match against the vocabulary. Runes with
// no matching token fall back to byte tokens, then to the unknown token.
// Control token text in the input is never matched as a control token. The
// second return value counts fragments mapped to the unknown token.
func (t *Tokenizer) Encode(text string, addBOS bool) ([]int, int, error) {
	ids := make([]int, 0, len(text)/2+2)
	if addBOS && t.BOS >= 0 {
		ids = append(ids, t.BOS)
	}
	if t.space != "" {
		text = strings.ReplaceAll(text, " ", t.space)
	}

	unknown := 0
	for i := 0; i < len(text); {
		n := len(text) - i
		if n > t.maxLen {
			n = t.maxLen
		}
		matched := false
		for ; n > 0; n-- {
			if id, ok := t.Vocab[text[i:i+n]]; ok {
				ids = append(ids, id)
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		_, size := utf8.DecodeRuneInString(text[i:])
		fallback := true
		for _, b := range []byte(text[i : i+size]) {
			if t.bytes[b] < 0 {
				fallback = false
				break
			}
		}
		switch {
		case fallback:
			for _, b := range []byte(text[i : i+size]) {
				ids = append(ids, t.bytes[b])
			}
		case t.UNK >= 0:
			ids = append(ids, t.UNK)
			unknown++
		default:
			return nil, unknown, fmt.Errorf("%w: %q at byte %d", ErrUntokenizable, text[i:i+size], i)
		}
		i += size
	}
	return ids, unknown, nil
}

// Piece returns the surface form of a token. Control tokens and ids outside the
// vocabulary render as the empty string.
func (t *Tokenizer) Piece(id int) string {
	if id < 0 || id >= len(t.Tokens) {
		return ""
	}
	switch t.Types[id] {
	case TypeControl, TypeUnused:
		return ""
	case TypeByte:
		if b, ok := parseByteToken(t.Tokens[id]); ok {
			return string([]byte{b})
		}
	}
	s := t.Tokens[id]
	if t.space != "" {
		s = strings.ReplaceAll(s, t.space, " ")
	}
	return s
}

// Decode concatenates the pieces of ids. Empty pieces contribute nothing.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		piece := t.Piece(id)
		if piece == "" {
			continue
		}
		sb.WriteString(piece)
	}
	return sb.String()
}
