package cpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/x448/float16"
	xcpu "golang.org/x/sys/cpu"

	"github.com/23skdu/quarrel-bindings/internal/engine"
	"github.com/23skdu/quarrel-bindings/internal/gguf"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/metrics"
	"github.com/23skdu/quarrel-bindings/internal/tokenizer"
)

// hostLittleEndian allows F32 tensors to alias the little-endian file bytes.
var hostLittleEndian = !xcpu.IsBigEndian

type Model struct {
	path string
	file *gguf.GGUFFile
	tok  *tokenizer.Tokenizer
	desc string

	dim      int
	trainCtx int
	// Row-major [vocab][dim]. F32 tensors alias the mapped file.
	embd   []float32
	output []float32

	vocabOnly bool
	closeOnce sync.Once
}

func loadModel(path string, params engine.ModelParams) (*Model, error) {
	f, err := gguf.Open(path, gguf.Options{
		Mmap:         params.UseMmap,
		Mlock:        params.UseMlock,
		MetadataOnly: params.VocabOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load GGUF: %w", err)
	}

	tok, err := tokenizer.FromMetadata(f.KV)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	report := gguf.NewMetadataAnalyzer(f).Analyze()
	m := &Model{
		path:      path,
		tok:       tok,
		desc:      report.Description(),
		trainCtx:  report.ContextLength,
		vocabOnly: params.VocabOnly,
	}

	if params.VocabOnly {
		f.Close()
		logger.Log.Info("cpu model loaded",
			"path", path,
			"vocab", tok.Size(),
			"vocab_hash", fmt.Sprintf("%016x", tok.Fingerprint()),
			"vocab_only", true,
		)
		return m, nil
	}

	m.file = f
	if err := m.loadWeights(report.EmbeddingLength); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}

	logger.Log.Info("cpu model loaded",
		"path", path,
		"desc", m.desc,
		"vocab", tok.Size(),
		"vocab_hash", fmt.Sprintf("%016x", tok.Fingerprint()),
		"dim", m.dim,
		"mmap", f.Mapped(),
		"mlock", f.Locked(),
	)
	return m, nil
}

func (m *Model) loadWeights(wantDim int) error {
	embd := m.file.Tensor("token_embd.weight")
	if embd == nil {
		return fmt.Errorf("tensor token_embd.weight not found")
	}
	if len(embd.Dimensions) != 2 || embd.Dimensions[0] == 0 {
		return fmt.Errorf("token_embd.weight: unexpected shape %v", embd.Dimensions)
	}
	m.dim = int(embd.Dimensions[0])
	if wantDim != 0 && wantDim != m.dim {
		return fmt.Errorf("token_embd.weight: dim %d, embedding_length %d", m.dim, wantDim)
	}

	var err error
	if m.embd, err = m.matrix(embd); err != nil {
		return err
	}

	out := m.file.Tensor("output.weight")
	if out == nil {
		m.output = m.embd
		return nil
	}
	m.output, err = m.matrix(out)
	return err
}

// matrix returns a [vocab][dim] tensor as float32, checking its shape.
func (m *Model) matrix(t *gguf.TensorInfo) ([]float32, error) {
	if len(t.Dimensions) != 2 || int(t.Dimensions[0]) != m.dim || int(t.Dimensions[1]) != m.tok.Size() {
		return nil, fmt.Errorf("%s: shape %v, want [%d %d]", t.Name, t.Dimensions, m.dim, m.tok.Size())
	}
	n := int(t.Elements())

	switch t.Type {
	case gguf.GGMLTypeF32:
		if hostLittleEndian && uintptr(unsafe.Pointer(&t.Data[0]))%4 == 0 {
			return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), n), nil
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
		}
		return out, nil
	case gguf.GGMLTypeF16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[2*i:])).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unsupported tensor type %s", t.Name, t.Type)
	}
}

func (m *Model) Tokenize(text string, addSpecial bool) ([]engine.Token, error) {
	ids, unknown, err := m.tok.Encode(text, addSpecial && m.tok.AddBOS)
	if err != nil {
		return nil, err
	}
	metrics.RecordTokenizerEncode(len(ids), unknown)
	out := make([]engine.Token, len(ids))
	for i, id := range ids {
		out[i] = engine.Token(id)
	}
	return out, nil
}

func (m *Model) TokenToPiece(tok engine.Token) string {
	return m.tok.Piece(int(tok))
}

func (m *Model) NumVocab() int { return m.tok.Size() }

func (m *Model) BOS() engine.Token { return engine.Token(m.tok.BOS) }

func (m *Model) EOS() engine.Token { return engine.Token(m.tok.EOS) }

func (m *Model) TrainContext() int { return m.trainCtx }

func (m *Model) Description() string { return m.desc }

// NewContext creates a context. On a vocab-only model the context has no
// cache and every Decode fails.
func (m *Model) NewContext(params engine.ContextParams) (engine.Context, error) {
	c, err := newContext(m, params)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.embd, m.output = nil, nil
		if m.file != nil {
			err = m.file.Close()
		}
		logger.Log.Debug("cpu model closed", "path", m.path)
	})
	return err
}
