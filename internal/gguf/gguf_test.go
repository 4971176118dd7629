package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGGUFMagic(t *testing.T) {
	if GGUFMagic != 0x46554747 {
		t.Errorf("expected GGUFMagic 0x46554747, got 0x%x", GGUFMagic)
	}
}

func TestGGMLTypeString(t *testing.T) {
	tests := []struct {
		ggmlType GGMLType
		expected string
	}{
		{GGMLTypeF32, "F32"},
		{GGMLTypeF16, "F16"},
		{GGMLTypeQ4_0, "Q4_0"},
		{GGMLTypeQ8_0, "Q8_0"},
		{GGMLTypeQ4_K, "Q4_K"},
		{GGMLTypeQ6_K, "Q6_K"},
		{GGMLType(99), "UNKNOWN_TYPE_99"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.ggmlType.String(); got != tt.expected {
				t.Errorf("GGMLType(%d).String() = %q, want %q", tt.ggmlType, got, tt.expected)
			}
		})
	}
}

func TestTensorInfoSizeBytes(t *testing.T) {
	tests := []struct {
		name       string
		dimensions []uint64
		ggmlType   GGMLType
		expected   uint64
	}{
		{"F32 1D", []uint64{100}, GGMLTypeF32, 400},
		{"F16 1D", []uint64{100}, GGMLTypeF16, 200},
		{"F32 2D", []uint64{10, 20}, GGMLTypeF32, 800},
		{"Q4_0 1D", []uint64{256}, GGMLTypeQ4_0, 144},
		{"Q8_0 1D", []uint64{256}, GGMLTypeQ8_0, 272},
		{"Q4_K 1D", []uint64{256}, GGMLTypeQ4_K, 144},
		{"Q6_K 1D", []uint64{256}, GGMLTypeQ6_K, 210},
		{"unknown", []uint64{256}, GGMLType(100), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &TensorInfo{Name: "test", Dimensions: tt.dimensions, Type: tt.ggmlType}
			if got := info.SizeBytes(); got != tt.expected {
				t.Errorf("SizeBytes() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.gguf")
	w := NewWriter().
		Set("general.architecture", "llama").
		Set("general.name", "fixture").
		Set("llama.context_length", uint32(64)).
		Set("tokenizer.ggml.tokens", []string{"<s>", "</s>", "a", "b"}).
		Set("tokenizer.ggml.token_type", []int32{3, 3, 1, 1}).
		Set("tokenizer.ggml.add_bos_token", true).
		Set("custom.scale", float32(0.5)).
		AddF32("token_embd.weight", []uint64{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8}).
		AddF16("output.weight", []uint64{2, 4}, []float32{0.5, -1, 2, 0, 1, 1, -2, 0.25})
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestWriterRoundTrip(t *testing.T) {
	path := writeFixture(t)

	for _, mmap := range []bool{true, false} {
		f, err := Open(path, Options{Mmap: mmap})
		if err != nil {
			t.Fatalf("Open(mmap=%v): %v", mmap, err)
		}

		if f.Mapped() != mmap {
			t.Errorf("Mapped() = %v, want %v", f.Mapped(), mmap)
		}
		if f.Header.Version != GGUFVersion {
			t.Errorf("version = %d", f.Header.Version)
		}
		if got := GetString(f.KV, "general.name"); got != "fixture" {
			t.Errorf("general.name = %q", got)
		}
		if got := GetUint(f.KV, "llama.context_length"); got != 64 {
			t.Errorf("context_length = %d", got)
		}
		if got, _ := f.KV["custom.scale"].(float32); got != 0.5 {
			t.Errorf("custom.scale = %v", got)
		}
		if !GetBool(f.KV, "tokenizer.ggml.add_bos_token", false) {
			t.Error("add_bos_token lost")
		}

		tokens, err := GetStrings(f.KV, "tokenizer.ggml.tokens")
		if err != nil {
			t.Fatalf("GetStrings: %v", err)
		}
		if diff := cmp.Diff([]string{"<s>", "</s>", "a", "b"}, tokens); diff != "" {
			t.Errorf("tokens mismatch (-want +got):\n%s", diff)
		}
		types, err := GetInts(f.KV, "tokenizer.ggml.token_type")
		if err != nil {
			t.Fatalf("GetInts: %v", err)
		}
		if diff := cmp.Diff([]int{3, 3, 1, 1}, types); diff != "" {
			t.Errorf("token types mismatch (-want +got):\n%s", diff)
		}

		emb := f.Tensor("token_embd.weight")
		if emb == nil {
			t.Fatal("token_embd.weight missing")
		}
		if len(emb.Data) != 32 {
			t.Fatalf("embedding data = %d bytes, want 32", len(emb.Data))
		}
		if f.DataOffset%DefaultAlignment != 0 {
			t.Errorf("data offset %d not aligned", f.DataOffset)
		}
		out := f.Tensor("output.weight")
		if out == nil || out.Type != GGMLTypeF16 || len(out.Data) != 16 {
			t.Fatalf("unexpected output tensor: %+v", out)
		}

		if err := f.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	badMagic := filepath.Join(dir, "magic.gguf")
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0xdeadbeef))
	buf.Write(make([]byte, 28))
	if err := os.WriteFile(badMagic, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	badVersion := filepath.Join(dir, "version.gguf")
	buf.Reset()
	_ = binary.Write(&buf, binary.LittleEndian, uint32(GGUFMagic))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(9))
	buf.Write(make([]byte, 16))
	if err := os.WriteFile(badVersion, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	truncated := filepath.Join(dir, "truncated.gguf")
	full, err := os.ReadFile(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(truncated, full[:60], 0o644); err != nil {
		t.Fatal(err)
	}

	tiny := filepath.Join(dir, "tiny.gguf")
	if err := os.WriteFile(tiny, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("missing", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "nope.gguf"), Options{Mmap: true})
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	})
	t.Run("directory", func(t *testing.T) {
		if _, err := Open(dir, Options{}); err == nil {
			t.Error("expected error for directory")
		}
	})
	t.Run("magic", func(t *testing.T) {
		_, err := Open(badMagic, Options{Mmap: true})
		var magicErr ErrInvalidMagic
		if !errors.As(err, &magicErr) || magicErr.Magic != 0xdeadbeef {
			t.Errorf("expected ErrInvalidMagic, got %v", err)
		}
	})
	t.Run("version", func(t *testing.T) {
		_, err := Open(badVersion, Options{})
		var versionErr ErrUnsupportedVersion
		if !errors.As(err, &versionErr) || versionErr.Version != 9 {
			t.Errorf("expected ErrUnsupportedVersion, got %v", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := Open(truncated, Options{Mmap: true})
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})
	t.Run("tiny", func(t *testing.T) {
		_, err := Open(tiny, Options{})
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})
}

func TestParseTensorOutOfBounds(t *testing.T) {
	full, err := os.ReadFile(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	// Drop the tail of the tensor data but keep every header byte.
	cut := full[:len(full)-40]

	if _, err := Parse(cut, false); err == nil {
		t.Error("expected out of bounds error")
	}
	f, err := Parse(cut, true)
	if err != nil {
		t.Fatalf("metadata-only parse should not touch tensor data: %v", err)
	}
	if len(f.Tensors) != 2 {
		t.Errorf("expected 2 tensor infos, got %d", len(f.Tensors))
	}
}

func TestWriterRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewWriter().Set("k", struct{}{}).WriteTo(&buf); err == nil {
		t.Error("expected unsupported type error")
	}
	if _, err := NewWriter().AddTensor("t", []uint64{4}, GGMLTypeF32, make([]byte, 3)).WriteTo(&buf); err == nil {
		t.Error("expected size mismatch error")
	}
}
