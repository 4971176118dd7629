package gguf

import (
	"strings"
	"testing"
)

func TestMetadataAnalyzerBasic(t *testing.T) {
	file := &GGUFFile{
		KV: map[string]interface{}{
			"general.architecture":   "llama",
			"general.name":           "test-model",
			"llama.context_length":   uint64(4096),
			"llama.embedding_length": uint32(4096),
			"general.file_type":      uint32(2),
		},
		Tensors: []*TensorInfo{
			{Name: "token_embd.weight", Dimensions: []uint64{4096, 32000}, Type: GGMLTypeQ4_0},
			{Name: "output.weight", Dimensions: []uint64{4096, 32000}, Type: GGMLTypeF16},
		},
	}

	report := NewMetadataAnalyzer(file).Analyze()

	if report.Architecture != "llama" {
		t.Errorf("Expected architecture 'llama', got '%s'", report.Architecture)
	}
	if report.ModelName != "test-model" {
		t.Errorf("Expected model name 'test-model', got '%s'", report.ModelName)
	}
	if report.ContextLength != 4096 {
		t.Errorf("Expected context length 4096, got %d", report.ContextLength)
	}
	if report.EmbeddingLength != 4096 {
		t.Errorf("Expected embedding length 4096, got %d", report.EmbeddingLength)
	}
	if report.TensorCount != 2 {
		t.Errorf("Expected 2 tensors, got %d", report.TensorCount)
	}
	if report.TotalParameters != 2*4096*32000 {
		t.Errorf("unexpected parameter count %d", report.TotalParameters)
	}
	if got := report.Description(); got != "llama 262.1M Q4_0" {
		t.Errorf("Description() = %q", got)
	}
	if !strings.Contains(report.String(), "test-model") {
		t.Errorf("report string missing model name:\n%s", report.String())
	}
}

func TestFileTypeFallsBackToLargestTensor(t *testing.T) {
	file := &GGUFFile{
		KV: map[string]interface{}{"general.architecture": "tiny"},
		Tensors: []*TensorInfo{
			{Name: "a", Dimensions: []uint64{8}, Type: GGMLTypeF32},
			{Name: "b", Dimensions: []uint64{64}, Type: GGMLTypeF16},
		},
	}
	if got := NewMetadataAnalyzer(file).Analyze().Description(); got != "tiny 72 F16" {
		t.Errorf("Description() = %q", got)
	}
}

func TestVocabOnlyDescription(t *testing.T) {
	file := &GGUFFile{KV: map[string]interface{}{}}
	if got := NewMetadataAnalyzer(file).Analyze().Description(); got != "unknown 0 vocab only" {
		t.Errorf("Description() = %q", got)
	}
}

func TestFormatParams(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{12, "12"},
		{1500, "1.5K"},
		{7_000_000, "7.0M"},
		{6_740_000_000, "6.7B"},
	}
	for _, tt := range tests {
		if got := FormatParams(tt.n); got != tt.want {
			t.Errorf("FormatParams(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestKVLookups(t *testing.T) {
	kv := map[string]interface{}{
		"u32":  uint32(7),
		"i32":  int32(-1),
		"i64":  int64(9),
		"str":  "x",
		"flag": false,
		"arr":  []interface{}{"a", uint32(1)},
	}

	if got := GetUint(kv, "missing", "u32"); got != 7 {
		t.Errorf("GetUint fallback = %d", got)
	}
	if _, ok := GetInt(kv, "i32"); ok {
		t.Error("negative int should not be reported as present")
	}
	if v, ok := GetInt(kv, "i64"); !ok || v != 9 {
		t.Errorf("GetInt(i64) = %d, %v", v, ok)
	}
	if GetString(kv, "u32") != "" {
		t.Error("GetString on non-string should be empty")
	}
	if GetBool(kv, "flag", true) {
		t.Error("GetBool should return stored false")
	}
	if !GetBool(kv, "missing", true) {
		t.Error("GetBool should return default")
	}
	if _, err := GetStrings(kv, "arr"); err == nil {
		t.Error("expected error for mixed array")
	}
	if _, err := GetInts(kv, "arr"); err == nil {
		t.Error("expected error for mixed array")
	}
	if v, err := GetInts(kv, "missing"); v != nil || err != nil {
		t.Errorf("GetInts(missing) = %v, %v", v, err)
	}
}
