package gguf

import (
	"fmt"
	"strings"
)

type MetadataAnalyzer struct {
	file *GGUFFile
}

func NewMetadataAnalyzer(file *GGUFFile) *MetadataAnalyzer {
	return &MetadataAnalyzer{file: file}
}

type AnalysisReport struct {
	Architecture    string
	ModelName       string
	ContextLength   int
	EmbeddingLength int
	FileType        string
	TotalParameters int64
	TensorCount     int
	SizeBytes       int64
}

func (a *MetadataAnalyzer) Analyze() *AnalysisReport {
	report := &AnalysisReport{
		TensorCount: len(a.file.Tensors),
	}

	report.Architecture = GetString(a.file.KV, "general.architecture")
	report.ModelName = GetString(a.file.KV, "general.name")
	report.ContextLength = int(GetUint(a.file.KV, report.Architecture+".context_length"))
	report.EmbeddingLength = int(GetUint(a.file.KV, report.Architecture+".embedding_length"))
	report.FileType = a.fileType()

	for _, t := range a.file.Tensors {
		report.TotalParameters += int64(t.Elements())
		report.SizeBytes += int64(t.SizeBytes())
	}

	return report
}

// fileType names the dominant weight type. general.file_type wins when set.
func (a *MetadataAnalyzer) fileType() string {
	if v, ok := lookupUint(a.file.KV, "general.file_type"); ok {
		switch v {
		case 0:
			return "all F32"
		case 1:
			return "F16"
		case 2:
			return "Q4_0"
		case 3:
			return "Q4_1"
		case 7:
			return "Q8_0"
		case 15:
			return "Q4_K - Medium"
		case 18:
			return "Q6_K"
		}
		return fmt.Sprintf("ftype %d", v)
	}

	var best GGMLType
	var bestSize uint64
	for _, t := range a.file.Tensors {
		if s := t.SizeBytes(); s > bestSize {
			best, bestSize = t.Type, s
		}
	}
	if bestSize == 0 {
		return "vocab only"
	}
	return best.String()
}

// Description renders "<arch> <size> <ftype>", the same shape as
// llama_model_desc output.
func (r *AnalysisReport) Description() string {
	arch := r.Architecture
	if arch == "" {
		arch = "unknown"
	}
	return strings.Join([]string{arch, FormatParams(r.TotalParameters), r.FileType}, " ")
}

func FormatParams(n int64) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func (r *AnalysisReport) String() string {
	return fmt.Sprintf(`GGUF Model Analysis Report
============================
Architecture:     %s
Model Name:       %s
Context Length:   %d
Embedding Length: %d
File Type:        %s
Total Tensors:    %d
Total Parameters: %d (%s)
Tensor Bytes:     %d
`,
		r.Architecture,
		r.ModelName,
		r.ContextLength,
		r.EmbeddingLength,
		r.FileType,
		r.TensorCount,
		r.TotalParameters,
		FormatParams(r.TotalParameters),
		r.SizeBytes,
	)
}

// GetUint returns the first key holding an unsigned or non-negative integer.
func GetUint(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if v, ok := lookupUint(kv, key); ok {
			return v
		}
	}
	return 0
}

func lookupUint(kv map[string]interface{}, key string) (uint64, bool) {
	return toUint(kv[key])
}

func toUint(val interface{}) (uint64, bool) {
	switch v := val.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int8:
		return uint64(v), v >= 0
	case int16:
		return uint64(v), v >= 0
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}

// GetInt returns the value at key as an int and whether it was present.
func GetInt(kv map[string]interface{}, key string) (int, bool) {
	v, ok := lookupUint(kv, key)
	return int(v), ok
}

func GetString(kv map[string]interface{}, key string) string {
	s, _ := kv[key].(string)
	return s
}

func GetBool(kv map[string]interface{}, key string, def bool) bool {
	if b, ok := kv[key].(bool); ok {
		return b
	}
	return def
}

// GetStrings returns a string array value, or an error if the key holds
// anything else.
func GetStrings(kv map[string]interface{}, key string) ([]string, error) {
	val, ok := kv[key]
	if !ok {
		return nil, fmt.Errorf("%s not found in GGUF", key)
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid type for %s: %T", key, val)
	}
	out := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a string", key, i)
		}
		out[i] = s
	}
	return out, nil
}

// GetInts returns an integer array value; a missing key yields nil, nil.
func GetInts(kv map[string]interface{}, key string) ([]int, error) {
	val, ok := kv[key]
	if !ok {
		return nil, nil
	}
	arr, ok := val.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid type for %s: %T", key, val)
	}
	out := make([]int, len(arr))
	for i, v := range arr {
		n, ok := toUint(v)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not an integer", key, i)
		}
		out[i] = int(n)
	}
	return out, nil
}
