package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/23skdu/quarrel-bindings/internal/engine"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != "cpu" {
		t.Errorf("expected backend cpu, got %q", cfg.Backend)
	}
	if cfg.Context.ContextWindow != 4096 {
		t.Errorf("expected ContextWindow 4096, got %d", cfg.Context.ContextWindow)
	}
	if cfg.Context.Threads != 6 {
		t.Errorf("expected Threads 6, got %d", cfg.Context.Threads)
	}
	if cfg.Generate.MaxLength != 32 {
		t.Errorf("expected MaxLength 32, got %d", cfg.Generate.MaxLength)
	}
	if cfg.Generate.BatchSize != 512 {
		t.Errorf("expected BatchSize 512, got %d", cfg.Generate.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func intp(v int) *int          { return &v }
func boolp(v bool) *bool       { return &v }
func uint32p(v uint32) *uint32 { return &v }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty backend", func(c *Config) { c.Backend = "" }, "backend"},
		{"negative gpu layers", func(c *Config) { c.Model.GPULayers = intp(-1) }, "gpu_layers"},
		{"negative window", func(c *Config) { c.Context.ContextWindow = -1 }, "context_window"},
		{"huge window", func(c *Config) { c.Context.ContextWindow = engine.MaxContextWindow + 1 }, "context_window"},
		{"negative threads", func(c *Config) { c.Context.Threads = -2 }, "threads"},
		{"negative threads batch", func(c *Config) { c.Context.ThreadsBatch = -2 }, "threads_batch"},
		{"zero max length", func(c *Config) { c.Generate.MaxLength = 0 }, "max_length"},
		{"zero batch", func(c *Config) { c.Generate.BatchSize = 0 }, "batch_size"},
		{"max length over window", func(c *Config) {
			c.Context.ContextWindow = 16
			c.Generate.MaxLength = 17
		}, "exceeds"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestModelOptionsResolve(t *testing.T) {
	p := ModelOptions{}.Resolve()
	if p != engine.DefaultModelParams() {
		t.Errorf("empty options should resolve to defaults, got %+v", p)
	}

	p = ModelOptions{GPULayers: intp(3), VocabOnly: boolp(true), UseMmap: boolp(false), UseMlock: boolp(true)}.Resolve()
	want := engine.ModelParams{GPULayers: 3, VocabOnly: true, UseMmap: false, UseMlock: true}
	if p != want {
		t.Errorf("Resolve() = %+v, want %+v", p, want)
	}
}

func TestContextParamsResolve(t *testing.T) {
	tests := []struct {
		name string
		in   ContextParams
		want engine.ContextParams
	}{
		{
			name: "zero values",
			in:   ContextParams{},
			want: engine.ContextParams{Seed: engine.DefaultSeed, ContextWindow: 4096, Threads: 6, ThreadsBatch: 6},
		},
		{
			name: "threads batch follows threads",
			in:   ContextParams{Threads: 2, ContextWindow: 16},
			want: engine.ContextParams{Seed: engine.DefaultSeed, ContextWindow: 16, Threads: 2, ThreadsBatch: 2},
		},
		{
			name: "explicit",
			in:   ContextParams{Seed: uint32p(42), ContextWindow: 8, Threads: 1, ThreadsBatch: 3},
			want: engine.ContextParams{Seed: 42, ContextWindow: 8, Threads: 1, ThreadsBatch: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Resolve(); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	good := write("good.yaml", `
model: /models/tiny.gguf
model_options:
  use_mmap: false
context:
  context_window: 64
  seed: 7
generate:
  max_length: 16
log:
  level: debug
  format: json
`)
	cfg, err := LoadFile(good)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ModelPath != "/models/tiny.gguf" {
		t.Errorf("ModelPath = %q", cfg.ModelPath)
	}
	if cfg.Model.UseMmap == nil || *cfg.Model.UseMmap {
		t.Error("use_mmap should be false")
	}
	if cfg.Model.UseMlock != nil {
		t.Error("use_mlock should stay unset")
	}
	if cfg.Context.ContextWindow != 64 || cfg.Context.Seed == nil || *cfg.Context.Seed != 7 {
		t.Errorf("context = %+v", cfg.Context)
	}
	if cfg.Context.Threads != DefaultThreads {
		t.Errorf("unset threads should keep default, got %d", cfg.Context.Threads)
	}
	if cfg.Generate.MaxLength != 16 || cfg.Generate.BatchSize != DefaultBatchSize {
		t.Errorf("generate = %+v", cfg.Generate)
	}

	empty := write("empty.yaml", "")
	if cfg, err := LoadFile(empty); err != nil || cfg.Backend != "cpu" {
		t.Errorf("empty file: %+v, %v", cfg, err)
	}

	if _, err := LoadFile(write("unknown.yaml", "bogus: 1\n")); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := LoadFile(write("invalid.yaml", "context:\n  threads: -1\n")); err == nil {
		t.Error("expected validation error")
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
