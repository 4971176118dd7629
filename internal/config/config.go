package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/quarrel-bindings/internal/engine"
)

const (
	DefaultContextWindow = 4096
	DefaultThreads       = 6
	DefaultMaxLength     = 32
	DefaultBatchSize     = 512
	DefaultBackend       = "cpu"
)

// ModelOptions selects how weights are loaded. Nil fields take the engine
// defaults.
type ModelOptions struct {
	GPULayers *int  `yaml:"gpu_layers"`
	VocabOnly *bool `yaml:"vocab_only"`
	UseMmap   *bool `yaml:"use_mmap"`
	UseMlock  *bool `yaml:"use_mlock"`
}

func (o ModelOptions) Validate() error {
	if o.GPULayers != nil && *o.GPULayers < 0 {
		return fmt.Errorf("invalid gpu_layers: %d (must be non-negative)", *o.GPULayers)
	}
	return nil
}

func (o ModelOptions) Resolve() engine.ModelParams {
	p := engine.DefaultModelParams()
	if o.GPULayers != nil {
		p.GPULayers = *o.GPULayers
	}
	if o.VocabOnly != nil {
		p.VocabOnly = *o.VocabOnly
	}
	if o.UseMmap != nil {
		p.UseMmap = *o.UseMmap
	}
	if o.UseMlock != nil {
		p.UseMlock = *o.UseMlock
	}
	return p
}

// ContextParams sizes a context. Zero values take the defaults above;
// ThreadsBatch defaults to Threads and a nil Seed lets the engine pick one.
type ContextParams struct {
	Seed          *uint32 `yaml:"seed"`
	ContextWindow int     `yaml:"context_window"`
	Threads       int     `yaml:"threads"`
	ThreadsBatch  int     `yaml:"threads_batch"`
}

func (p ContextParams) Validate() error {
	if p.ContextWindow < 0 {
		return fmt.Errorf("invalid context_window: %d (must be non-negative)", p.ContextWindow)
	}
	if p.ContextWindow > engine.MaxContextWindow {
		return fmt.Errorf("invalid context_window: %d (must be <= %d)", p.ContextWindow, engine.MaxContextWindow)
	}
	if p.Threads < 0 {
		return fmt.Errorf("invalid threads: %d (must be non-negative)", p.Threads)
	}
	if p.ThreadsBatch < 0 {
		return fmt.Errorf("invalid threads_batch: %d (must be non-negative)", p.ThreadsBatch)
	}
	return nil
}

func (p ContextParams) Resolve() engine.ContextParams {
	out := engine.ContextParams{
		Seed:          engine.DefaultSeed,
		ContextWindow: p.ContextWindow,
		Threads:       p.Threads,
		ThreadsBatch:  p.ThreadsBatch,
	}
	if p.Seed != nil {
		out.Seed = *p.Seed
	}
	if out.ContextWindow == 0 {
		out.ContextWindow = DefaultContextWindow
	}
	if out.Threads == 0 {
		out.Threads = DefaultThreads
	}
	if out.ThreadsBatch == 0 {
		out.ThreadsBatch = out.Threads
	}
	return out
}

type GenerateOptions struct {
	MaxLength int `yaml:"max_length"`
	BatchSize int `yaml:"batch_size"`
}

func (g GenerateOptions) Validate() error {
	if g.MaxLength <= 0 {
		return fmt.Errorf("invalid max_length: %d (must be positive)", g.MaxLength)
	}
	if g.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", g.BatchSize)
	}
	return nil
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	ModelPath   string          `yaml:"model"`
	Backend     string          `yaml:"backend"`
	Model       ModelOptions    `yaml:"model_options"`
	Context     ContextParams   `yaml:"context"`
	Generate    GenerateOptions `yaml:"generate"`
	Log         LogConfig       `yaml:"log"`
	MetricsAddr string          `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Backend: DefaultBackend,
		Context: ContextParams{
			ContextWindow: DefaultContextWindow,
			Threads:       DefaultThreads,
		},
		Generate: GenerateOptions{
			MaxLength: DefaultMaxLength,
			BatchSize: DefaultBatchSize,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.New("invalid backend: must not be empty")
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Context.Validate(); err != nil {
		return err
	}
	if err := c.Generate.Validate(); err != nil {
		return err
	}
	if c.Generate.MaxLength > c.Context.Resolve().ContextWindow {
		return fmt.Errorf("max_length %d exceeds context_window %d", c.Generate.MaxLength, c.Context.Resolve().ContextWindow)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format %q (want console or json)", c.Log.Format)
	}
	return nil
}

// LoadFile reads a YAML config over Default(). Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
