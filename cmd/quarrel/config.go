package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-bindings/internal/config"
	"github.com/23skdu/quarrel-bindings/llama"
)

// loadConfig reads --config when given and lays every explicitly set flag
// over it.
func loadConfig(c *cli.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return cfg, err
		}
	}

	if c.IsSet("log-level") || cfg.Log.Level == "" {
		cfg.Log.Level = logLevel
	}
	if c.IsSet("log-format") || cfg.Log.Format == "" {
		cfg.Log.Format = logFormat
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if c.IsSet("model") {
		cfg.ModelPath = modelRef
	}
	if c.IsSet("backend") {
		cfg.Backend = backendName
	}
	if c.IsSet("vocab-only") {
		cfg.Model.VocabOnly = llama.Bool(vocabOnly)
	}
	if c.IsSet("no-mmap") {
		cfg.Model.UseMmap = llama.Bool(!noMmap)
	}
	if c.IsSet("mlock") {
		cfg.Model.UseMlock = llama.Bool(mlock)
	}
	if c.IsSet("ctx") {
		cfg.Context.ContextWindow = int(contextWindow)
	}
	if c.IsSet("threads") {
		cfg.Context.Threads = int(threads)
	}
	if c.IsSet("threads-batch") {
		cfg.Context.ThreadsBatch = int(threadsBatch)
	}
	if c.IsSet("seed") && seed >= 0 {
		cfg.Context.Seed = llama.Uint32(uint32(seed))
	}
	if c.IsSet("max-length") {
		cfg.Generate.MaxLength = int(maxLength)
	}
	if c.IsSet("batch-size") {
		cfg.Generate.BatchSize = int(batchSize)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
