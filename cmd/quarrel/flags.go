package main

import "github.com/urfave/cli/v3"

var (
	configPath  string
	modelRef    string
	backendName string
	logLevel    string
	logFormat   string
	metricsAddr string

	contextWindow int64
	threads       int64
	threadsBatch  int64
	seed          int64
	maxLength     int64
	batchSize     int64
	vocabOnly     bool
	noMmap        bool
	mlock         bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "YAML config file; explicit flags override it",
			Sources:     cli.EnvVars("QUARREL_CONFIG"),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (trace, debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (console, json)",
			Value:       "console",
			Destination: &logFormat,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "serve Prometheus metrics on this address, e.g. :9090",
			Destination: &metricsAddr,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "GGUF file or ollama model name",
			Destination: &modelRef,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "engine backend",
			Value:       "cpu",
			Destination: &backendName,
		},
		&cli.BoolFlag{
			Name:        "no-mmap",
			Usage:       "read weights into memory instead of mapping the file",
			Destination: &noMmap,
		},
		&cli.BoolFlag{
			Name:        "mlock",
			Usage:       "lock mapped weights in memory",
			Destination: &mlock,
		},
	}
}

func contextFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "ctx",
			Aliases:     []string{"c"},
			Usage:       "context window in tokens",
			Value:       4096,
			Destination: &contextWindow,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "threads for single-token decoding",
			Value:       6,
			Destination: &threads,
		},
		&cli.Int64Flag{
			Name:        "threads-batch",
			Usage:       "threads for prompt processing (default: --threads)",
			Destination: &threadsBatch,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "context seed (default: random)",
			Value:       -1,
			Destination: &seed,
		},
	}
}
