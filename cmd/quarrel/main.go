package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-bindings/internal/config"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/internal/monitoring"
	"github.com/23skdu/quarrel-bindings/internal/ollama"
	"github.com/23skdu/quarrel-bindings/llama"
)

func main() {
	app := &cli.Command{
		Name:  "quarrel",
		Usage: "Load GGUF models, tokenize text and run greedy generation",
		Flags: globalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			infoCmd(),
			tokenizeCmd(),
			detokenizeCmd(),
			generateCmd(),
			fixtureCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is a loaded model and one context on it, built from the merged
// configuration.
type session struct {
	cfg     config.Config
	model   *llama.Model
	ctx     *llama.Context
	monitor *monitoring.HealthMonitor
}

func openSession(c *cli.Command) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.ModelPath == "" {
		return nil, cli.Exit("error: --model is required", 2)
	}

	path := cfg.ModelPath
	if r, err := ollama.NewResolver(); err == nil {
		resolved, err := r.ResolvePath(path)
		switch {
		case err == nil:
			if resolved != path {
				logger.Log.Info("resolved ollama model", "name", path, "path", resolved)
			}
			path = resolved
		case errors.Is(err, ollama.ErrNotFound):
			logger.Log.Debug("not an ollama model, using path as given", "path", path)
		default:
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
	}

	if err := llama.UseBackend(cfg.Backend); err != nil {
		return nil, err
	}
	m, err := llama.LoadModel(path, cfg.Model)
	if err != nil {
		return nil, err
	}
	lc, err := llama.CreateContext(m, cfg.Context)
	if err != nil {
		m.Close()
		return nil, err
	}
	s := &session{cfg: cfg, model: m, ctx: lc}
	if cfg.MetricsAddr != "" {
		s.monitor = monitoring.NewHealthMonitor(s.engineInfo)
		s.monitor.Start(cfg.MetricsAddr)
	}
	return s, nil
}

func (s *session) engineInfo() monitoring.EngineInfo {
	return monitoring.EngineInfo{
		Backend:     llama.BackendName(),
		Capability:  llama.SystemInfo(),
		ModelPath:   s.model.Path(),
		Description: s.model.Description(),
		Window:      s.ctx.Window(),
		Pos:         s.ctx.Pos(),
	}
}

func (s *session) Close() {
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.monitor.Stop(ctx)
		cancel()
	}
	s.ctx.Close()
	s.model.Close()
}
