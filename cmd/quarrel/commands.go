package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-bindings/internal/cpu"
	"github.com/23skdu/quarrel-bindings/internal/logger"
	"github.com/23skdu/quarrel-bindings/llama"
)

func vocabOnlyFlag(def bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "vocab-only",
		Usage:       "load only the vocabulary",
		Value:       def,
		Destination: &vocabOnly,
	}
}

func flagsOf(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show model metadata and backend capabilities",
		Flags: flagsOf(modelFlags(), contextFlags(), []cli.Flag{vocabOnlyFlag(true)}),
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			m := s.model
			fmt.Printf("model:         %s\n", m.Path())
			fmt.Printf("description:   %s\n", m.Description())
			fmt.Printf("vocab:         %d\n", m.VocabSize())
			fmt.Printf("bos / eos:     %d / %d\n", m.BOS(), m.EOS())
			fmt.Printf("train context: %d\n", m.TrainContext())
			fmt.Printf("window:        %d\n", s.ctx.Window())
			fmt.Printf("threads:       %d / %d\n", s.ctx.Threads(), s.ctx.ThreadsBatch())
			fmt.Printf("system:        %s\n", llama.SystemInfo())
			return nil
		},
	}
}

func tokenizeCmd() *cli.Command {
	var addBOS, join bool
	return &cli.Command{
		Name:      "tokenize",
		Usage:     "Print the token ids of each argument",
		ArgsUsage: "TEXT...",
		Flags: flagsOf(modelFlags(), []cli.Flag{
			vocabOnlyFlag(true),
			&cli.BoolFlag{Name: "bos", Usage: "prepend the BOS token", Destination: &addBOS},
			&cli.BoolFlag{Name: "join", Usage: "tokenize all arguments as one concatenated sequence", Destination: &join},
			&cli.Int64Flag{
				Name:        "batch-size",
				Usage:       "texts per EncodeBatch call with --join",
				Value:       512,
				Destination: &batchSize,
			},
		}),
		Action: func(ctx context.Context, c *cli.Command) error {
			texts := c.Args().Slice()
			if len(texts) == 0 {
				return cli.Exit("error: no text given", 2)
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			if !join {
				for _, text := range texts {
					toks, err := llama.Encode(s.ctx, text, addBOS)
					if err != nil {
						return err
					}
					fmt.Println(formatTokens(toks))
				}
				return nil
			}

			var all []llama.Token
			for chunk := range slices.Chunk(texts, s.cfg.Generate.BatchSize) {
				toks, err := llama.EncodeBatch(s.ctx, chunk)
				if err != nil {
					return err
				}
				all = append(all, toks...)
			}
			fmt.Println(formatTokens(all))
			return nil
		},
	}
}

func detokenizeCmd() *cli.Command {
	return &cli.Command{
		Name:      "detokenize",
		Usage:     "Print the text of a token id sequence",
		ArgsUsage: "ID...",
		Flags:     flagsOf(modelFlags(), []cli.Flag{vocabOnlyFlag(true)}),
		Action: func(ctx context.Context, c *cli.Command) error {
			toks, err := parseTokens(c.Args().Slice())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 2)
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			text, err := llama.Decode(s.ctx, toks)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func generateCmd() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Greedily continue each prompt",
		ArgsUsage: "PROMPT...",
		Flags: flagsOf(modelFlags(), contextFlags(), []cli.Flag{
			&cli.Int64Flag{
				Name:        "max-length",
				Aliases:     []string{"n"},
				Usage:       "stop when the sequence, prompt included, reaches this many tokens",
				Value:       32,
				Destination: &maxLength,
			},
		}),
		Action: func(ctx context.Context, c *cli.Command) error {
			prompts := c.Args().Slice()
			if len(prompts) == 0 {
				return cli.Exit("error: no prompt given", 2)
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(prompts) == 1 {
				return streamOne(ctx, s, prompts[0])
			}
			return generateAll(ctx, s, prompts)
		},
	}
}

func streamOne(ctx context.Context, s *session, prompt string) error {
	start := time.Now()
	n := 0
	err := s.ctx.GenerateTokens(prompt, s.cfg.Generate.MaxLength, func(_ llama.Token, piece string) error {
		n++
		fmt.Print(piece)
		return ctx.Err()
	})
	fmt.Println()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	logger.Log.Info("generation complete",
		"tokens", n,
		"elapsed", elapsed,
		"tokens_per_sec", float64(n)/elapsed.Seconds(),
	)
	return nil
}

func generateAll(ctx context.Context, s *session, prompts []string) error {
	bar := progressbar.NewOptions(len(prompts),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Generating"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	outputs := make([]string, len(prompts))
	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.ctx.Generate(prompt, s.cfg.Generate.MaxLength)
		if err != nil {
			return fmt.Errorf("prompt %d: %w", i, err)
		}
		outputs[i] = out
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	for i, out := range outputs {
		fmt.Printf("[%d] %s%s\n", i, prompts[i], out)
	}
	return nil
}

func fixtureCmd() *cli.Command {
	opts := cpu.DefaultFixtureOptions()
	var dim, ctxLen int64
	return &cli.Command{
		Name:      "fixture",
		Usage:     "Write a small GGUF model the cpu backend can run",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "dim", Usage: "embedding width", Value: int64(opts.Dim), Destination: &dim},
			&cli.Int64Flag{Name: "context-length", Usage: "trained context length", Value: int64(opts.ContextLength), Destination: &ctxLen},
			&cli.BoolFlag{Name: "f16", Usage: "store weights as F16", Destination: &opts.F16},
			&cli.BoolFlag{Name: "tied", Usage: "omit output.weight and reuse the embeddings", Destination: &opts.TiedOutput},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return cli.Exit("error: expected exactly one PATH", 2)
			}
			opts.Dim, opts.ContextLength = int(dim), int(ctxLen)
			path := c.Args().First()
			if err := cpu.WriteFixture(path, opts); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func formatTokens(toks []llama.Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = strconv.Itoa(int(t))
	}
	return strings.Join(parts, " ")
}

func parseTokens(args []string) ([]llama.Token, error) {
	var out []llama.Token
	for _, arg := range args {
		for _, f := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			v, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid token id %q", f)
			}
			out = append(out, llama.Token(v))
		}
	}
	return out, nil
}
