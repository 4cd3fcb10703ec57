package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	chatuc "github.com/s-nakaya/kioku/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

func chatCommand() *cli.Command {
	var (
		cfg      config
		noMemory bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "no-memory",
			Usage:       "Disable memory retrieval and persistence for this session",
			Sources:     cli.EnvVars("KIOKU_NO_MEMORY"),
			Destination: &noMemory,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive memory-augmented chat",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			gemini, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}
			session := chatuc.New(gemini, memory)

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(c.Root().Writer, "Chat session started. Type 'exit' to quit.\n")

			var history []*genai.Content
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " thinking..."
				sp.Start()
				result, err := session.Ask(ctx, chatuc.Input{
					Message:   message,
					History:   history,
					UseMemory: !noMemory,
				})
				sp.Stop()
				if err != nil {
					fmt.Fprintf(c.Root().ErrWriter, "error: %v\n", err)
					continue
				}

				if !result.Context.Empty() {
					fmt.Fprintf(c.Root().Writer, "(using %d memories)\n", len(result.Context.Memories))
				}
				fmt.Fprintf(c.Root().Writer, "%s\n", result.Response)

				history = append(history,
					genai.NewContentFromText(message, genai.RoleUser),
					genai.NewContentFromText(result.Response, genai.RoleModel))
			}

			fmt.Fprintf(c.Root().Writer, "\nChat session completed\n")
			return nil
		},
	}
}
