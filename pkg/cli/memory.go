package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Manage the memory store",
		Commands: []*cli.Command{
			memoryStoreCommand(),
			memorySearchCommand(),
			memoryClearCommand(),
			memoryStatsCommand(),
		},
	}
}

func memoryStoreCommand() *cli.Command {
	var (
		cfg      config
		modality string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Memory type: text, image, video, audio or general",
			Value:       "general",
			Destination: &modality,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:      "store",
		Usage:     "Store a text as a memory record",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one text argument is required", goerr.T(model.ErrTagValidation))
			}
			cfg.setupLogging()

			_, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}

			id, err := memory.Store(ctx, c.Args().First(), model.Modality(modality), nil)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Stored memory %s\n", id)
			return nil
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg      config
		modality string
		limit    int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Restrict results to one memory type",
			Destination: &modality,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to return",
			Value:       5,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search memories by semantic similarity",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one query argument is required", goerr.T(model.ErrTagValidation))
			}
			cfg.setupLogging()

			_, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}

			qc, err := memory.Retrieve(ctx, c.Args().First(), int(limit), model.Modality(modality))
			if err != nil {
				return err
			}

			if qc.Empty() {
				fmt.Fprintf(c.Root().Writer, "No relevant memories found\n")
				return nil
			}
			for i, mem := range qc.Memories {
				fmt.Fprintf(c.Root().Writer, "%d. [%s, %.0f%%, %s] %s\n",
					i+1, mem.Modality, mem.Score*100,
					mem.CreatedAt.Format("2006-01-02 15:04"), mem.Text)
			}
			return nil
		},
	}
}

func memoryClearCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all stored memories (best-effort)",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			_, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}

			deleted, err := memory.Clear(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Deleted %d memories\n", deleted)
			return nil
		},
	}
}

func memoryStatsCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show memory counts by type",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			_, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}

			stats, err := memory.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Total: %d\n", stats.Total)
			for _, modality := range model.Modalities {
				if count := stats.ByModality[modality]; count > 0 {
					fmt.Fprintf(c.Root().Writer, "  %s: %d\n", modality, count)
				}
			}
			return nil
		},
	}
}
