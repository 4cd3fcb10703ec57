package cli

import (
	"context"

	mcpsvc "github.com/s-nakaya/kioku/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Expose the memory store as an MCP server over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// Stdio carries the protocol, so logs must go to stderr as JSON.
			cfg.logFormat = "json"
			cfg.setupLogging()

			_, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}

			return mcpsvc.New(memory, version).Run(ctx)
		},
	}
}
