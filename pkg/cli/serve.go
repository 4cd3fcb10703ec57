package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/server"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownGrace = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg         config
		addr        string
		configPath  string
		maxUploadMB int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("KIOKU_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file",
			Sources:     cli.EnvVars("KIOKU_CONFIG"),
			Destination: &configPath,
		},
		&cli.IntFlag{
			Name:        "max-upload-mb",
			Usage:       "Maximum accepted upload size in MB",
			Value:       64,
			Sources:     cli.EnvVars("KIOKU_MAX_UPLOAD_MB"),
			Destination: &maxUploadMB,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if configPath != "" {
				fc, err := loadFileConfig(configPath)
				if err != nil {
					return err
				}
				cfg.applyFileConfig(fc, c)
				if fc.Addr != "" && !c.IsSet("addr") {
					addr = fc.Addr
				}
			}
			cfg.setupLogging()

			d, err := cfg.newDeps(ctx)
			if err != nil {
				return err
			}

			logger := logging.Default()
			srv := &http.Server{
				Addr: addr,
				Handler: server.New(server.Config{
					Chat:           d.chat,
					Image:          d.image,
					Audio:          d.audio,
					Video:          d.video,
					Memory:         d.memory,
					Logger:         logger,
					MaxUploadBytes: maxUploadMB << 20,
				}),
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", addr, "index", cfg.indexBackend)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "server failed")
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "graceful shutdown failed")
			}
			return nil
		},
	}
}
