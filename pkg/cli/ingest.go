package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Analyze a media file and optionally remember the result",
		Commands: []*cli.Command{
			ingestImageCommand(),
			ingestAudioCommand(),
			ingestVideoCommand(),
		},
	}
}

func readAsset(path string) (*model.MediaAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read media file", goerr.V("path", path))
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &model.MediaAsset{
		Data:     data,
		MIMEType: mimeType,
		Name:     filepath.Base(path),
	}, nil
}

func ingestImageCommand() *cli.Command {
	var (
		cfg      config
		question string
		save     bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question to ask about the image",
			Required:    true,
			Destination: &question,
		},
		&cli.BoolFlag{
			Name:        "save",
			Aliases:     []string{"s"},
			Usage:       "Save the analysis to memory",
			Destination: &save,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "image",
		Usage:     "Analyze an image file",
		ArgsUsage: "<path>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one image path is required", goerr.T(model.ErrTagValidation))
			}
			cfg.setupLogging()

			d, err := cfg.newDeps(ctx)
			if err != nil {
				return err
			}
			asset, err := readAsset(c.Args().First())
			if err != nil {
				return err
			}

			result, err := d.image.Ingest(ctx, ingest.ImageInput{
				Asset:        asset,
				Question:     question,
				SaveToMemory: save,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", result.Response)
			printSideEffects(c, result.SideEffects)
			return nil
		},
	}
}

func ingestAudioCommand() *cli.Command {
	var (
		cfg      config
		question string
		save     bool
		limitMB  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question to ask about the audio content",
			Destination: &question,
		},
		&cli.BoolFlag{
			Name:        "save",
			Aliases:     []string{"s"},
			Usage:       "Save the transcript to memory",
			Destination: &save,
		},
		&cli.IntFlag{
			Name:        "limit-mb",
			Usage:       "Skip transcription for files larger than this many MB",
			Value:       5,
			Sources:     cli.EnvVars("KIOKU_AUDIO_LIMIT_MB"),
			Destination: &limitMB,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "audio",
		Usage:     "Transcribe an audio file and optionally answer a question about it",
		ArgsUsage: "<path>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one audio path is required", goerr.T(model.ErrTagValidation))
			}
			cfg.setupLogging()

			gemini, memory, err := cfg.newMemoryService(ctx)
			if err != nil {
				return err
			}
			store, err := cfg.newObjectStore(ctx)
			if err != nil {
				return err
			}
			pipeline := ingest.NewAudio(gemini, store, memory,
				ingest.WithAudioLimitBytes(limitMB<<20))

			asset, err := readAsset(c.Args().First())
			if err != nil {
				return err
			}

			result, err := pipeline.Ingest(ctx, ingest.AudioInput{
				Asset:        asset,
				Question:     question,
				SaveToMemory: save,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Transcript (%.1fMB file):\n%s\n", result.FileSizeMB, result.Transcript)
			if result.Answer != "" {
				fmt.Fprintf(c.Root().Writer, "\nAnswer:\n%s\n", result.Answer)
			}
			printSideEffects(c, result.SideEffects)
			return nil
		},
	}
}

func ingestVideoCommand() *cli.Command {
	var (
		cfg        config
		question   string
		transcript string
		save       bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question to ask about the video",
			Required:    true,
			Destination: &question,
		},
		&cli.StringFlag{
			Name:        "transcript",
			Aliases:     []string{"t"},
			Usage:       "Audio transcript of the video, if available",
			Destination: &transcript,
		},
		&cli.BoolFlag{
			Name:        "save",
			Aliases:     []string{"s"},
			Usage:       "Save the analysis to memory",
			Destination: &save,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "video",
		Usage:     "Analyze extracted video frames",
		ArgsUsage: "<frame.jpg> [frame.jpg ...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("at least one frame path is required", goerr.T(model.ErrTagValidation))
			}
			cfg.setupLogging()

			d, err := cfg.newDeps(ctx)
			if err != nil {
				return err
			}

			frames := make([][]byte, 0, c.Args().Len())
			for _, path := range c.Args().Slice() {
				data, err := os.ReadFile(path)
				if err != nil {
					return goerr.Wrap(err, "failed to read frame", goerr.V("path", path))
				}
				frames = append(frames, data)
			}

			result, err := d.video.Ingest(ctx, ingest.VideoInput{
				Frames:          frames,
				AudioTranscript: transcript,
				Question:        question,
				SaveToMemory:    save,
			})
			if err != nil {
				return err
			}

			for _, frame := range result.Frames {
				fmt.Fprintf(c.Root().Writer, "%s: %s\n", frame.Label, frame.Description)
			}
			fmt.Fprintf(c.Root().Writer, "\n%s\n", result.Answer)
			printSideEffects(c, result.SideEffects)
			return nil
		},
	}
}

func printSideEffects(c *cli.Command, effects model.SideEffects) {
	if effects.Uploaded {
		fmt.Fprintf(c.Root().Writer, "\nUploaded: %s\n", effects.AssetURL)
	}
	if effects.MemorySaved {
		fmt.Fprintf(c.Root().Writer, "Saved to memory\n")
	}
}
