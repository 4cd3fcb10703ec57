package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/repository"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/usecase/chat"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	// Google Cloud
	project  string
	location string
	database string
	bucket   string

	// Models
	generativeModel string
	embeddingModel  string
	embeddingDim    int64

	// Memory index: "firestore" or "local"
	indexBackend string
	topK         int64

	// Object store
	publicBaseURL string

	// Logging
	logLevel  string
	logFormat string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "location",
			Usage:       "Google Cloud location for Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_LOCATION"),
			Destination: &cfg.location,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "index",
			Usage:       "Memory index backend: firestore or local",
			Value:       "firestore",
			Sources:     cli.EnvVars("KIOKU_INDEX"),
			Destination: &cfg.indexBackend,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of memories retrieved per query",
			Value:       memsvc.DefaultTopK,
			Sources:     cli.EnvVars("KIOKU_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("KIOKU_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console or json)",
			Value:       "console",
			Sources:     cli.EnvVars("KIOKU_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// modelFlags returns flags for model selection with destination config
func modelFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Generative model name",
			Sources:     cli.EnvVars("KIOKU_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Sources:     cli.EnvVars("KIOKU_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dim",
			Usage:       "Embedding vector dimension",
			Sources:     cli.EnvVars("KIOKU_EMBEDDING_DIM"),
			Destination: &cfg.embeddingDim,
		},
	}
}

// storageFlags returns flags for the asset bucket with destination config
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Aliases:     []string{"b"},
			Usage:       "GCS bucket for uploaded media assets",
			Sources:     cli.EnvVars("KIOKU_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "public-base-url",
			Usage:       "Base URL for uploaded asset links",
			Sources:     cli.EnvVars("KIOKU_PUBLIC_BASE_URL"),
			Destination: &cfg.publicBaseURL,
		},
	}
}

// setupLogging installs the process-wide logger from the log flags.
func (cfg *config) setupLogging() {
	logging.SetDefault(logging.New(cfg.logLevel, cfg.logFormat, os.Stderr))
}

// newGemini creates the inference gateway
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required", goerr.T(model.ErrTagConfig))
	}
	if cfg.location == "" {
		return nil, goerr.New("location is required", goerr.T(model.ErrTagConfig))
	}

	var opts []adapter.GeminiOption
	if cfg.generativeModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.generativeModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}
	if cfg.embeddingDim > 0 {
		opts = append(opts, adapter.WithEmbeddingDimension(int(cfg.embeddingDim)))
	}

	gemini, err := adapter.NewGemini(ctx, cfg.project, cfg.location, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newIndex creates the vector index backend
func (cfg *config) newIndex(ctx context.Context) (repository.VectorIndex, error) {
	dim := int(cfg.embeddingDim)
	if dim <= 0 {
		dim = adapter.DefaultEmbeddingDimension
	}

	switch cfg.indexBackend {
	case "local":
		idx, err := repository.NewChromem(dim)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create local index")
		}
		return idx, nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for the firestore index", goerr.T(model.ErrTagConfig))
		}
		idx, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithDimension(dim))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore index")
		}
		return idx, nil

	default:
		return nil, goerr.New("unknown index backend",
			goerr.V("index", cfg.indexBackend), goerr.T(model.ErrTagConfig))
	}
}

// newObjectStore creates the asset upload collaborator. A missing bucket is
// not an error: upload is an optional side effect, so the pipelines accept a
// nil store.
func (cfg *config) newObjectStore(ctx context.Context) (adapter.ObjectStore, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	var opts []adapter.StorageOption
	if cfg.publicBaseURL != "" {
		opts = append(opts, adapter.WithPublicBaseURL(cfg.publicBaseURL))
	}

	store, err := adapter.NewStorage(ctx, cfg.bucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create object store")
	}
	return store, nil
}

// newMemoryService wires gateway + index into the RAG core
func (cfg *config) newMemoryService(ctx context.Context) (adapter.Gemini, *memsvc.Service, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}
	index, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	return gemini, memsvc.New(gemini, index, memsvc.WithTopK(int(cfg.topK))), nil
}

// deps bundles everything the serve command and the ingest commands share.
type deps struct {
	gemini adapter.Gemini
	store  adapter.ObjectStore
	memory *memsvc.Service
	chat   *chat.Session
	image  *ingest.Image
	audio  *ingest.Audio
	video  *ingest.Video
}

func (cfg *config) newDeps(ctx context.Context) (*deps, error) {
	gemini, memory, err := cfg.newMemoryService(ctx)
	if err != nil {
		return nil, err
	}
	store, err := cfg.newObjectStore(ctx)
	if err != nil {
		return nil, err
	}

	return &deps{
		gemini: gemini,
		store:  store,
		memory: memory,
		chat:   chat.New(gemini, memory),
		image:  ingest.NewImage(gemini, store, memory),
		audio:  ingest.NewAudio(gemini, store, memory),
		video:  ingest.NewVideo(gemini, store, memory),
	}, nil
}

// fileConfig is the optional YAML configuration for the serve command.
// Flags and environment variables win over file values.
type fileConfig struct {
	Addr            string `yaml:"addr"`
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	Database        string `yaml:"database"`
	Bucket          string `yaml:"bucket"`
	PublicBaseURL   string `yaml:"public_base_url"`
	Index           string `yaml:"index"`
	GenerativeModel string `yaml:"generative_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingDim    int    `yaml:"embedding_dim"`
	TopK            int    `yaml:"top_k"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file",
			goerr.V("path", path), goerr.T(model.ErrTagConfig))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file",
			goerr.V("path", path), goerr.T(model.ErrTagConfig))
	}
	return &fc, nil
}

// applyFileConfig fills config fields the command line left unset.
func (cfg *config) applyFileConfig(fc *fileConfig, c *cli.Command) {
	apply := func(flag string, dst *string, value string) {
		if value != "" && !c.IsSet(flag) {
			*dst = value
		}
	}
	apply("project", &cfg.project, fc.Project)
	apply("location", &cfg.location, fc.Location)
	apply("database", &cfg.database, fc.Database)
	apply("bucket", &cfg.bucket, fc.Bucket)
	apply("public-base-url", &cfg.publicBaseURL, fc.PublicBaseURL)
	apply("index", &cfg.indexBackend, fc.Index)
	apply("generative-model", &cfg.generativeModel, fc.GenerativeModel)
	apply("embedding-model", &cfg.embeddingModel, fc.EmbeddingModel)
	apply("log-level", &cfg.logLevel, fc.LogLevel)
	apply("log-format", &cfg.logFormat, fc.LogFormat)

	if fc.EmbeddingDim > 0 && !c.IsSet("embedding-dim") {
		cfg.embeddingDim = int64(fc.EmbeddingDim)
	}
	if fc.TopK > 0 && !c.IsSet("top-k") {
		cfg.topK = int64(fc.TopK)
	}
}
