package adapter

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"google.golang.org/api/option"
)

// ObjectStore is the object upload collaborator. Upload is used
// opportunistically by the ingestion pipelines: a failure is logged and the
// returned URL is simply absent, never a request failure.
type ObjectStore interface {
	// Upload stores the payload under key and returns a durable URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// gcsStore implements ObjectStore using Cloud Storage
type gcsStore struct {
	bucketName      string
	publicBaseURL   string
	credentialsFile string
	client          *storage.Client
}

type StorageOption func(*gcsStore)

// WithPublicBaseURL overrides the base URL used to build asset links, for
// buckets served through a CDN or proxy.
func WithPublicBaseURL(baseURL string) StorageOption {
	return func(s *gcsStore) {
		s.publicBaseURL = baseURL
	}
}

// WithCredentialsFile authenticates with a service account key file instead
// of application default credentials.
func WithCredentialsFile(path string) StorageOption {
	return func(s *gcsStore) {
		s.credentialsFile = path
	}
}

// NewStorage creates a new Cloud Storage backed ObjectStore
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (ObjectStore, error) {
	s := &gcsStore{
		bucketName: bucketName,
	}
	for _, opt := range opts {
		opt(s)
	}

	var clientOpts []option.ClientOption
	if s.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(s.credentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.T(model.ErrTagConfig))
	}
	s.client = client

	return s, nil
}

func (s *gcsStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to write object",
			goerr.V("key", key), goerr.T(model.ErrTagUpstream))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to finalize object",
			goerr.V("key", key), goerr.T(model.ErrTagUpstream))
	}

	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, key), nil
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key), nil
}
