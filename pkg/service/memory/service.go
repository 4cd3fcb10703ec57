package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/repository"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
)

const (
	// DefaultTopK caps retrieval context per chat turn.
	DefaultTopK = 5

	clearPageSize = 500
	maxClearPages = 20
)

// Service is the RAG core: it converts text into stored memory records
// (embed + persist), retrieves top-K relevant memories for a query, and
// assembles the bounded context block used for prompting.
//
// A Service is constructed once and reused; it holds no per-request state
// beyond the timestamp watermark guarding monotonic assignment.
type Service struct {
	gemini adapter.Gemini
	index  repository.VectorIndex
	topK   int

	tsMu   sync.Mutex
	lastTS time.Time
}

type Option func(*Service)

func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

func New(gemini adapter.Gemini, index repository.VectorIndex, opts ...Option) *Service {
	s := &Service{
		gemini: gemini,
		index:  index,
		topK:   DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store embeds text synchronously, builds an immutable record and inserts
// it. The returned ID is generated here. Callers in ingestion pipelines
// treat a failure as non-fatal: the primary answer still goes out, only the
// memory-saved flag drops.
func (s *Service) Store(ctx context.Context, text string, modality model.Modality, metadata map[string]string) (model.MemoryID, error) {
	if strings.TrimSpace(text) == "" {
		return "", goerr.New("memory text is empty", goerr.T(model.ErrTagMemory))
	}
	if modality == "" {
		modality = model.ModalityGeneral
	}
	if err := modality.Validate(); err != nil {
		return "", err
	}

	embedding, err := s.gemini.Embedding(ctx, text)
	if err != nil {
		return "", goerr.Wrap(err, "failed to embed memory text", goerr.T(model.ErrTagMemory))
	}

	rec := &model.Memory{
		ID:        model.NewMemoryID(),
		Text:      text,
		Modality:  modality,
		Embedding: embedding,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: s.nextTimestamp(),
	}

	if _, err := s.index.Insert(ctx, []*model.Memory{rec}); err != nil {
		return "", goerr.Wrap(err, "failed to insert memory record",
			goerr.V("id", rec.ID), goerr.T(model.ErrTagMemory))
	}

	logging.From(ctx).Debug("stored memory",
		"id", rec.ID, "modality", rec.Modality, "text_len", len(rec.Text))
	return rec.ID, nil
}

// Retrieve embeds the query and returns the top-K most similar memories.
// topK <= 0 selects the configured default. "No results" is an empty
// context, never an error.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, modality model.Modality) (*model.QueryContext, error) {
	if strings.TrimSpace(query) == "" {
		return &model.QueryContext{Query: query}, nil
	}
	if topK <= 0 {
		topK = s.topK
	}

	embedding, err := s.gemini.Embedding(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.T(model.ErrTagMemory))
	}

	matches, err := s.index.Search(ctx, embedding, topK, modality)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.T(model.ErrTagMemory))
	}

	return &model.QueryContext{Query: query, Memories: matches}, nil
}

// Stats returns aggregate counts from the index.
func (s *Service) Stats(ctx context.Context) (*model.MemoryStats, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get memory stats", goerr.T(model.ErrTagMemory))
	}
	return stats, nil
}

// Clear deletes all memories by enumerating IDs and bulk-deleting them in
// pages. Best-effort: a concurrent writer can leave stragglers, and the
// pass count is bounded. Returns the number of deleted records.
func (s *Service) Clear(ctx context.Context) (int, error) {
	deleted := 0
	for page := 0; page < maxClearPages; page++ {
		ids, err := s.index.ListIDs(ctx, clearPageSize)
		if err != nil {
			return deleted, goerr.Wrap(err, "failed to enumerate memories", goerr.T(model.ErrTagMemory))
		}
		if len(ids) == 0 {
			break
		}

		if err := s.index.DeleteByIDs(ctx, ids); err != nil {
			return deleted, goerr.Wrap(err, "failed to delete memories", goerr.T(model.ErrTagMemory))
		}
		deleted += len(ids)

		if len(ids) < clearPageSize {
			break
		}
	}

	logging.From(ctx).Info("cleared memories", "deleted", deleted)
	return deleted, nil
}

// nextTimestamp assigns store timestamps that never go backwards, even when
// the wall clock does.
func (s *Service) nextTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
