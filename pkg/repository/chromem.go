package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
	"github.com/s-nakaya/kioku/pkg/model"
)

// Chromem implements VectorIndex with chromem-go, a pure Go embedded vector
// database. It is the local backend: no credentials, process-lifetime
// persistence only. The wrapper tracks record modalities itself so that
// result limits, stats and bulk enumeration are exact.
type Chromem struct {
	col *chromem.Collection
	dim int

	mu         sync.RWMutex
	modalities map[model.MemoryID]model.Modality
}

// NewChromem creates an in-process vector index expecting embeddings of the
// given dimensionality.
func NewChromem(dim int) (*Chromem, error) {
	db := chromem.NewDB()

	// Embeddings are always supplied by the caller, so no embedding
	// function is configured; chromem never invokes the default.
	col, err := db.CreateCollection(defaultCollection, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chromem collection", goerr.T(model.ErrTagStore))
	}

	return &Chromem{
		col:        col,
		dim:        dim,
		modalities: make(map[model.MemoryID]model.Modality),
	}, nil
}

func (c *Chromem) Dimension() int {
	return c.dim
}

func (c *Chromem) Insert(ctx context.Context, records []*model.Memory) ([]model.MemoryID, error) {
	if err := validateRecords(c.dim, records); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]model.MemoryID, 0, len(records))
	for _, rec := range records {
		meta, err := encodeMetadata(rec)
		if err != nil {
			return nil, err
		}

		doc := chromem.Document{
			ID:        string(rec.ID),
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata:  meta,
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			// Roll back already-added documents so a failed call writes
			// nothing.
			if len(ids) > 0 {
				_ = c.deleteLocked(ctx, ids)
			}
			return nil, goerr.Wrap(err, "failed to add document",
				goerr.V("id", rec.ID), goerr.T(model.ErrTagStore))
		}
		c.modalities[rec.ID] = rec.Modality
		ids = append(ids, rec.ID)
	}

	return ids, nil
}

func (c *Chromem) Search(ctx context.Context, vector []float32, limit int, modality model.Modality) ([]*model.RetrievedMemory, error) {
	if err := validateQueryVector(c.dim, vector); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// chromem requires nResults <= matching document count.
	available := 0
	for _, m := range c.modalities {
		if modality == "" || m == modality {
			available++
		}
	}
	if limit > available {
		limit = available
	}
	if limit <= 0 {
		return nil, nil
	}

	var where map[string]string
	if modality != "" {
		where = map[string]string{"modality": string(modality)}
	}

	hits, err := c.col.QueryEmbedding(ctx, vector, limit, where, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query embeddings", goerr.T(model.ErrTagStore))
	}

	results := make([]*model.RetrievedMemory, 0, len(hits))
	for _, hit := range hits {
		rec, err := decodeResult(hit)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

func (c *Chromem) DeleteByIDs(ctx context.Context, ids []model.MemoryID) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, ids)
}

func (c *Chromem) deleteLocked(ctx context.Context, ids []model.MemoryID) error {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.modalities[id]; !ok {
			continue
		}
		raw = append(raw, string(id))
	}
	if len(raw) == 0 {
		return nil
	}

	if err := c.col.Delete(ctx, nil, nil, raw...); err != nil {
		return goerr.Wrap(err, "failed to delete documents", goerr.T(model.ErrTagStore))
	}
	for _, id := range ids {
		delete(c.modalities, id)
	}
	return nil
}

func (c *Chromem) ListIDs(ctx context.Context, limit int) ([]model.MemoryID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]model.MemoryID, 0, len(c.modalities))
	for id := range c.modalities {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Chromem) Stats(ctx context.Context) (*model.MemoryStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &model.MemoryStats{
		Total:      int64(len(c.modalities)),
		ByModality: make(map[model.Modality]int64),
	}
	for _, m := range c.modalities {
		stats.ByModality[m]++
	}
	return stats, nil
}

// encodeMetadata flattens a record into chromem's string-valued metadata:
// core fields as dedicated keys, the open extension map as one JSON value.
func encodeMetadata(rec *model.Memory) (map[string]string, error) {
	meta := map[string]string{
		"modality":   string(rec.Modality),
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal metadata",
				goerr.V("id", rec.ID), goerr.T(model.ErrTagStore))
		}
		meta["metadata"] = string(raw)
	}
	return meta, nil
}

func decodeResult(hit chromem.Result) (*model.RetrievedMemory, error) {
	rec := &model.RetrievedMemory{
		ID:       model.MemoryID(hit.ID),
		Text:     hit.Content,
		Modality: model.Modality(hit.Metadata["modality"]),
		Score:    clampScore(float64(hit.Similarity)),
	}

	if ts := hit.Metadata["created_at"]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse created_at",
				goerr.V("id", hit.ID), goerr.T(model.ErrTagStore))
		}
		rec.CreatedAt = t
	}

	if raw := hit.Metadata["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal metadata",
				goerr.V("id", hit.ID), goerr.T(model.ErrTagStore))
		}
	}

	return rec, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
