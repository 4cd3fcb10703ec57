package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
)

// VectorIndex is the typed client to a vector index. Implementations are
// constructed once at process start and are safe for concurrent use.
//
// Every record in one index must carry an embedding of the same
// dimensionality; a mismatch fails loudly before any write.
type VectorIndex interface {
	// Dimension returns the embedding dimensionality this index expects.
	Dimension() int

	// Insert stores the records under their caller-supplied IDs. The call
	// is idempotent and all-or-nothing: either every record is stored or
	// none is.
	Insert(ctx context.Context, records []*model.Memory) ([]model.MemoryID, error)

	// Search returns at most limit matches ordered by descending
	// similarity score. An empty modality means no filter. An empty result
	// set is valid, not an error.
	Search(ctx context.Context, vector []float32, limit int, modality model.Modality) ([]*model.RetrievedMemory, error)

	// DeleteByIDs removes the given records. Missing IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []model.MemoryID) error

	// ListIDs returns up to limit record IDs, for enumerate-then-delete
	// bulk operations.
	ListIDs(ctx context.Context, limit int) ([]model.MemoryID, error)

	// Stats returns aggregate counts over the index.
	Stats(ctx context.Context) (*model.MemoryStats, error)
}

// validateRecords checks per-record invariants and uniform dimensionality
// before anything touches the backend.
func validateRecords(dim int, records []*model.Memory) error {
	if len(records) == 0 {
		return goerr.New("no records to insert", goerr.T(model.ErrTagStore))
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
		if len(rec.Embedding) != dim {
			return goerr.New("embedding dimension mismatch",
				goerr.V("id", rec.ID), goerr.V("want", dim), goerr.V("got", len(rec.Embedding)),
				goerr.T(model.ErrTagStore))
		}
	}
	return nil
}

func validateQueryVector(dim int, vector []float32) error {
	if len(vector) != dim {
		return goerr.New("query vector dimension mismatch",
			goerr.V("want", dim), goerr.V("got", len(vector)),
			goerr.T(model.ErrTagStore))
	}
	return nil
}
