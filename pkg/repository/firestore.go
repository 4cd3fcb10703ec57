package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "memories"

// Firestore implements VectorIndex using Firestore vector search
type Firestore struct {
	client     *firestore.Client
	collection string
	dim        int
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

func WithDimension(dim int) FirestoreOption {
	return func(f *Firestore) {
		f.dim = dim
	}
}

// NewFirestore creates a Firestore-backed vector index. The collection needs
// a vector index on the "embedding" field (gcloud firestore indexes
// composite create --field-config=vector-config='{"dimension":768,"flat":{}}').
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID),
			goerr.T(model.ErrTagConfig))
	}

	f := &Firestore{
		client:     client,
		collection: defaultCollection,
		dim:        768,
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Dimension() int {
	return f.dim
}

// memoryDoc is the Firestore document shape. Distance is populated only on
// vector search reads via DistanceResultField.
type memoryDoc struct {
	ID        string             `firestore:"id"`
	Text      string             `firestore:"text"`
	Modality  string             `firestore:"modality"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Metadata  map[string]string  `firestore:"metadata"`
	CreatedAt time.Time          `firestore:"created_at"`
	Distance  float64            `firestore:"distance,omitempty"`
}

func (f *Firestore) Insert(ctx context.Context, records []*model.Memory) ([]model.MemoryID, error) {
	if err := validateRecords(f.dim, records); err != nil {
		return nil, err
	}

	coll := f.client.Collection(f.collection)

	// Set (not Create) keeps re-applying the same call idempotent. The
	// transaction makes the batch all-or-nothing.
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, rec := range records {
			doc := &memoryDoc{
				ID:        string(rec.ID),
				Text:      rec.Text,
				Modality:  string(rec.Modality),
				Embedding: firestore.Vector32(rec.Embedding),
				Metadata:  rec.Metadata,
				CreatedAt: rec.CreatedAt,
			}
			if err := tx.Set(coll.Doc(string(rec.ID)), doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "failed to insert records")
	}

	ids := make([]model.MemoryID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids, nil
}

func (f *Firestore) Search(ctx context.Context, vector []float32, limit int, modality model.Modality) ([]*model.RetrievedMemory, error) {
	if err := validateQueryVector(f.dim, vector); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	q := f.client.Collection(f.collection).Query
	if modality != "" {
		q = q.Where("modality", "==", string(modality))
	}

	vq := q.FindNearest("embedding", firestore.Vector32(vector), limit,
		firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{
			DistanceResultField: "distance",
		})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []*model.RetrievedMemory
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapStoreErr(err, "failed to iterate vector search results")
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory document",
				goerr.V("doc", snap.Ref.ID), goerr.T(model.ErrTagStore))
		}

		results = append(results, &model.RetrievedMemory{
			ID:        model.MemoryID(doc.ID),
			Text:      doc.Text,
			Modality:  model.Modality(doc.Modality),
			Metadata:  doc.Metadata,
			CreatedAt: doc.CreatedAt,
			Score:     cosineDistanceToScore(doc.Distance),
		})
	}

	return results, nil
}

func (f *Firestore) DeleteByIDs(ctx context.Context, ids []model.MemoryID) error {
	if len(ids) == 0 {
		return nil
	}

	coll := f.client.Collection(f.collection)
	bw := f.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Delete(coll.Doc(string(id)))
		if err != nil {
			bw.End()
			return wrapStoreErr(err, "failed to enqueue delete")
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return wrapStoreErr(err, "failed to delete records")
		}
	}
	return nil
}

func (f *Firestore) ListIDs(ctx context.Context, limit int) ([]model.MemoryID, error) {
	// Keys-only projection: Select with no fields returns just references.
	iter := f.client.Collection(f.collection).Select().Limit(limit).Documents(ctx)
	defer iter.Stop()

	var ids []model.MemoryID
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapStoreErr(err, "failed to list record IDs")
		}
		ids = append(ids, model.MemoryID(snap.Ref.ID))
	}
	return ids, nil
}

// Stats counts with server-side aggregation queries: one for the total and
// one per modality. Counts are exact at read time.
func (f *Firestore) Stats(ctx context.Context) (*model.MemoryStats, error) {
	total, err := f.count(ctx, f.client.Collection(f.collection).Query)
	if err != nil {
		return nil, err
	}

	stats := &model.MemoryStats{
		Total:      total,
		ByModality: make(map[model.Modality]int64, len(model.Modalities)),
	}

	for _, m := range model.Modalities {
		n, err := f.count(ctx, f.client.Collection(f.collection).Where("modality", "==", string(m)))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			stats.ByModality[m] = n
		}
	}
	return stats, nil
}

func (f *Firestore) count(ctx context.Context, q firestore.Query) (int64, error) {
	res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, wrapStoreErr(err, "failed to run count aggregation")
	}

	v, ok := res["all"]
	if !ok {
		return 0, goerr.New("count aggregation returned no value", goerr.T(model.ErrTagStore))
	}
	pb, ok := v.(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation type", goerr.T(model.ErrTagStore))
	}
	return pb.GetIntegerValue(), nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// cosineDistanceToScore maps cosine distance [0, 2] to a relevance score
// clamped to [0, 1].
func cosineDistanceToScore(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func wrapStoreErr(err error, msg string) error {
	opts := []goerr.Option{goerr.T(model.ErrTagStore)}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		opts = append(opts, goerr.V("grpc_code", st.Code().String()))
		if st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded {
			opts = append(opts, goerr.T(model.ErrTagUpstream))
		}
	}
	return goerr.Wrap(err, msg, opts...)
}
