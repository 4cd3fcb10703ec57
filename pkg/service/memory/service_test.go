package memory_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/repository"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"google.golang.org/genai"
)

const testDim = 8

// mockGemini embeds deterministically: identical text always maps to the
// identical vector, so a stored text is its own nearest neighbor.
type mockGemini struct {
	embedErr error
}

func hashEmbedding(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec
}

func (m *mockGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return hashEmbedding(text), nil
}

func (m *mockGemini) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embedding(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return nil, goerr.New("not used")
}

func (m *mockGemini) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "", goerr.New("not used")
}

func (m *mockGemini) DescribeImage(ctx context.Context, image []byte, mimeType, question string) (string, error) {
	return "", goerr.New("not used")
}

func newService(t *testing.T) (*memsvc.Service, *mockGemini) {
	idx, err := repository.NewChromem(testDim)
	gt.NoError(t, err)
	gemini := &mockGemini{}
	return memsvc.New(gemini, idx), gemini
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	id, err := svc.Store(ctx, "cats are obligate carnivores", model.ModalityText,
		map[string]string{"question": "what do cats eat?"})
	gt.NoError(t, err)

	_, err = svc.Store(ctx, "the quarterly report shows revenue growth", model.ModalityText, nil)
	gt.NoError(t, err)

	qc, err := svc.Retrieve(ctx, "cats are obligate carnivores", 5, "")
	gt.NoError(t, err)
	gt.A(t, qc.Memories).Longer(0)
	gt.Equal(t, qc.Memories[0].ID, id)
	gt.True(t, qc.Memories[0].Score > 0.95)
	gt.Equal(t, qc.Memories[0].Metadata["question"], "what do cats eat?")
}

func TestRetrieveRespectsTopK(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta"}
	for _, text := range texts {
		_, err := svc.Store(ctx, text, model.ModalityText, nil)
		gt.NoError(t, err)
	}

	qc, err := svc.Retrieve(ctx, "alpha", 3, "")
	gt.NoError(t, err)
	gt.A(t, qc.Memories).Length(3)

	for i := 1; i < len(qc.Memories); i++ {
		gt.True(t, qc.Memories[i-1].Score >= qc.Memories[i].Score)
	}

	// topK <= 0 falls back to the configured default.
	qc, err = svc.Retrieve(ctx, "alpha", 0, "")
	gt.NoError(t, err)
	gt.A(t, qc.Memories).Length(memsvc.DefaultTopK)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	svc, _ := newService(t)

	qc, err := svc.Retrieve(context.Background(), "anything", 5, "")
	gt.NoError(t, err)
	gt.True(t, qc.Empty())
}

func TestStoreEmptyText(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Store(context.Background(), "   ", model.ModalityText, nil)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagMemory))
}

func TestStoreEmbeddingFailure(t *testing.T) {
	svc, gemini := newService(t)
	gemini.embedErr = goerr.New("embedding backend down", goerr.T(model.ErrTagUpstream))

	_, err := svc.Store(context.Background(), "some text", model.ModalityText, nil)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagMemory))
}

func TestStoreTimestampsMonotonic(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	texts := []string{"first", "second", "third", "fourth"}
	for _, text := range texts {
		_, err := svc.Store(ctx, text, model.ModalityText, nil)
		gt.NoError(t, err)
	}

	qc, err := svc.Retrieve(ctx, "first", len(texts), "")
	gt.NoError(t, err)
	gt.A(t, qc.Memories).Length(len(texts))

	seen := map[string]bool{}
	for _, mem := range qc.Memories {
		gt.False(t, seen[mem.CreatedAt.String()])
		seen[mem.CreatedAt.String()] = true
	}
}

func TestClear(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.Store(ctx, text, model.ModalityText, nil)
		gt.NoError(t, err)
	}

	deleted, err := svc.Clear(ctx)
	gt.NoError(t, err)
	gt.Equal(t, deleted, 3)

	stats, err := svc.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stats.Total, int64(0))
}

func TestStatsByModality(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, "a text memory", model.ModalityText, nil)
	gt.NoError(t, err)
	_, err = svc.Store(ctx, "an audio transcript", model.ModalityAudio, nil)
	gt.NoError(t, err)

	stats, err := svc.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stats.Total, int64(2))
	gt.Equal(t, stats.ByModality[model.ModalityText], int64(1))
	gt.Equal(t, stats.ByModality[model.ModalityAudio], int64(1))
}

func TestContextBlockFormat(t *testing.T) {
	qc := &model.QueryContext{
		Query: "cats",
		Memories: []*model.RetrievedMemory{
			{Text: "cats sleep a lot", Modality: model.ModalityText, Score: 0.87},
			{Text: "a tabby on a windowsill", Modality: model.ModalityImage, Score: 0.64},
		},
	}

	block := memsvc.ContextBlock(qc)
	gt.S(t, block).Contains("1. [text, 87% relevant] cats sleep a lot")
	gt.S(t, block).Contains("2. [image, 64% relevant] a tabby on a windowsill")
}

func TestContextBlockEmpty(t *testing.T) {
	gt.Equal(t, memsvc.ContextBlock(&model.QueryContext{Query: "q"}), "")
}
