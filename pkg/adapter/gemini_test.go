package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"google.golang.org/genai"
)

func setupGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateContent(t *testing.T) {
	client := setupGemini(t)
	ctx := context.Background()

	contents := []*genai.Content{
		genai.NewContentFromText("Hello, what is the capital of France?", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	gt.NoError(t, err)

	text := adapter.ResponseText(resp)
	gt.S(t, text).Contains("Paris")
}

func TestEmbeddingBatchOrder(t *testing.T) {
	client := setupGemini(t)
	ctx := context.Background()

	texts := []string{"a cat on a sofa", "quarterly revenue report", "a cat on a sofa"}
	vectors, err := client.EmbeddingBatch(ctx, texts)
	gt.NoError(t, err)
	gt.A(t, vectors).Length(3)
	gt.A(t, vectors[0]).Length(768)

	// Identical inputs must land at their input positions.
	gt.Equal(t, vectors[0], vectors[2])
	gt.NotEqual(t, vectors[0], vectors[1])
}

func TestResponseTextEmpty(t *testing.T) {
	gt.Equal(t, adapter.ResponseText(nil), "")
	gt.Equal(t, adapter.ResponseText(&genai.GenerateContentResponse{}), "")
}
