package ingest_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
)

func TestImageIngest(t *testing.T) {
	gemini := &mockGemini{description: "A tabby cat sitting on a windowsill."}
	store := &mockStore{}
	memory, err := newMemoryService(gemini)
	gt.NoError(t, err)
	pipeline := ingest.NewImage(gemini, store, memory)

	result, err := pipeline.Ingest(context.Background(), ingest.ImageInput{
		Asset:        asset("cat.jpg", "image/jpeg", 2048),
		Question:     "What animal is this?",
		SaveToMemory: true,
	})
	gt.NoError(t, err)

	gt.Equal(t, result.Response, "A tabby cat sitting on a windowsill.")
	gt.True(t, result.SideEffects.Uploaded)
	gt.S(t, result.SideEffects.AssetURL).Contains("images/")
	gt.True(t, result.SideEffects.MemorySaved)

	// The composite interaction is retrievable afterwards.
	qc, err := memory.Retrieve(context.Background(),
		"Image Analysis - Q: What animal is this? A: A tabby cat sitting on a windowsill.", 1, model.ModalityImage)
	gt.NoError(t, err)
	gt.A(t, qc.Memories).Length(1)
	gt.Equal(t, qc.Memories[0].Metadata["file_name"], "cat.jpg")
}

func TestImageMissingInputs(t *testing.T) {
	gemini := &mockGemini{}
	pipeline := ingest.NewImage(gemini, &mockStore{}, nil)
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, ingest.ImageInput{Question: "what is this?"})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

	_, err = pipeline.Ingest(ctx, ingest.ImageInput{Asset: asset("a.png", "image/png", 10)})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
}

func TestImageDescribeFailureDegrades(t *testing.T) {
	gemini := &mockGemini{describeErr: upstreamErr("vision model unavailable")}
	pipeline := ingest.NewImage(gemini, &mockStore{}, nil)

	result, err := pipeline.Ingest(context.Background(), ingest.ImageInput{
		Asset:        asset("b.png", "image/png", 10),
		Question:     "what is this?",
		SaveToMemory: true,
	})
	gt.NoError(t, err)
	gt.S(t, result.Response).Contains("could not be analyzed")
	gt.False(t, result.SideEffects.MemorySaved)
}

func TestImageUploadFailureContinues(t *testing.T) {
	gemini := &mockGemini{description: "a chart"}
	store := &mockStore{uploadErr: upstreamErr("bucket gone")}
	pipeline := ingest.NewImage(gemini, store, nil)

	result, err := pipeline.Ingest(context.Background(), ingest.ImageInput{
		Asset:    asset("chart.png", "image/png", 10),
		Question: "what is this?",
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "a chart")
	gt.False(t, result.SideEffects.Uploaded)
}

func TestImageMemoryFailureOnlyDropsFlag(t *testing.T) {
	gemini := &mockGemini{description: "a chart", embedErr: upstreamErr("embedding down")}
	memory, err := newMemoryService(gemini)
	gt.NoError(t, err)
	pipeline := ingest.NewImage(gemini, &mockStore{}, memory)

	result, err := pipeline.Ingest(context.Background(), ingest.ImageInput{
		Asset:        asset("chart.png", "image/png", 10),
		Question:     "what is this?",
		SaveToMemory: true,
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "a chart")
	gt.False(t, result.SideEffects.MemorySaved)
}
