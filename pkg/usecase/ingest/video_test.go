package ingest_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
)

func frames(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("frame-%d", i))
	}
	return out
}

func TestVideoIngest(t *testing.T) {
	gemini := &mockGemini{
		describeFn: func(image []byte, question string) (string, error) {
			return fmt.Sprintf("description of %s", image), nil
		},
		response: "A person is assembling furniture.",
	}
	store := &mockStore{}
	memory, err := newMemoryService(gemini)
	gt.NoError(t, err)
	pipeline := ingest.NewVideo(gemini, store, memory)

	result, err := pipeline.Ingest(context.Background(), ingest.VideoInput{
		Asset:           asset("build.mp4", "video/mp4", 4096),
		Frames:          frames(3),
		AudioTranscript: "now attach the legs",
		Question:        "What is happening?",
		SaveToMemory:    true,
	})
	gt.NoError(t, err)

	gt.Equal(t, result.Answer, "A person is assembling furniture.")
	gt.A(t, result.Frames).Length(3)
	gt.Equal(t, result.Frames[0].Description, "description of frame-0")
	gt.Equal(t, result.AudioTranscript, "now attach the legs")
	gt.True(t, result.SideEffects.Uploaded)
	gt.True(t, result.SideEffects.MemorySaved)
}

func TestVideoSamplesAtMostFiveFrames(t *testing.T) {
	var described [][]byte
	gemini := &mockGemini{
		describeFn: func(image []byte, question string) (string, error) {
			described = append(described, image)
			return "ok", nil
		},
		response: "answer",
	}
	pipeline := ingest.NewVideo(gemini, &mockStore{}, nil)

	result, err := pipeline.Ingest(context.Background(), ingest.VideoInput{
		Frames:   frames(12),
		Question: "What is happening?",
	})
	gt.NoError(t, err)
	gt.A(t, result.Frames).Length(5)
	gt.Equal(t, len(described), 5)

	// First and last frames are always part of the sample.
	all := frames(12)
	gt.True(t, containsFrame(described, all[0]))
	gt.True(t, containsFrame(described, all[11]))
}

func TestVideoSingleFrameFailureDegrades(t *testing.T) {
	gemini := &mockGemini{
		describeFn: func(image []byte, question string) (string, error) {
			if bytes.Equal(image, []byte("frame-2")) {
				return "", upstreamErr("frame rejected")
			}
			return "a clear description", nil
		},
		response: "answer from the remaining frames",
	}
	pipeline := ingest.NewVideo(gemini, &mockStore{}, nil)

	result, err := pipeline.Ingest(context.Background(), ingest.VideoInput{
		Frames:          frames(5),
		AudioTranscript: "some narration",
		Question:        "What is happening?",
	})
	gt.NoError(t, err)

	// All 5 entries are present; only the failed frame carries the
	// placeholder, and an answer is still produced.
	gt.A(t, result.Frames).Length(5)
	placeholders := 0
	for _, frame := range result.Frames {
		if frame.Description == "(no description available)" {
			placeholders++
		}
	}
	gt.Equal(t, placeholders, 1)
	gt.Equal(t, result.Frames[2].Description, "(no description available)")
	gt.Equal(t, result.Answer, "answer from the remaining frames")
}

func TestVideoAnswerFailureDegrades(t *testing.T) {
	gemini := &mockGemini{
		description: "a frame",
		generateErr: upstreamErr("model unavailable"),
	}
	pipeline := ingest.NewVideo(gemini, &mockStore{}, nil)

	result, err := pipeline.Ingest(context.Background(), ingest.VideoInput{
		Frames:   frames(2),
		Question: "What is happening?",
	})
	gt.NoError(t, err)
	gt.S(t, result.Answer).Contains("could not be answered")
	gt.A(t, result.Frames).Length(2)
}

func TestVideoMissingInputs(t *testing.T) {
	pipeline := ingest.NewVideo(&mockGemini{}, &mockStore{}, nil)
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, ingest.VideoInput{Question: "what?"})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

	_, err = pipeline.Ingest(ctx, ingest.VideoInput{Frames: frames(1)})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
}

func containsFrame(haystack [][]byte, needle []byte) bool {
	for _, frame := range haystack {
		if bytes.Equal(frame, needle) {
			return true
		}
	}
	return false
}
