package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	// maxVideoFrames caps the number of frames described per request.
	maxVideoFrames = 5

	// defaultVideoTimeout bounds the wall clock of the frame fan-out plus
	// the answering completion. The caller-side timeout is the only
	// cancellation mechanism.
	defaultVideoTimeout = 2 * time.Minute

	frameDescribePrompt = "Describe what is happening in this video frame. Be specific about visible objects, people and actions."

	// noDescriptionText substitutes for a frame whose description call
	// failed. A failed frame degrades alone, it never aborts the batch.
	noDescriptionText = "(no description available)"

	videoUnavailableAnswer = "The video frames were analyzed, but the question could not be answered because the language model request failed."
)

// Video answers a question about a video from sampled frames plus an
// optional audio transcript. Frame extraction happens client-side; the
// pipeline receives JPEG frame samples.
type Video struct {
	gemini  adapter.Gemini
	store   adapter.ObjectStore
	memory  *memsvc.Service
	timeout time.Duration
}

type VideoOption func(*Video)

func WithVideoTimeout(timeout time.Duration) VideoOption {
	return func(v *Video) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

func NewVideo(gemini adapter.Gemini, store adapter.ObjectStore, memory *memsvc.Service, opts ...VideoOption) *Video {
	v := &Video{
		gemini:  gemini,
		store:   store,
		memory:  memory,
		timeout: defaultVideoTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type VideoInput struct {
	// Asset is the raw video payload, uploaded best-effort when present.
	Asset           *model.MediaAsset
	Frames          [][]byte
	AudioTranscript string
	Question        string
	SaveToMemory    bool
}

func (p *Video) Ingest(ctx context.Context, input VideoInput) (*model.VideoResult, error) {
	if len(input.Frames) == 0 {
		return nil, goerr.New("video frames are required", goerr.T(model.ErrTagValidation))
	}
	if input.Question == "" {
		return nil, goerr.New("question is required", goerr.T(model.ErrTagValidation))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := &model.VideoResult{
		AudioTranscript: input.AudioTranscript,
	}
	if input.Asset != nil {
		result.SideEffects.AssetURL, result.SideEffects.Uploaded = uploadAsset(ctx, p.store, "videos", input.Asset)
	}

	frames := sampleFrames(input.Frames, maxVideoFrames)
	result.Frames = p.describeFrames(ctx, frames)

	answer, err := p.answer(ctx, input.Question, result.Frames, input.AudioTranscript)
	if err != nil {
		if !goerr.HasTag(err, model.ErrTagUpstream) {
			return nil, err
		}
		logging.From(ctx).Warn("video answer generation failed, returning placeholder", "error", err)
		result.Answer = videoUnavailableAnswer
		return result, nil
	}
	result.Answer = answer

	if input.SaveToMemory {
		meta := map[string]string{
			"question":    input.Question,
			"answer":      answer,
			"frame_count": fmt.Sprintf("%d", len(result.Frames)),
		}
		if input.Asset != nil {
			meta = assetMetadata(input.Asset, result.SideEffects.AssetURL)
			meta["question"] = input.Question
			meta["answer"] = answer
			meta["frame_count"] = fmt.Sprintf("%d", len(result.Frames))
		}
		result.SideEffects.MemorySaved = saveMemory(ctx, p.memory,
			compositeText(model.ModalityVideo, input.Question, answer), model.ModalityVideo, meta)
	}

	return result, nil
}

// describeFrames issues the description calls concurrently and joins on all
// of them. Each frame degrades independently: a failed call yields the
// no-description placeholder for that frame only.
func (p *Video) describeFrames(ctx context.Context, frames [][]byte) []model.FrameAnalysis {
	results := make([]model.FrameAnalysis, len(frames))

	var wg sync.WaitGroup
	for i, frame := range frames {
		wg.Add(1)
		go func(i int, frame []byte) {
			defer wg.Done()

			analysis := model.FrameAnalysis{
				Index: i,
				Label: fmt.Sprintf("Frame %d of %d", i+1, len(frames)),
			}

			desc, err := p.gemini.DescribeImage(ctx, frame, "image/jpeg", frameDescribePrompt)
			if err != nil {
				logging.From(ctx).Warn("frame description failed",
					"frame", i+1, "error", err)
				analysis.Description = noDescriptionText
			} else {
				analysis.Description = desc
			}
			results[i] = analysis
		}(i, frame)
	}
	wg.Wait()

	return results
}

func (p *Video) answer(ctx context.Context, question string, frames []model.FrameAnalysis, transcript string) (string, error) {
	var sb strings.Builder
	sb.WriteString("The following are descriptions of frames sampled from a video, in order:\n\n")
	for _, frame := range frames {
		fmt.Fprintf(&sb, "%s: %s\n", frame.Label, frame.Description)
	}

	sb.WriteString("\nAudio transcript:\n")
	if transcript != "" {
		sb.WriteString(transcript)
	} else {
		sb.WriteString("(none)")
	}
	fmt.Fprintf(&sb, "\n\nUsing the frame descriptions and the transcript, answer this question: %s", question)

	resp, err := p.gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(sb.String(), genai.RoleUser),
	}, nil)
	if err != nil {
		return "", err
	}
	return adapter.ResponseText(resp), nil
}

// sampleFrames picks up to max frames spread evenly across the input,
// always keeping the first and last frame.
func sampleFrames(frames [][]byte, max int) [][]byte {
	if len(frames) <= max {
		return frames
	}

	sampled := make([][]byte, max)
	for i := 0; i < max; i++ {
		idx := i * (len(frames) - 1) / (max - 1)
		sampled[i] = frames[idx]
	}
	return sampled
}
