package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
	"google.golang.org/genai"
)

// DefaultAudioLimitBytes is the size threshold above which transcription is
// skipped entirely: the upstream would reject the payload anyway, so the
// pipeline synthesizes a placeholder instead of a guaranteed failure.
// An asset exactly at the threshold is still transcribed.
const DefaultAudioLimitBytes = 5 * 1024 * 1024

// Placeholder transcripts share a prefix so downstream stages can detect
// "no usable transcript" without matching full sentences. The three
// variants stay textually distinguishable.
const (
	transcriptPlaceholderPrefix = "[Transcription "

	transcriptSkippedFmt     = "[Transcription skipped: the %.1fMB file exceeds the %.0fMB limit]"
	transcriptTooLargeText   = "[Transcription failed: the audio was rejected by the model as too large]"
	transcriptFailedText     = "[Transcription failed: the audio could not be processed]"
	answerSkippedExplanation = "The audio file was too large to transcribe, so the question cannot be answered from its content."
	answerFailedExplanation  = "The audio could not be transcribed, so the question cannot be answered from its content."
)

// IsPlaceholderTranscript reports whether the transcript is synthesized
// fallback text rather than real transcription output.
func IsPlaceholderTranscript(transcript string) bool {
	return strings.HasPrefix(transcript, transcriptPlaceholderPrefix)
}

// Audio transcribes an audio asset and optionally answers a question about
// the transcript.
type Audio struct {
	gemini     adapter.Gemini
	store      adapter.ObjectStore
	memory     *memsvc.Service
	limitBytes int64
}

type AudioOption func(*Audio)

func WithAudioLimitBytes(limit int64) AudioOption {
	return func(a *Audio) {
		if limit > 0 {
			a.limitBytes = limit
		}
	}
}

func NewAudio(gemini adapter.Gemini, store adapter.ObjectStore, memory *memsvc.Service, opts ...AudioOption) *Audio {
	a := &Audio{
		gemini:     gemini,
		store:      store,
		memory:     memory,
		limitBytes: DefaultAudioLimitBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type AudioInput struct {
	Asset        *model.MediaAsset
	Question     string
	SaveToMemory bool
}

func (p *Audio) Ingest(ctx context.Context, input AudioInput) (*model.AudioResult, error) {
	if err := input.Asset.Validate(); err != nil {
		return nil, goerr.Wrap(err, "audio is required")
	}

	result := &model.AudioResult{
		FileSizeMB: math.Round(input.Asset.SizeMB()*100) / 100,
	}

	// Upload is independent of the size gate: an oversized file still gets
	// its durable URL.
	result.SideEffects.AssetURL, result.SideEffects.Uploaded = uploadAsset(ctx, p.store, "audio", input.Asset)

	result.Transcript, result.TranscriptionSkipped = p.transcribe(ctx, input.Asset)
	usable := !IsPlaceholderTranscript(result.Transcript)

	if input.Question != "" {
		result.Answer = p.answer(ctx, input.Question, result.Transcript, result.TranscriptionSkipped, usable)
	}

	if input.SaveToMemory && usable {
		text := compositeText(model.ModalityAudio, input.Question, memoryAnswer(result))
		meta := assetMetadata(input.Asset, result.SideEffects.AssetURL)
		if input.Question != "" {
			meta["question"] = input.Question
			meta["answer"] = result.Answer
		}
		result.SideEffects.MemorySaved = saveMemory(ctx, p.memory, text, model.ModalityAudio, meta)
	}

	return result, nil
}

// transcribe runs the size gate and the transcription call, substituting a
// distinguishable placeholder for every failure class.
func (p *Audio) transcribe(ctx context.Context, asset *model.MediaAsset) (transcript string, skipped bool) {
	logger := logging.From(ctx)

	if asset.SizeBytes() > p.limitBytes {
		logger.Info("skipping transcription, file over limit",
			"size_bytes", asset.SizeBytes(), "limit_bytes", p.limitBytes)
		return fmt.Sprintf(transcriptSkippedFmt, asset.SizeMB(), float64(p.limitBytes)/(1024*1024)), true
	}

	transcript, err := p.gemini.Transcribe(ctx, asset.Data, asset.MIMEType)
	if err != nil {
		if goerr.HasTag(err, model.ErrTagTooLarge) {
			logger.Warn("upstream rejected audio as too large", "error", err)
			return transcriptTooLargeText, false
		}
		logger.Warn("transcription failed", "error", err)
		return transcriptFailedText, false
	}
	return transcript, false
}

func (p *Audio) answer(ctx context.Context, question, transcript string, skipped, usable bool) string {
	if !usable {
		if skipped || transcript == transcriptTooLargeText {
			return answerSkippedExplanation
		}
		return answerFailedExplanation
	}

	prompt := fmt.Sprintf("Answer the question using only the audio transcript below.\n\nTranscript:\n%s\n\nQuestion: %s", transcript, question)
	resp, err := p.gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, nil)
	if err != nil {
		logging.From(ctx).Warn("failed to answer question about transcript", "error", err)
		return "The transcript is available above, but the question could not be answered because the language model request failed."
	}
	return adapter.ResponseText(resp)
}

// memoryAnswer picks the text persisted as the interaction's outcome: the
// answer when a question was asked, otherwise the transcript itself.
func memoryAnswer(result *model.AudioResult) string {
	if result.Answer != "" {
		return result.Answer
	}
	return result.Transcript
}
