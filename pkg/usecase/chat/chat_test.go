package chat_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/repository"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/usecase/chat"
	"google.golang.org/genai"
)

const testDim = 8

type mockGemini struct {
	response    string
	generateErr error
	embedErr    error

	lastSystemPrompt string
	lastContents     []*genai.Content
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	m.lastContents = contents
	if config != nil && config.SystemInstruction != nil && len(config.SystemInstruction.Parts) > 0 {
		m.lastSystemPrompt = config.SystemInstruction.Parts[0].Text
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.response, genai.RoleModel)},
		},
	}, nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec, nil
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

func (m *mockGemini) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "", goerr.New("not used")
}

func (m *mockGemini) DescribeImage(ctx context.Context, image []byte, mimeType, question string) (string, error) {
	return "", goerr.New("not used")
}

func newSession(t *testing.T) (*chat.Session, *mockGemini, *memsvc.Service) {
	idx, err := repository.NewChromem(testDim)
	gt.NoError(t, err)
	gemini := &mockGemini{response: "the answer"}
	memory := memsvc.New(gemini, idx)
	return chat.New(gemini, memory), gemini, memory
}

func TestAskWithoutPriorMemory(t *testing.T) {
	session, gemini, _ := newSession(t)
	ctx := context.Background()

	// No prior memory about cats exists: context is empty and the plain
	// system prompt is used, but a response is still produced.
	result, err := session.Ask(ctx, chat.Input{
		Message:   "What did I ask about cats?",
		UseMemory: true,
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "the answer")
	gt.True(t, result.Context.Empty())
	gt.S(t, gemini.lastSystemPrompt).NotContains("Relevant memories")
	gt.True(t, result.MemorySaved)
}

func TestAskNeverRetrievesItself(t *testing.T) {
	session, _, memory := newSession(t)
	ctx := context.Background()

	// First turn: stored only after retrieval, so its own context is empty.
	first, err := session.Ask(ctx, chat.Input{Message: "my cat is called Momo", UseMemory: true})
	gt.NoError(t, err)
	gt.True(t, first.Context.Empty())

	// Both the user turn and the assistant turn are now retrievable.
	stats, err := memory.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stats.Total, int64(2))

	second, err := session.Ask(ctx, chat.Input{Message: "my cat is called Momo", UseMemory: true})
	gt.NoError(t, err)
	gt.A(t, second.Context.Memories).Longer(0)
	gt.Equal(t, second.Context.Memories[0].Text, "my cat is called Momo")
}

func TestAskContextInSystemPrompt(t *testing.T) {
	session, gemini, memory := newSession(t)
	ctx := context.Background()

	_, err := memory.Store(ctx, "the user's dog is called Hachi", model.ModalityText, nil)
	gt.NoError(t, err)

	_, err = session.Ask(ctx, chat.Input{Message: "the user's dog is called Hachi", UseMemory: true})
	gt.NoError(t, err)
	gt.S(t, gemini.lastSystemPrompt).Contains("Relevant memories")
	gt.S(t, gemini.lastSystemPrompt).Contains("the user's dog is called Hachi")
}

func TestAskMemoryDisabled(t *testing.T) {
	session, gemini, memory := newSession(t)
	ctx := context.Background()

	result, err := session.Ask(ctx, chat.Input{Message: "hello", UseMemory: false})
	gt.NoError(t, err)
	gt.False(t, result.MemorySaved)
	gt.S(t, gemini.lastSystemPrompt).NotContains("Relevant memories")

	stats, err := memory.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stats.Total, int64(0))
}

func TestAskWithHistory(t *testing.T) {
	session, gemini, _ := newSession(t)
	ctx := context.Background()

	history := []*genai.Content{
		genai.NewContentFromText("earlier question", genai.RoleUser),
		genai.NewContentFromText("earlier answer", genai.RoleModel),
	}

	_, err := session.Ask(ctx, chat.Input{Message: "follow-up", History: history, UseMemory: false})
	gt.NoError(t, err)
	gt.A(t, gemini.lastContents).Length(3)
	gt.Equal(t, gemini.lastContents[2].Parts[0].Text, "follow-up")
}

func TestAskMissingMessage(t *testing.T) {
	session, _, _ := newSession(t)

	_, err := session.Ask(context.Background(), chat.Input{UseMemory: true})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
}

func TestAskCompletionFailure(t *testing.T) {
	session, gemini, _ := newSession(t)
	gemini.generateErr = goerr.New("upstream down", goerr.T(model.ErrTagUpstream))

	_, err := session.Ask(context.Background(), chat.Input{Message: "hello", UseMemory: false})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagUpstream))
}

func TestAskEmbeddingFailureDegrades(t *testing.T) {
	session, gemini, _ := newSession(t)
	gemini.embedErr = goerr.New("embedding down")

	// Retrieval and store both fail, but the turn still answers.
	result, err := session.Ask(context.Background(), chat.Input{Message: "hello", UseMemory: true})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "the answer")
	gt.True(t, result.Context.Empty())
	gt.False(t, result.MemorySaved)
}
