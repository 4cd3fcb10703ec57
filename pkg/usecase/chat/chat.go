package chat

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
	"google.golang.org/genai"
)

const plainSystemPrompt = "You are a helpful assistant that can answer questions about text, images, video and audio."

const memorySystemPromptFormat = `You are a helpful assistant with access to a semantic memory of past interactions and analyzed media.

Relevant memories for the current question:
%s

Use these memories when they help answer the question. If they are not relevant, answer from your own knowledge and do not mention the memories.`

// Session runs memory-augmented chat turns. It is constructed once and is
// safe for concurrent use.
type Session struct {
	gemini adapter.Gemini
	memory *memsvc.Service
}

func New(gemini adapter.Gemini, memory *memsvc.Service) *Session {
	return &Session{
		gemini: gemini,
		memory: memory,
	}
}

// Input is one chat turn. History is the prior conversation in order; it is
// passed through to the model untouched and not persisted here.
type Input struct {
	Message   string
	History   []*genai.Content
	UseMemory bool
}

// Ask runs one turn in two stages. With memory enabled: retrieve context for
// the message, then store the message as a new memory, so the conversation
// itself becomes retrievable in future turns. Retrieval always happens
// before the turn is stored, so a turn never retrieves itself. Then the
// model is called with [system, ...history, user], and the response is
// stored as well.
//
// Memory failures degrade: retrieval falls back to an empty context, store
// failures only drop the MemorySaved flag. Only a completion failure is
// returned as an error.
func (s *Session) Ask(ctx context.Context, input Input) (*model.ChatResult, error) {
	if input.Message == "" {
		return nil, goerr.New("message is required", goerr.T(model.ErrTagValidation))
	}

	logger := logging.From(ctx)
	qc := &model.QueryContext{Query: input.Message}
	memorySaved := false

	if input.UseMemory {
		retrieved, err := s.memory.Retrieve(ctx, input.Message, 0, "")
		if err != nil {
			logger.Warn("memory retrieval failed, continuing without context", "error", err)
		} else {
			qc = retrieved
		}

		if _, err := s.memory.Store(ctx, input.Message, model.ModalityText, map[string]string{
			"role": "user",
		}); err != nil {
			logger.Warn("failed to store user turn", "error", err)
		} else {
			memorySaved = true
		}
	}

	systemPrompt := plainSystemPrompt
	if block := memsvc.ContextBlock(qc); block != "" {
		systemPrompt = fmt.Sprintf(memorySystemPromptFormat, block)
	}

	contents := make([]*genai.Content, 0, len(input.History)+1)
	contents = append(contents, input.History...)
	contents = append(contents, genai.NewContentFromText(input.Message, genai.RoleUser))

	resp, err := s.gemini.GenerateContent(ctx, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate chat response")
	}

	response := adapter.ResponseText(resp)
	if response == "" {
		return nil, goerr.New("model returned no response", goerr.T(model.ErrTagUpstream))
	}

	if input.UseMemory {
		if _, err := s.memory.Store(ctx, response, model.ModalityText, map[string]string{
			"role":     "assistant",
			"question": input.Message,
		}); err != nil {
			logger.Warn("failed to store assistant turn", "error", err)
			memorySaved = false
		}
	}

	return &model.ChatResult{
		Response:    response,
		Context:     qc,
		MemorySaved: memorySaved,
	}, nil
}
