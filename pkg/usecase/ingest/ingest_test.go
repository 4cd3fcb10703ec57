package ingest_test

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"github.com/s-nakaya/kioku/pkg/repository"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"google.golang.org/genai"
)

const testDim = 8

type mockGemini struct {
	transcript    string
	transcribeErr error

	describeFn  func(image []byte, question string) (string, error)
	description string
	describeErr error

	response    string
	generateErr error
	embedErr    error

	transcribeCalls int
	generateCalls   int
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.generateCalls++
	if m.generateErr != nil {
		return nil, m.generateErr
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
	m.transcribeCalls++
	if m.transcribeErr != nil {
		return "", m.transcribeErr
	}
	return m.transcript, nil
}

func (m *mockGemini) DescribeImage(ctx context.Context, image []byte, mimeType, question string) (string, error) {
	if m.describeFn != nil {
		return m.describeFn(image, question)
	}
	if m.describeErr != nil {
		return "", m.describeErr
	}
	return m.description, nil
}

type mockStore struct {
	uploadErr error
	uploads   []string
}

func (m *mockStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.uploads = append(m.uploads, key)
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	return fmt.Sprintf("https://assets.example.com/%s", key), nil
}

func newMemoryService(gemini *mockGemini) (*memsvc.Service, error) {
	idx, err := repository.NewChromem(testDim)
	if err != nil {
		return nil, err
	}
	return memsvc.New(gemini, idx), nil
}

func upstreamErr(msg string) error {
	return goerr.New(msg, goerr.T(model.ErrTagUpstream))
}

func tooLargeErr(msg string) error {
	return goerr.New(msg, goerr.T(model.ErrTagUpstream), goerr.T(model.ErrTagTooLarge))
}

func asset(name, mimeType string, size int) *model.MediaAsset {
	return &model.MediaAsset{
		Data:     make([]byte, size),
		MIMEType: mimeType,
		Name:     name,
	}
}
