package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	"google.golang.org/genai"
)

// Gemini is the typed gateway to the generative model capabilities: chat
// completion (optionally with interleaved text/image/audio parts), embedding
// generation, audio transcription and image description. All methods block
// on a single network round-trip and never retry.
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Embedding(ctx context.Context, text string) ([]float32, error)
	// EmbeddingBatch returns one vector per input text, in input order.
	// Batching is an optimization only; callers may fall back to N
	// sequential Embedding calls.
	EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	DescribeImage(ctx context.Context, image []byte, mimeType, question string) (string, error)
}

// DefaultEmbeddingDimension matches the index dimension used when no
// explicit dimension is configured. The gateway and the vector index must
// agree on it.
const DefaultEmbeddingDimension = 768

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	embeddingDim    int32
	temperature     float32
	maxOutputTokens int32
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

func WithEmbeddingDimension(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingDim = int32(dim)
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.T(model.ErrTagConfig))
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		embeddingDim:    DefaultEmbeddingDimension,
		temperature:     0.7,
		maxOutputTokens: 2048,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	config = g.withSamplingDefaults(config)

	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, wrapUpstream(err, "failed to generate content")
	}
	return resp, nil
}

func (g *GeminiClient) Embedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GeminiClient) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(g.embeddingDim),
	})
	if err != nil {
		return nil, wrapUpstream(err, "failed to embed content")
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)),
			goerr.T(model.ErrTagUpstream))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

const transcribeInstruction = "Transcribe this audio recording verbatim. Output only the transcript text, without commentary."

func (g *GeminiClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribeInstruction),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", wrapUpstream(err, "failed to transcribe audio")
	}

	text := ResponseText(resp)
	if text == "" {
		return "", goerr.New("transcription returned no text", goerr.T(model.ErrTagUpstream))
	}
	return text, nil
}

func (g *GeminiClient) DescribeImage(ctx context.Context, image []byte, mimeType, question string) (string, error) {
	if question == "" {
		question = "Describe this image in detail."
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(question),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to describe image")
	}

	text := ResponseText(resp)
	if text == "" {
		return "", goerr.New("image description returned no text", goerr.T(model.ErrTagUpstream))
	}
	return text, nil
}

func (g *GeminiClient) withSamplingDefaults(config *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	if config == nil {
		config = &genai.GenerateContentConfig{}
	}
	if config.Temperature == nil {
		config.Temperature = genai.Ptr(g.temperature)
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = g.maxOutputTokens
	}
	return config
}

// ResponseText extracts the concatenated text of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// wrapUpstream classifies an upstream API failure at the gateway boundary.
// The size-class rejection gets a dedicated tag so pipelines never have to
// match error prose.
func wrapUpstream(err error, msg string) error {
	opts := []goerr.Option{goerr.T(model.ErrTagUpstream)}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		opts = append(opts, goerr.V("upstream_code", apiErr.Code), goerr.V("upstream_status", apiErr.Status))
		if isPayloadTooLarge(apiErr) {
			opts = append(opts, goerr.T(model.ErrTagTooLarge))
		}
	}

	return goerr.Wrap(err, msg, opts...)
}

// isPayloadTooLarge matches the Gemini API rejection classes for oversized
// input: HTTP 413, the exact token-limit message, and the request-size limit
// message. Example: "The input token count (2500030) exceeds the maximum
// number of tokens allowed (1048576)."
func isPayloadTooLarge(apiErr genai.APIError) bool {
	if apiErr.Code == 413 {
		return true
	}
	if apiErr.Code != 400 || apiErr.Status != "INVALID_ARGUMENT" {
		return false
	}
	if strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (") {
		return true
	}
	return strings.Contains(apiErr.Message, "Request payload size exceeds the limit")
}
