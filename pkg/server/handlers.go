package server

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	chatuc "github.com/s-nakaya/kioku/pkg/usecase/chat"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
	"google.golang.org/genai"
)

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message   string     `json:"message"`
	History   []chatTurn `json:"history"`
	UseMemory bool       `json:"useMemory"`
}

type memoryEntry struct {
	Text      string  `json:"text"`
	Type      string  `json:"type"`
	Score     float64 `json:"score"`
	Timestamp string  `json:"timestamp"`
}

type chatContext struct {
	Query            string        `json:"query"`
	RelevantMemories []memoryEntry `json:"relevant_memories"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, goerr.Wrap(err, "invalid JSON body", goerr.T(model.ErrTagValidation)))
		return
	}
	if req.Message == "" {
		s.writeError(w, r, goerr.New("message is required", goerr.T(model.ErrTagValidation)))
		return
	}

	history := make([]*genai.Content, 0, len(req.History))
	for _, turn := range req.History {
		role := genai.Role(genai.RoleModel)
		if turn.Role == "user" {
			role = genai.RoleUser
		}
		history = append(history, genai.NewContentFromText(turn.Content, role))
	}

	result, err := s.chat.Ask(r.Context(), chatuc.Input{
		Message:   req.Message,
		History:   history,
		UseMemory: req.UseMemory,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := chatContext{Query: result.Context.Query, RelevantMemories: []memoryEntry{}}
	for _, mem := range result.Context.Memories {
		ctx.RelevantMemories = append(ctx.RelevantMemories, memoryEntry{
			Text:      mem.Text,
			Type:      string(mem.Modality),
			Score:     mem.Score,
			Timestamp: mem.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response":    result.Response,
		"context":     ctx,
		"memorySaved": result.MemorySaved,
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	asset, err := formAsset(form, "image")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.image.Ingest(r.Context(), ingest.ImageInput{
		Asset:        asset,
		Question:     formValue(form, "question"),
		SaveToMemory: formBool(form, "saveToMemory"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]any{
		"response":    result.Response,
		"memorySaved": result.SideEffects.MemorySaved,
	}
	if result.SideEffects.AssetURL != "" {
		body["imageUrl"] = result.SideEffects.AssetURL
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	asset, err := formAsset(form, "audio")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.audio.Ingest(r.Context(), ingest.AudioInput{
		Asset:        asset,
		Question:     formValue(form, "question"),
		SaveToMemory: formBool(form, "saveToMemory"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]any{
		"transcript":           result.Transcript,
		"memorySaved":          result.SideEffects.MemorySaved,
		"fileSizeMB":           result.FileSizeMB,
		"transcriptionSkipped": result.TranscriptionSkipped,
	}
	if result.Answer != "" {
		body["answer"] = result.Answer
	}
	if result.SideEffects.AssetURL != "" {
		body["audioUrl"] = result.SideEffects.AssetURL
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var frames [][]byte
	for _, header := range form.File["frames"] {
		data, err := readFormFile(header)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		frames = append(frames, data)
	}
	if len(frames) == 0 {
		s.writeError(w, r, goerr.New("frames are required", goerr.T(model.ErrTagValidation)))
		return
	}

	input := ingest.VideoInput{
		Frames:          frames,
		AudioTranscript: formValue(form, "audioTranscript"),
		Question:        formValue(form, "question"),
		SaveToMemory:    formBool(form, "saveToMemory"),
	}
	// Raw video payload is optional; only used for the best-effort upload.
	if asset, err := formAsset(form, "video"); err == nil {
		input.Asset = asset
	}

	result, err := s.video.Ingest(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	analyses := make([]map[string]any, 0, len(result.Frames))
	for _, frame := range result.Frames {
		analyses = append(analyses, map[string]any{
			"frame":       frame.Index + 1,
			"label":       frame.Label,
			"description": frame.Description,
		})
	}

	body := map[string]any{
		"answer":          result.Answer,
		"frameAnalyses":   analyses,
		"audioTranscript": result.AudioTranscript,
		"memorySaved":     result.SideEffects.MemorySaved,
	}
	if result.SideEffects.AssetURL != "" {
		body["videoUrl"] = result.SideEffects.AssetURL
	}
	writeJSON(w, http.StatusOK, body)
}

type memoryStoreRequest struct {
	Content  string            `json:"content"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	var req memoryStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, goerr.Wrap(err, "invalid JSON body", goerr.T(model.ErrTagValidation)))
		return
	}
	if req.Content == "" {
		s.writeError(w, r, goerr.New("content is required", goerr.T(model.ErrTagValidation)))
		return
	}
	if req.Type == "" {
		s.writeError(w, r, goerr.New("type is required", goerr.T(model.ErrTagValidation)))
		return
	}

	modality := model.Modality(req.Type)
	if err := modality.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.memory.Store(r.Context(), req.Content, modality, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "success": true})
}

// handleMemoryClear bulk-deletes via enumerate-then-delete. Best-effort:
// the response reports how many records were removed, not a guarantee that
// the index is empty.
func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.memory.Clear(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
		"message": "memory clear is best-effort; records written concurrently may survive",
	})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.memory.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	byType := make(map[string]int64, len(stats.ByModality))
	for modality, count := range stats.ByModality {
		byType[string(modality)] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalMemories": stats.Total,
		"byType":        byType,
	})
}

func (s *Server) parseMultipart(r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, goerr.Wrap(err, "invalid multipart body", goerr.T(model.ErrTagValidation))
	}
	return r.MultipartForm, nil
}

func formValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func formBool(form *multipart.Form, key string) bool {
	return formValue(form, key) == "true"
}

func formAsset(form *multipart.Form, field string) (*model.MediaAsset, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, goerr.New(field+" file is required", goerr.T(model.ErrTagValidation))
	}
	header := files[0]

	data, err := readFormFile(header)
	if err != nil {
		return nil, err
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	return &model.MediaAsset{
		Data:     data,
		MIMEType: mimeType,
		Name:     header.Filename,
	}, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open uploaded file", goerr.T(model.ErrTagValidation))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read uploaded file", goerr.T(model.ErrTagValidation))
	}
	return data, nil
}
