package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Modality is the media kind of a memory or request
type Modality string

const (
	ModalityText    Modality = "text"
	ModalityImage   Modality = "image"
	ModalityVideo   Modality = "video"
	ModalityAudio   Modality = "audio"
	ModalityGeneral Modality = "general"
)

// Modalities lists all valid modalities, in stats ordering.
var Modalities = []Modality{ModalityText, ModalityImage, ModalityVideo, ModalityAudio, ModalityGeneral}

// Validate checks if the modality is valid
func (m Modality) Validate() error {
	switch m {
	case ModalityText, ModalityImage, ModalityVideo, ModalityAudio, ModalityGeneral:
		return nil
	default:
		return goerr.New("invalid modality", goerr.V("modality", m), goerr.T(ErrTagValidation))
	}
}

// Memory is a persisted (text, embedding, metadata) triple representing one
// retrievable fact or interaction. Records are immutable after creation:
// there is no update path, only bulk delete by ID.
type Memory struct {
	ID        MemoryID
	Text      string
	Modality  Modality
	Embedding []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

// Validate checks the invariants that must hold before a record enters the
// index. Embedding dimensionality against the index is checked by the index
// itself, which knows its expected dimension.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return goerr.New("memory ID is empty", goerr.T(ErrTagStore))
	}
	if m.Text == "" {
		return goerr.New("memory text is empty", goerr.T(ErrTagStore))
	}
	if err := m.Modality.Validate(); err != nil {
		return err
	}
	if len(m.Embedding) == 0 {
		return goerr.New("memory embedding is empty", goerr.V("id", m.ID), goerr.T(ErrTagStore))
	}
	return nil
}

// RetrievedMemory is a memory returned from similarity search. Score is a
// transient relevance value in [0, 1]; it exists only on retrieval results,
// never on stored records.
type RetrievedMemory struct {
	ID        MemoryID
	Text      string
	Modality  Modality
	Metadata  map[string]string
	CreatedAt time.Time
	Score     float64
}

// QueryContext is the ordered retrieval result for one chat turn. It is
// ephemeral: built per turn, capped at the configured top-K, discarded after
// the response is produced.
type QueryContext struct {
	Query    string
	Memories []*RetrievedMemory
}

// Empty reports whether retrieval produced no usable context.
func (c *QueryContext) Empty() bool {
	return c == nil || len(c.Memories) == 0
}

// MemoryStats is an aggregate over the vector index.
type MemoryStats struct {
	Total      int64
	ByModality map[Modality]int64
}
