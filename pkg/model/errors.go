package model

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures at the boundary where they occur, so callers
// branch on tags instead of matching message text.
var (
	// ErrTagConfig marks missing or invalid configuration. Fatal: surfaced
	// as 500, never degraded.
	ErrTagConfig = goerr.NewTag("config")

	// ErrTagValidation marks a missing or malformed request field. Surfaced
	// as 400.
	ErrTagValidation = goerr.NewTag("validation")

	// ErrTagUpstream marks a non-success response from an external
	// collaborator (inference, vector index, object storage).
	ErrTagUpstream = goerr.NewTag("upstream")

	// ErrTagTooLarge marks the size-class upstream rejection. Always
	// combined with ErrTagUpstream; decided by the inference gateway from
	// the typed API error, not by substring matching downstream.
	ErrTagTooLarge = goerr.NewTag("too_large")

	// ErrTagMemory marks embedding/store/query failures inside the memory
	// service. Non-fatal to ingestion pipelines.
	ErrTagMemory = goerr.NewTag("memory")

	// ErrTagStore marks vector index write/read failures.
	ErrTagStore = goerr.NewTag("store")
)
