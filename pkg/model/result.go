package model

// SideEffects reports the outcome of the best-effort stages of a pipeline
// (object upload, memory persistence). A false flag means the stage failed
// or was not requested; it never fails the request.
type SideEffects struct {
	Uploaded    bool
	AssetURL    string
	MemorySaved bool
}

// ChatResult is the outcome of one memory-augmented chat turn.
type ChatResult struct {
	Response    string
	Context     *QueryContext
	MemorySaved bool
}

// ImageResult is the outcome of the image ingestion pipeline.
type ImageResult struct {
	Response    string
	SideEffects SideEffects
}

// AudioResult is the outcome of the audio ingestion pipeline. Transcript is
// either real transcription output or a distinguishable placeholder when
// transcription was skipped or failed.
type AudioResult struct {
	Transcript           string
	Answer               string
	TranscriptionSkipped bool
	FileSizeMB           float64
	SideEffects          SideEffects
}

// FrameAnalysis is the description of one sampled video frame. A frame whose
// description call failed carries the no-description placeholder instead.
type FrameAnalysis struct {
	Index       int
	Label       string
	Description string
}

// VideoResult is the outcome of the video ingestion pipeline.
type VideoResult struct {
	Answer          string
	Frames          []FrameAnalysis
	AudioTranscript string
	SideEffects     SideEffects
}
