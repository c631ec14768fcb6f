package worker

import (
	"encoding/json"

	"sonomap/internal/analysis"
)

// Envelope is the wire frame for every message in both directions. ID
// echoes the originating request on responses.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request and response type tags.
const (
	TypeInit             = "init"
	TypeAnalyze          = "analyze"
	TypeInitComplete     = "init-complete"
	TypeAnalysisComplete = "analysis-complete"
	TypeError            = "error"
)

// AnalyzePayload is the analyze request body.
type AnalyzePayload struct {
	AudioBuffer []float64 `json:"audio_buffer"`
	FileName    string    `json:"file_name"`
}

// AnalysisPayload is the successful analyze response body.
type AnalysisPayload struct {
	Analysis analysis.Result `json:"analysis"`
	FileName string          `json:"file_name"`
}

// ErrorPayload is the failure response body.
type ErrorPayload struct {
	Error string `json:"error"`
}
