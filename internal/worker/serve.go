package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sonomap/internal/analysis"
	"sonomap/internal/logging"
)

// Engine is the opaque analysis function the isolated context runs.
type Engine interface {
	Analyze(signal []float64, name string) (analysis.Result, error)
}

// Serve runs the worker side of the protocol: a single-threaded loop that
// decodes request envelopes from r, invokes the engine, and encodes
// responses to w. It returns nil when the host closes the channel.
func Serve(r io.Reader, w io.Writer, eng Engine, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "engine-worker")

	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("decode request: %w", err)
		}

		var reply Envelope
		switch env.Type {
		case TypeInit:
			reply = Envelope{Type: TypeInitComplete, ID: env.ID}
		case TypeAnalyze:
			reply = handleAnalyze(env, eng, logger)
		default:
			reply = errorEnvelope(env.ID, fmt.Sprintf("unknown request type %q", env.Type))
		}

		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
}

func handleAnalyze(env Envelope, eng Engine, logger *slog.Logger) Envelope {
	var payload AnalyzePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errorEnvelope(env.ID, fmt.Sprintf("malformed analyze payload: %v", err))
	}

	result, err := eng.Analyze(payload.AudioBuffer, payload.FileName)
	if err != nil {
		logger.Debug("engine analysis failed",
			logging.String(logging.FieldFilePath, payload.FileName),
			logging.Error(err))
		return errorEnvelope(env.ID, err.Error())
	}

	body, err := json.Marshal(AnalysisPayload{Analysis: result, FileName: payload.FileName})
	if err != nil {
		return errorEnvelope(env.ID, fmt.Sprintf("encode analysis: %v", err))
	}
	return Envelope{Type: TypeAnalysisComplete, ID: env.ID, Payload: body}
}

func errorEnvelope(id uint64, message string) Envelope {
	body, _ := json.Marshal(ErrorPayload{Error: message})
	return Envelope{Type: TypeError, ID: id, Payload: body}
}
