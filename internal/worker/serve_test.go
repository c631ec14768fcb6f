package worker_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"sonomap/internal/logging"
	"sonomap/internal/worker"
)

// runServe feeds the encoded envelopes through Serve and decodes the replies.
func runServe(t *testing.T, eng worker.Engine, requests ...worker.Envelope) []worker.Envelope {
	t.Helper()

	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	for _, req := range requests {
		if err := enc.Encode(req); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}

	var out bytes.Buffer
	if err := worker.Serve(&in, &out, eng, logging.NewNop()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var replies []worker.Envelope
	dec := json.NewDecoder(&out)
	for dec.More() {
		var env worker.Envelope
		if err := dec.Decode(&env); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		replies = append(replies, env)
	}
	return replies
}

func TestServeInitHandshake(t *testing.T) {
	replies := runServe(t, stubEngine{result: engineResult()},
		worker.Envelope{Type: worker.TypeInit, ID: 1})

	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].Type != worker.TypeInitComplete || replies[0].ID != 1 {
		t.Fatalf("unexpected handshake reply: %+v", replies[0])
	}
}

func TestServeEchoesCorrelationID(t *testing.T) {
	payload, _ := json.Marshal(worker.AnalyzePayload{AudioBuffer: []float64{0.1}, FileName: "a.wav"})
	replies := runServe(t, stubEngine{result: engineResult()},
		worker.Envelope{Type: worker.TypeAnalyze, ID: 41, Payload: payload},
		worker.Envelope{Type: worker.TypeAnalyze, ID: 42, Payload: payload})

	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].ID != 41 || replies[1].ID != 42 {
		t.Fatalf("replies must echo request ids: %d, %d", replies[0].ID, replies[1].ID)
	}

	var body worker.AnalysisPayload
	if err := json.Unmarshal(replies[0].Payload, &body); err != nil {
		t.Fatalf("decode analysis payload: %v", err)
	}
	if body.FileName != "a.wav" {
		t.Fatalf("expected echoed file name, got %q", body.FileName)
	}
	if body.Analysis != engineResult() {
		t.Fatalf("analysis mismatch: %+v", body.Analysis)
	}
}

func TestServeUnknownTypeYieldsError(t *testing.T) {
	replies := runServe(t, stubEngine{result: engineResult()},
		worker.Envelope{Type: "transcode", ID: 7})

	if len(replies) != 1 || replies[0].Type != worker.TypeError {
		t.Fatalf("expected error reply, got %+v", replies)
	}
	var body worker.ErrorPayload
	if err := json.Unmarshal(replies[0].Payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if !strings.Contains(body.Error, "transcode") {
		t.Fatalf("error should name the unknown type: %q", body.Error)
	}
}

func TestServeMalformedPayloadYieldsError(t *testing.T) {
	replies := runServe(t, stubEngine{result: engineResult()},
		worker.Envelope{Type: worker.TypeAnalyze, ID: 9, Payload: json.RawMessage(`"not an object"`)})

	if len(replies) != 1 || replies[0].Type != worker.TypeError {
		t.Fatalf("expected error reply, got %+v", replies)
	}
	if replies[0].ID != 9 {
		t.Fatalf("error reply must echo the request id, got %d", replies[0].ID)
	}
}
