package translator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"cortex-router/internal/orchestrator"
)

// ContentTypeNDJSON is the wire content type for event streams: one JSON
// object per line, each terminated by a newline.
const ContentTypeNDJSON = "application/x-ndjson"

// NDJSONWriter encodes stream events as newline-delimited JSON, flushing
// after every event so clients see progress immediately.
type NDJSONWriter struct {
	encoder *json.Encoder
	flusher http.Flusher
}

// NewNDJSONWriter wraps an HTTP response writer for event streaming. The
// flusher may be nil for transports that buffer whole responses (tests).
func NewNDJSONWriter(w io.Writer, flusher http.Flusher) *NDJSONWriter {
	return &NDJSONWriter{
		encoder: json.NewEncoder(w),
		flusher: flusher,
	}
}

// WriteEvent emits one event as a single JSON line.
func (w *NDJSONWriter) WriteEvent(ev orchestrator.Event) error {
	// json.Encoder.Encode appends the terminating '\n' itself.
	if err := w.encoder.Encode(ev); err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// SetStreamHeaders prepares a response for NDJSON event delivery.
func SetStreamHeaders(header http.Header) {
	header.Set("Content-Type", ContentTypeNDJSON)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
}
