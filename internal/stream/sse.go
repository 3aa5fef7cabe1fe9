package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ServeSSE writes every event from ch to w as a server-sent-event stream
// until the channel closes or the client disconnects. Each event is one
// JSON envelope; the terminal event is followed by the channel close, at
// which point the handler returns and the connection ends.
func ServeSSE(ctx context.Context, w http.ResponseWriter, ch <-chan Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return nil // client gone
			}
			flusher.Flush()
		}
	}
}
