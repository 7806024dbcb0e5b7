package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/docstore"
)

const streamHeartbeat = 25 * time.Second

// streamSubscription writes each snapshot of sub as a server-sent event until
// the client goes away or the subscription ends. sub is always closed.
func streamSubscription[T any](w http.ResponseWriter, r *http.Request, sub *docstore.Subscription[T], logger zerolog.Logger, render func(T) any) {
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case value, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					logger.Warn().Err(err).Str("path", r.URL.Path).Msg("subscription ended")
					_, code, message, _ := mapError(err)
					writeEvent(w, "error", map[string]any{"code": code, "error": message})
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, "snapshot", render(value)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
