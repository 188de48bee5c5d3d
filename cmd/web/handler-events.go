package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/repositories"
)

const heartbeatInterval = 15 * time.Second

// streamEvents serves the investigation's event log as Server-Sent Events.
// The client names the last cursor it has seen, either with the cursor query
// parameter or the Last-Event-ID header on reconnect, and receives every
// later event in order. Heartbeat comments keep idle proxies from closing
// the stream.
func (app *application) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := app.investigations.Get(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrInvestigationNotFound) {
			app.notFound(w, r)
			return
		}
		app.serverError(w, r, err)
		return
	}

	cursor, err := resumeCursor(r)
	if err != nil {
		app.clientError(w, r, http.StatusBadRequest, "invalid cursor")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		app.serverError(w, r, errors.New("response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := app.tailer.Tail(r.Context(), id, cursor)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, open := <-events:
			if !open {
				return
			}
			body, marshalErr := json.Marshal(event.Payload)
			if marshalErr != nil {
				app.serverError(w, r, errors.Wrap(marshalErr, "marshal event"))
				return
			}
			_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Cursor, event.Payload.Type, body)
			flusher.Flush()

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func resumeCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse cursor")
	}
	if cursor < 0 {
		return 0, errors.New("negative cursor")
	}
	return cursor, nil
}
