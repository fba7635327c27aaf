package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"localchat/pkg/types"
)

// EventSnapshot names the first line of every /events stream: the state at
// subscription time, before any event.
const EventSnapshot = "snapshot"

func query(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.QueryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeJSONError(w, http.StatusBadRequest, "query is required")
			return
		}
		if req.ChatID < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid chat_id")
			return
		}
		resp, err := svc.Query(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// events streams the session as NDJSON: one snapshot line, then one line per
// state event in sequence order until the client leaves, the server shuts
// down, or the subscriber falls behind and is dropped.
func events(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ch, unsubscribe := svc.Subscribe(eventBuffer)
		defer unsubscribe()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flush := func() {}
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if requestLogLevel(r) >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{prefix: "events"})
		}
		enc := json.NewEncoder(writer)

		eventStreamsActive.Inc()
		defer eventStreamsActive.Dec()

		if err := enc.Encode(types.EventMessage{Name: EventSnapshot, State: snap}); err != nil {
			recordStreamEnd(streamWriteError)
			return
		}
		flush()

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				if serverBaseCtx.Err() != nil {
					recordStreamEnd(streamShutdown)
				} else {
					recordStreamEnd(streamClientGone)
				}
				return
			case ev, ok := <-ch:
				if !ok {
					recordStreamEnd(streamClosed)
					return
				}
				if err := enc.Encode(ev); err != nil {
					recordStreamEnd(streamWriteError)
					return
				}
				flush()
			}
		}
	}
}
