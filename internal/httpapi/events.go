package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeat = 25 * time.Second

// handleEvents streams store and print-queue changes as Server-Sent
// Events until the client goes away.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event stream disabled"))
		return
	}
	rc := http.NewResponseController(w)
	// The server's WriteTimeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	changes, cancel := a.bus.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		a.log.Debug().Err(err).Msg("event stream not flushable")
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				a.log.Warn().Err(err).Msg("encode change event")
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
