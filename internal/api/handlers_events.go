package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const eventStreamHeartbeat = 25 * time.Second

// AccountEventsHandler streams account-updated and transaction-changed events of one
// account as Server-Sent Events until the client disconnects.
func (h *Handlers) AccountEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	events, err := h.service.SubscribeAccount(r.Context(), userID, accountID)
	if err != nil {
		writeServiceError(w, "account_events", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	log.Printf("level=info component=api endpoint=account_events outcome=subscribed user_id=%s account_id=%s", userID, accountID)
	heartbeat := time.NewTicker(eventStreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("level=error component=api endpoint=account_events msg=\"failed to encode event\" topic=%s err=%v", event.Topic, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()
		}
	}
}
