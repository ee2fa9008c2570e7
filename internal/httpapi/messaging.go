package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/metrics"
	"github.com/kernald/kernald/internal/ratelimit"
	"github.com/kernald/kernald/internal/validate"
)

// sseKeepaliveInterval matches the keepalive cadence used to prevent
// idle-timeout disconnects on reverse proxies in front of the daemon.
const sseKeepaliveInterval = 15 * time.Second

type publishRequest struct {
	Payload string `json:"payload"`
	Sender  string `json:"sender"`
}

func (a *api) handlePublish(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	var req publishRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if err := validate.ValidatePayloadSize(len(req.Payload), a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, kernelerr.Capacity("payload_too_large", err.Error()))
		return
	}

	msg, err := a.deps.Messaging.Publish(r.Context(), channel, []byte(req.Payload), req.Sender)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	metrics.MessagesPublishedTotal.Inc()
	writeCreated(w, map[string]any{"id": msg.ID, "createdAt": msg.CreatedAt})
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := a.deps.Messaging.History(r.Context(), channel, since, limit)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"messages": msgs})
}

func (a *api) handleClearChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	n, err := a.deps.Messaging.ClearChannel(r.Context(), channel)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"cleared": n})
}

func (a *api) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := a.deps.Messaging.Channels(r.Context())
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"channels": channels})
}

// handleSubscribe streams a channel's messages as Server-Sent Events
// until the client disconnects or the subscriber is evicted for
// falling behind.
func (a *api) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, a.deps.Activity, kernelerr.Fatal("sse_unsupported", "streaming not supported by this connection"))
		return
	}

	sub, err := a.deps.Messaging.Subscribe(channel, ratelimit.SourceKey(r))
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	defer a.deps.Messaging.Unsubscribe(channel, sub)

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: ok\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Evicted():
			fmt.Fprintf(w, "event: evicted\ndata: slow consumer\n\n")
			flusher.Flush()
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case msg := <-sub.C():
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", msg.ID, msg.Payload)
			flusher.Flush()
		}
	}
}
