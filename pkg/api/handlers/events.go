package handlers

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/events"
)

// streamed are the event types forwarded to SSE clients.
var streamed = []events.Type{
	events.TypeSystemStatusChanged,
	events.TypeClientStateChanged,
	events.TypeRecoveryCompleted,
}

// EventsHandler streams connectivity events
type EventsHandler struct {
	conn      Connectivity
	bus       Subscriber
	keepalive time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(conn Connectivity, bus Subscriber) *EventsHandler {
	return &EventsHandler{conn: conn, bus: bus, keepalive: 30 * time.Second}
}

// Events handles GET /events (SSE stream)
// @Summary      Subscribe to connectivity events
// @Description  Server-Sent Events stream of system status, client state and recovery events
// @Tags         events
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /events [get]
func (h *EventsHandler) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	eventChan := make(chan events.Event, 32)
	forward := func(_ context.Context, e events.Event) error {
		select {
		case eventChan <- e:
		default:
			log.Warn().Str("event", string(e.Type)).Msg("SSE client too slow, dropping event")
		}
		return nil
	}
	for _, t := range streamed {
		unsubscribe := h.bus.Subscribe(t, events.Wildcard, forward, 0)
		defer unsubscribe()
	}

	initial := h.conn.Status()
	sendSSEEvent(c.Writer, "connected", initial)
	c.Writer.Flush()

	// statuses are built by concurrent handlers and may arrive out of order
	lastSeq := initial.Seq

	clientGone := c.Request.Context().Done()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case event := <-eventChan:
			if st, ok := event.Payload.(connectivity.Status); ok {
				if st.Seq <= lastSeq {
					continue
				}
				lastSeq = st.Seq
			}
			sendSSEEvent(c.Writer, string(event.Type), event)
			c.Writer.Flush()

		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
			c.Writer.Flush()
		}
	}
}

// sendSSEEvent writes an SSE event to the response
func sendSSEEvent(w io.Writer, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to encode SSE event")
		return
	}
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: "+string(jsonData)+"\n\n")
}
