package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"keepkeyd/internal/eventbus"
)

// sseEvent is the wire shape of one frame on the /api/v1/events stream: the
// Event Bus's Kind/DeviceID/Payload, plus the Lagged marker from spec
// section 4.7 so a client can detect it missed events under backpressure.
type sseEvent struct {
	Kind     string `json:"kind"`
	DeviceID string `json:"device_id,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	Lagged   bool   `json:"lagged,omitempty"`
}

// handleEvents streams every Event Bus publication as a server-sent event,
// one JSON object per frame, until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	sub := s.bus.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	notify := c.Writer.CloseNotify()
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	events := make(chan eventbus.Envelope)
	done := make(chan struct{})
	go func() {
		defer close(events)
		for {
			select {
			case <-done:
				return
			default:
			}
			select {
			case events <- sub.Next():
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		select {
		case <-notify:
			return
		case <-c.Request.Context().Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			frame := sseEvent{Kind: env.Event.Kind.String(), DeviceID: env.Event.DeviceID, Payload: env.Event.Payload, Lagged: env.Lagged}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", frame.Kind, data)
			flusher.Flush()
		}
	}
}
