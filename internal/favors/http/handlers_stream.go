package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/idan55/makeamitsva-backend/internal/auth"
)

// StreamRequestEvents streams state changes of one request to its creator or
// helper using Server-Sent Events.
func (h *Handler) StreamRequestEvents(c *gin.Context) {
	ctx := c.Request.Context()

	view, sub, err := h.requests.Watch(ctx, c.Param("id"), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer sub.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	initial, _ := json.Marshal(gin.H{"request": view})
	fmt.Fprintf(c.Writer, "event: initial\ndata: %s\n\n", initial)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	updates := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case msg, ok := <-updates:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: update\ndata: {\"request\":%s}\n\n", msg.Payload)
			flusher.Flush()
		}
	}
}
