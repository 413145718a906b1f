package server

import (
	"errors"
	"io"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"github.com/gin-gonic/gin"
)

const (
	streamEventConnected = "connected"
	streamEventHeartbeat = entitystate.KindHeartbeat
)

type streamMessage struct {
	Entity    string `json:"entity"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// stream serves Server-Sent Events for one entity named by ?entity=type:id.
func (h *httpHandler) stream(c *gin.Context) {
	key, err := entitystate.ParseKey(c.Query("entity"))
	if err != nil {
		h.respondError(c, errors.Join(serviceerror.ErrInvalidInput, err))
		return
	}

	ctx := c.Request.Context()
	updates, cleanup := h.deps.State.Subscribe(ctx, key)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(streamEventConnected, streamMessage{Entity: key.String(), Kind: streamEventConnected, Timestamp: time.Now().Unix()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(update.Kind, streamMessage{
				Entity:    update.Key.String(),
				Kind:      update.Kind,
				Payload:   update.Payload,
				Timestamp: update.Timestamp.Unix(),
			})
			return true
		case now := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, streamMessage{Entity: key.String(), Kind: streamEventHeartbeat, Timestamp: now.Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
