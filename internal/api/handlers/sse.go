package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sseBuffer    = 32
	sseKeepAlive = 15 * time.Second
)

func startSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func writeSSE(c *gin.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// streamUpdates writes initial, then every published value, until the
// client goes away. Slow clients miss intermediate updates rather than
// blocking the publisher.
func streamUpdates[T any](c *gin.Context, initial T, subscribe func(func(T)) func()) {
	startSSE(c)

	updates := make(chan T, sseBuffer)
	unsubscribe := subscribe(func(v T) {
		select {
		case updates <- v:
		default:
		}
	})
	defer unsubscribe()

	if err := writeSSE(c, initial); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			if err := writeSSE(c, v); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
