package controller

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
)

// QueueStatusStream pushes queue counts to the admin dashboard every few
// seconds until the client hangs up.
func QueueStatusStream(processor *automation.Processor, logger *logrus.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			status, err := processor.Status()
			if err != nil {
				logger.WithError(err).Warn("queue status stream read failed")
				return
			}
			if err := c.WriteJSON(status); err != nil {
				return
			}
			<-ticker.C
		}
	}
}
