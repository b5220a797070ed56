package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"soundshelf/internal/domain"
)

func (h *Handler) sseAuthToken(c *gin.Context, user *domain.User) {
	token, err := h.deps.Hub.IssueToken(user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, "token=%s", token)
}

// pushStream holds the connection open and relays the user's progress events
// until the client leaves, a newer stream replaces this one or the hub closes.
func (h *Handler) pushStream(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		h.badRequest(c, "invalid user id")
		return
	}
	if err := h.deps.Hub.VerifyToken(userID, c.Query("token")); err != nil {
		h.fail(c, err)
		return
	}

	sub := h.deps.Hub.Subscribe(userID)
	defer sub.Close()

	logger := h.logger.WithField("user_id", userID)
	logger.Info("progress stream opened")
	defer logger.Info("progress stream closed")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	events := sub.Events()
	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("update", string(msg))
			return true
		case <-done:
			return false
		}
	})
}
