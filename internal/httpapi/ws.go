package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}

// handleSupervisorWS streams lifecycle events to a supervisor as one JSON
// text frame per event. Client frames are read and discarded so a close is
// noticed.
func (h *handlers) handleSupervisorWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("supervisor ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(h.buffer)
	defer h.hub.Unsubscribe(sub.ID)
	h.log.Info("supervisor connected", "subscriber", sub.ID, "subscribers", h.hub.Len())

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			h.log.Info("supervisor disconnected", "subscriber", sub.ID)
			return
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug("supervisor write failed", "subscriber", sub.ID, "err", err)
				return
			}
		}
	}
}

// isWebSocketOriginAllowed accepts requests without an Origin header and
// same-host origins.
func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
