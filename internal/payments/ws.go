package payments

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medsociety/portal/pkg/response"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// NewUpgrader accepts websocket connections from allowed origins. "*" or an empty list
// accepts any origin.
func NewUpgrader(allowed []string) websocket.Upgrader {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(set) == 0 || set["*"] || origin == "" || set[origin]
		},
	}
}

// Watch handles GET /ws/payments/:trackingId[?merchant_reference=]. It streams status
// events for the payment and ends with the first terminal event. A payment that has already
// settled gets its final event at once. A client that disconnects first cancels polling on
// every instance, which is how closing the payment dialog stops the watch.
func (h *Handler) Watch(upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		trackingID := c.Param("trackingId")

		// Subscribe before looking at the record so a result landing in between is not lost.
		events := make(chan StatusEvent, 16)
		cancel, err := h.svc.Bus().Subscribe(trackingID, func(ev StatusEvent) {
			if ev.Stage == StageStopRequested {
				return
			}
			select {
			case events <- ev:
			default:
			}
		})
		if err != nil {
			h.logger.Warn("status subscribe failed", zap.Error(err))
			response.Internal(c, "status stream unavailable")
			return
		}
		defer cancel()

		settled, err := h.svc.Watch(c.Request.Context(), trackingID, c.Query("merchant_reference"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		if settled != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(settled); err == nil {
				closeNormal(conn, settled.Stage)
			}
			_ = conn.Close()
			return
		}

		closed := make(chan struct{})
		go readPump(conn, closed)
		if !writePump(conn, events, closed) {
			h.svc.StopWatching(c.Request.Context(), trackingID)
		}
	}
}

func closeNormal(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(wsWriteWait))
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards events until a terminal one is sent or the client goes away.
// It reports whether the stream ended on a terminal event.
func writePump(conn *websocket.Conn, events <-chan StatusEvent, closed <-chan struct{}) bool {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-closed:
			return false
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return false
			}
			if ev.Terminal() {
				closeNormal(conn, ev.Stage)
				return true
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false
			}
		}
	}
}
