package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type feedFrame struct {
	Loading   bool              `json:"loading"`
	Feed      bool              `json:"feed"`
	Bookmarks []domain.Bookmark `json:"bookmarks"`
}

// Feed upgrades to a WebSocket and pushes a fresh snapshot frame on
// every collection change, so every attached tab stays consistent
// without polling.
func Feed(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Logger.Warn("websocket upgrade failed", logger.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		changes, cancel := d.Engine.Changes()
		defer cancel()

		// Reader goroutine: we never expect client frames, but
		// reading is required to notice the peer going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func() error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(feedFrame{
				Loading:   d.Engine.Loading(),
				Feed:      d.Engine.FeedConnected(),
				Bookmarks: d.Engine.Snapshot(),
			})
		}

		// Initial frame so a new tab renders without waiting for a
		// change.
		if err := send(); err != nil {
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-changes:
				if err := send(); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
