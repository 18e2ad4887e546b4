package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nuetzliches/sbinspect/internal/activity"
)

const (
	streamBuffer     = 64
	streamPingPeriod = 54 * time.Second
	streamPongWait   = 60 * time.Second
	streamWriteWait  = 10 * time.Second
)

// handleActivityStream upgrades to a websocket and forwards bus events as
// JSON text frames. ?kinds=sent,received narrows the stream.
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, errStateFailed, "activity stream is not enabled")
		return
	}

	kinds := make(map[activity.Kind]bool)
	for _, k := range strings.Split(r.URL.Query().Get("kinds"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[activity.Kind(k)] = true
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			allowed, _ := s.isOriginAllowed(origin)
			return allowed
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Debug("activity_stream_upgrade_failed", slog.Any("err", err))
		return
	}

	send := make(chan activity.Event, streamBuffer)
	unsubscribe, err := s.Bus.Subscribe(func(e activity.Event) {
		if len(kinds) > 0 && !kinds[e.Kind] {
			return
		}
		select {
		case send <- e:
		default:
			s.logger().Warn("activity_stream_dropped", slog.String("kind", string(e.Kind)))
		}
	})
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger().Debug("activity_stream_open", slog.String("remote_addr", r.RemoteAddr))
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = conn.Close()
		s.logger().Debug("activity_stream_closed", slog.String("remote_addr", r.RemoteAddr))
	}()

	for {
		select {
		case e := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
