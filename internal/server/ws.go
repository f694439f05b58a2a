package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// stream serializes writes to one websocket connection.
type stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (st *stream) send(f models.Frame) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return st.conn.WriteJSON(f)
}

func (st *stream) ping() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (st *stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conn.Close()
}

func errorFrame(err error) models.Frame {
	code, field := models.Classify(err)
	return models.Frame{Type: models.FrameError, Code: code, Field: field, Message: err.Error()}
}

// handleSubscribe relays a channel subscription over a websocket. Every frame
// is either a full snapshot or an error; the stream ends when the peer goes
// away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ch, err := s.channel(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(ctx, err, "Websocket upgrade failed")
		return
	}
	st := &stream{conn: conn}
	defer st.close()

	handle, err := ch.Subscribe(
		func(snap storage.Snapshot) {
			if snap == nil {
				snap = storage.Snapshot{}
			}
			if err := st.send(models.Frame{Type: models.FrameSnapshot, Tasks: snap}); err != nil {
				logger.Debug(ctx, "Snapshot not delivered", "error", err)
			}
		},
		func(err error) {
			if err := st.send(errorFrame(err)); err != nil {
				logger.Debug(ctx, "Error frame not delivered", "error", err)
			}
		},
	)
	if err != nil {
		st.send(errorFrame(models.NewChannelError("subscribe", err)))
		return
	}
	defer ch.Unsubscribe(handle)

	streamsActive.Inc()
	defer streamsActive.Dec()
	logger.Info(ctx, "Subscription stream opened")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := st.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn(ctx, "Subscription stream dropped", "error", err)
			}
			break
		}
	}
	logger.Info(ctx, "Subscription stream closed")
}
