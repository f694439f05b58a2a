package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

type remoteSub struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// setConn installs a redialed connection, or closes it if the subscription
// ended meanwhile.
func (s *remoteSub) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *remoteSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.closed = true
}

func (s *remoteSub) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Subscribe opens the stream and waits for its first frame, so a rejected
// token surfaces here as models.ErrUnauthenticated. Later frames are delivered
// on the subscription's own goroutine. A dropped stream is reported through
// onError and redialed until Unsubscribe.
func (c *Client) Subscribe(onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	conn, first, err := c.dial(ctx)
	if err != nil {
		cancel()
		return "", err
	}

	sub := &remoteSub{cancel: cancel, conn: conn}
	scope := models.NewID()
	handle := c.hub.Add(scope, first, onSnapshot, onError)

	c.mu.Lock()
	c.subs[handle] = sub
	c.mu.Unlock()

	go c.pump(ctx, sub, scope)
	return handle, nil
}

// Unsubscribe stops delivery and closes the stream. Unknown handles are ignored.
func (c *Client) Unsubscribe(h storage.Handle) {
	c.hub.Remove(h)

	c.mu.Lock()
	sub, ok := c.subs[h]
	delete(c.subs, h)
	c.mu.Unlock()

	if ok {
		sub.cancel()
		sub.close()
	}
}

// Close ends every subscription.
func (c *Client) Close() {
	c.mu.Lock()
	handles := make([]storage.Handle, 0, len(c.subs))
	for h := range c.subs {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		c.Unsubscribe(h)
	}
	c.hub.Close()
}

func (c *Client) streamURL() string {
	u := c.baseURL + "/api/v1/subscribe"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// dial connects and reads the first frame, which is the current collection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, storage.Snapshot, error) {
	header := http.Header{}
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusBadRequest {
				return nil, nil, decodeError("subscribe", resp)
			}
		}
		return nil, nil, &models.ChannelError{Op: "subscribe", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(c.dialer.HandshakeTimeout))
	var f models.Frame
	if err := conn.ReadJSON(&f); err != nil {
		conn.Close()
		return nil, nil, &models.ChannelError{Op: "subscribe", Err: err}
	}
	conn.SetReadDeadline(time.Time{})

	if f.Type != models.FrameSnapshot {
		conn.Close()
		return nil, nil, models.FromCode("subscribe", f.Code, f.Field, f.Message)
	}
	return conn, snapshotOf(f), nil
}

func snapshotOf(f models.Frame) storage.Snapshot {
	if f.Tasks == nil {
		return storage.Snapshot{}
	}
	return storage.Snapshot(f.Tasks)
}

func (c *Client) pump(ctx context.Context, sub *remoteSub, scope string) {
	backoff := minBackoff
	for {
		conn := sub.current()
		if conn == nil {
			return
		}
		err := c.read(conn, scope)
		if ctx.Err() != nil {
			return
		}
		c.hub.Fail(scope, models.NewChannelError("listen", err))
		logger.Warn(ctx, "Subscription stream lost, reconnecting", "error", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			conn, first, err := c.dial(ctx)
			if err == nil {
				if !sub.setConn(conn) {
					return
				}
				c.hub.Publish(scope, first)
				backoff = minBackoff
				break
			}
			if errors.Is(err, models.ErrUnauthenticated) {
				c.hub.Fail(scope, err)
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// read forwards frames until the connection fails.
func (c *Client) read(conn *websocket.Conn, scope string) error {
	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case models.FrameSnapshot:
			c.hub.Publish(scope, snapshotOf(f))
		case models.FrameError:
			c.hub.Fail(scope, models.FromCode("listen", f.Code, f.Field, f.Message))
		}
	}
}
