package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/live"
	"github.com/emaihada/yoonha/internal/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Topics a client can subscribe to.
const (
	TopicList      = "list"
	TopicThread    = "thread"
	TopicGuestbook = "guestbook"
	TopicSession   = "session"
)

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameLogin       = "login"
	FrameResume      = "resume"
	FrameLogout      = "logout"
)

// Server frame types.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
	FrameSession  = "session"
)

type clientFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Arg        string `json:"arg,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Secret     string `json:"secret,omitempty"`
	Token      string `json:"token,omitempty"`
}

type serverFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Code    apperr.Code `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// snapshotFrame keeps data even when empty so clients always get an array.
type snapshotFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data any    `json:"data"`
}

type sessionFrame struct {
	Type string           `json:"type"`
	ID   string           `json:"id,omitempty"`
	Data *session.Session `json:"data"`
}

// wsConn is one client connection. Each subscription id maps to the cancel
// of a live view; thread views exist only between subscribe and
// unsubscribe of their id.
type wsConn struct {
	srv      *Server
	conn     *websocket.Conn
	observer *session.Observer
	ctx      context.Context
	cancel   context.CancelFunc
	send     chan any
	written  chan struct{}

	mu   sync.Mutex
	subs map[string]func()
	wg   sync.WaitGroup
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &wsConn{
		srv:      s,
		conn:     conn,
		observer: s.svc.NewObserver(),
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan any, sendBuffer),
		written:  make(chan struct{}),
		subs:     make(map[string]func()),
	}
	if sess := session.FromContext(r.Context()); sess != nil {
		if _, err := c.observer.Adopt(sess.Token); err != nil {
			s.logger.Debug(ctx, "bearer session not adopted", "error", err)
		}
	}

	s.logger.Debug(ctx, "websocket connected", "remote", r.RemoteAddr)
	go c.writePump()
	c.readPump()
	c.close()
	s.logger.Debug(ctx, "websocket disconnected", "remote", r.RemoteAddr)
}

func (c *wsConn) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]func(){}
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	c.cancel()
	c.wg.Wait()
	<-c.written
	c.conn.Close()
}

func (c *wsConn) readPump() {
	c.conn.SetReadLimit(maxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.logger.Warn(c.ctx, "websocket read failed", "error", err)
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.push(errorFrame("", apperr.Invalid("malformed frame: %v", err)))
			continue
		}
		c.handle(f)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.written)
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.srv.logger.Warn(c.ctx, "websocket write failed", "error", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// push queues f, waiting while the writer is behind. Live views keep only
// their newest snapshot, so a slow client holds back at most one per view.
func (c *wsConn) push(f any) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) handle(f clientFrame) {
	switch f.Type {
	case FrameSubscribe:
		if err := c.subscribe(f.ID, f.Topic, f.Arg); err != nil {
			c.push(errorFrame(f.ID, err))
		}
	case FrameUnsubscribe:
		c.unsubscribe(f.ID)
	case FrameLogin:
		sess, err := c.observer.Login(c.ctx, f.Identifier, f.Secret)
		if err != nil {
			c.push(errorFrame(f.ID, err))
			return
		}
		c.push(sessionFrame{Type: FrameSession, ID: f.ID, Data: sess})
	case FrameResume:
		sess, err := c.observer.Adopt(f.Token)
		if err != nil {
			c.push(errorFrame(f.ID, err))
			return
		}
		c.push(sessionFrame{Type: FrameSession, ID: f.ID, Data: sess})
	case FrameLogout:
		if err := c.observer.Logout(); err != nil {
			c.push(errorFrame(f.ID, err))
			return
		}
		c.push(sessionFrame{Type: FrameSession, ID: f.ID})
	default:
		c.push(errorFrame(f.ID, apperr.Invalid("unknown frame type %q", f.Type)))
	}
}

func (c *wsConn) subscribe(id, topic, arg string) error {
	if id == "" {
		return apperr.Invalid("subscription id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.subs[id]; dup {
		return apperr.Invalid("subscription %q already exists", id)
	}
	if limit := c.srv.cfg.Live.MaxSubscriptionsPerConn; limit > 0 && len(c.subs) >= limit {
		return apperr.Invalid("at most %d subscriptions per connection", limit)
	}

	var cancel func()
	switch topic {
	case TopicList:
		sub, err := c.srv.svc.SubscribeToList(arg)
		if err != nil {
			return err
		}
		cancel = forward(c, id, sub)
	case TopicThread:
		sub, err := c.srv.svc.SubscribeToThread(arg)
		if err != nil {
			return err
		}
		cancel = forward(c, id, sub)
	case TopicGuestbook:
		cancel = forward(c, id, c.srv.svc.SubscribeToGuestbook())
	case TopicSession:
		cancel = c.forwardSession(id)
	default:
		return apperr.Invalid("unknown topic %q", topic)
	}
	c.subs[id] = cancel
	return nil
}

func (c *wsConn) unsubscribe(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok {
		cancel()
	}
}

// forward pumps a live view into the connection until cancelled.
func forward[T any](c *wsConn, id string, sub *live.Subscription[T]) func() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case snap, ok := <-sub.Updates():
				if !ok {
					return
				}
				c.push(snapshotFrame{Type: FrameSnapshot, ID: id, Data: snap})
			case err, ok := <-sub.Errors():
				if !ok {
					return
				}
				c.push(errorFrame(id, err))
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return sub.Cancel
}

func (c *wsConn) forwardSession(id string) func() {
	updates, cancel := c.observer.Observe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case sess, ok := <-updates:
				if !ok {
					return
				}
				c.push(sessionFrame{Type: FrameSession, ID: id, Data: sess})
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return cancel
}

func errorFrame(id string, err error) serverFrame {
	code := apperr.CodeOf(err)
	msg := err.Error()
	if code == apperr.CodeInternal {
		msg = "internal error"
	}
	return serverFrame{Type: FrameError, ID: id, Code: code, Message: msg}
}
