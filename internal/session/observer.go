package session

import (
	"context"
	"sync"
)

// Observer holds the session of one client (a WebSocket connection) and
// streams its transitions. Failed logins leave the state untouched and emit
// nothing.
type Observer struct {
	auth *Authority

	mu       sync.Mutex
	current  *Session
	next     uint64
	watchers map[uint64]chan *Session
}

func NewObserver(auth *Authority) *Observer {
	return &Observer{auth: auth, watchers: make(map[uint64]chan *Session)}
}

// Current returns the session, or nil when anonymous or when the held
// session has since expired or been ended elsewhere.
func (o *Observer) Current() *Session {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()

	if cur == nil {
		return nil
	}
	if _, err := o.auth.Validate(cur.Token); err != nil {
		o.set(nil, cur)
		return nil
	}
	return cur
}

func (o *Observer) Login(ctx context.Context, identifier, secret string) (*Session, error) {
	s, err := o.auth.Authenticate(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	o.set(s, nil)
	return s, nil
}

// Adopt takes over a session issued earlier, e.g. through the HTTP API.
func (o *Observer) Adopt(token string) (*Session, error) {
	s, err := o.auth.Validate(token)
	if err != nil {
		return nil, err
	}
	o.set(s, nil)
	return s, nil
}

// Logout ends the held session. Logging out while anonymous is a no-op.
func (o *Observer) Logout() error {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()

	if cur == nil {
		return nil
	}
	if err := o.auth.EndSession(cur); err != nil {
		return err
	}
	o.set(nil, cur)
	return nil
}

// Observe streams the current session immediately and then every
// transition. Only the latest unread value is kept. cancel closes the
// channel and may be called more than once.
func (o *Observer) Observe() (<-chan *Session, func()) {
	ch := make(chan *Session, 1)

	o.mu.Lock()
	o.next++
	id := o.next
	o.watchers[id] = ch
	ch <- o.current
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watchers, id)
			close(ch)
			o.mu.Unlock()
		})
	}
	return ch, cancel
}

// set replaces the session. When expect is non-nil the swap only happens if
// the held session is still expect.
func (o *Observer) set(s *Session, expect *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if expect != nil && o.current != expect {
		return
	}
	if o.current == s {
		return
	}
	o.current = s
	for _, ch := range o.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
