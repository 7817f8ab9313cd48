package hub

import "sync"

// Client is the hub-side handle for one connected session. It owns the
// session's private outbound channel; pushes to it never block and never
// touch another client's state, so fan-out needs no registry lock during
// delivery.
type Client struct {
	sessionID string
	send      chan []byte
	done      chan struct{}

	once   sync.Once
	closer func()
}

func newClient(sessionID string, buffer int, closer func()) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		sessionID: sessionID,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		closer:    closer,
	}
}

// SessionID reports the registry identity this client transports.
func (c *Client) SessionID() string {
	if c == nil {
		return ""
	}
	return c.sessionID
}

// Outbound exposes the frames queued for this session's transport writer.
func (c *Client) Outbound() <-chan []byte {
	if c == nil {
		return nil
	}
	return c.send
}

// Done is closed when the session has been disconnected or reaped.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// deliver enqueues a frame without blocking. A closed or saturated client
// reports false and the frame is dropped.
func (c *Client) deliver(frame []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close signals the writer to stop and force-closes the transport. Safe to
// call more than once; in-flight fan-out writes become benign no-ops.
func (c *Client) close() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			c.closer()
		}
	})
}
