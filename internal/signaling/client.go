package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Client is an endpoint's connection to the relay. Writes are serialized by
// a mutex; reads happen only inside Listen.
type Client struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one envelope as a text frame.
func (c *Client) Send(env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Register announces identity to the relay.
func (c *Client) Register(identity string) error {
	return c.Send(Register(identity))
}

// Listen reads frames until the connection fails and hands each raw frame to
// fn. It returns the read error, or nil after a normal close.
func (c *Client) Listen(fn func(raw []byte)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay connection lost: %w", err)
		}
		fn(data)
	}
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}
