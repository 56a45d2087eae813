// Package ws provides a WebSocket command channel for bootload gateways
// that expose the protocol over the network.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cstech/hexboot/pkg/boot"
)

// A Channel is a connected WebSocket command channel.
type Channel struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []byte
	mutex  sync.Mutex
}

// Dial connects to the bootload gateway at the given host.
func Dial(ctx context.Context, host string) (*Channel, error) {
	// connect to gateway
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/bootload", host), &websocket.DialOptions{
		Subprotocols: []string{"hexboot"},
	})
	if err != nil {
		return nil, err
	}

	// prepare channel
	cctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		conn:   conn,
		ctx:    cctx,
		cancel: cancel,
		queue:  make(chan []byte, 16),
	}

	// run reader
	go ch.reader()

	return ch, nil
}

func (c *Channel) reader() {
	for {
		// read message
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		// skip non binary messages
		if typ != websocket.MessageBinary {
			continue
		}

		// enqueue message
		select {
		case c.queue <- data:
		default:
			// drop if the queue is full
		}
	}
}

// Command implements the boot.Transport interface. Requests carry the
// opcode and payload in a single binary message, responses echo the opcode
// in their first byte.
func (c *Channel) Command(ctx context.Context, op byte, payload []byte, opts boot.CommandOptions) ([]byte, error) {
	// serialize exchanges
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// default timeout
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	// exchange with bounded retries
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		// drop stale responses
		for {
			select {
			case <-c.queue:
				continue
			default:
			}
			break
		}

		// write request
		err := c.conn.Write(ctx, websocket.MessageBinary, append([]byte{op}, payload...))
		if err != nil {
			return nil, err
		}

		// await response
		select {
		case res := <-c.queue:
			if len(res) < 1 || res[0] != op {
				return nil, fmt.Errorf("unexpected response opcode")
			}
			return res[1:], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
		}
	}

	return nil, boot.ErrTimeout
}

// Close tears down the connection.
func (c *Channel) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
