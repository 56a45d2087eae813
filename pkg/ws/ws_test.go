package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/cstech/hexboot/pkg/boot"
)

func TestChannel(t *testing.T) {
	// a gateway that acknowledges erases and swallows verifies
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"hexboot"},
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if len(data) == 0 {
				continue
			}
			switch data[0] {
			case boot.OpErase:
				_ = conn.Write(r.Context(), websocket.MessageBinary, []byte{boot.OpErase, boot.Ack})
			case boot.OpVerify:
				// stay silent to provoke a timeout
			}
		}
	}))
	defer srv.Close()

	// dial gateway
	host := strings.TrimPrefix(srv.URL, "http://")
	ch, err := Dial(context.Background(), host)
	assert.NoError(t, err)

	// a command with a response
	res, err := ch.Command(context.Background(), boot.OpErase, nil, boot.CommandOptions{
		Timeout: time.Second,
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte{boot.Ack}, res)

	// an unanswered command times out after all retries
	_, err = ch.Command(context.Background(), boot.OpVerify, nil, boot.CommandOptions{
		Timeout: 20 * time.Millisecond,
		Retries: 1,
	})
	assert.ErrorIs(t, err, boot.ErrTimeout)

	// cancellation interrupts a pending command
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = ch.Command(ctx, boot.OpVerify, nil, boot.CommandOptions{
		Timeout: time.Minute,
	})
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, ch.Close())
}
