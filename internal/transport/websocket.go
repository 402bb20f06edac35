package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// DialWebSocket opens a WebSocket connection to url and runs the chosen
// MTProto framing over it as a byte stream. Used where raw TCP is
// unavailable (browsers, restrictive proxies).
func DialWebSocket(ctx context.Context, mode Mode, url string) (Framer, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"binary"},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxFrameSize)

	// NetConn reads binary messages as a contiguous stream, which is what
	// the stream framers expect.
	conn := websocket.NetConn(context.Background(), ws, websocket.MessageBinary)
	fr, err := New(mode, conn)
	if err != nil {
		_ = ws.Close(websocket.StatusProtocolError, "unsupported framing")
		return nil, err
	}
	return fr, nil
}
