package client

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/nexgram/nexgram/pkg/tl"
)

// HelpGetConfig fetches the server configuration, including the
// advertised datacenter table.
func (c *Client) HelpGetConfig(ctx context.Context) (*tl.ServerConfig, error) {
	return invokeAs[*tl.ServerConfig](ctx, c, &tl.HelpGetConfig{})
}

// UpdatesGetState reports the server's current update sequence position.
func (c *Client) UpdatesGetState(ctx context.Context) (*tl.UpdatesState, error) {
	return invokeAs[*tl.UpdatesState](ctx, c, &tl.UpdatesGetState{})
}

// Ping round-trips a ping through the full call path.
func (c *Client) Ping(ctx context.Context) error {
	id := rand.Int63()
	raw, err := c.InvokeRaw(ctx, &tl.Ping{PingID: id})
	if err != nil {
		return err
	}
	var pong tl.Pong
	d := tl.NewDecoder(raw)
	d.ExpectID(tl.IDPong)
	if err := pong.Decode(d); err != nil {
		return fmt.Errorf("client: ping answer: %w", err)
	}
	if pong.PingID != id {
		return fmt.Errorf("client: pong for wrong ping id %d", pong.PingID)
	}
	return nil
}

// invokeAs runs one call and asserts the answer's concrete type. This
// is the whole wrapper pattern; every typed method above is one line of
// it.
func invokeAs[T tl.Object](ctx context.Context, c *Client, req tl.Object) (T, error) {
	var zero T
	obj, err := c.Invoke(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("client: unexpected answer %T to %T", obj, req)
	}
	return typed, nil
}
