// Package cmdgate is the companion-side client of a cmdgate gateway. It
// dials the gateway over WebSocket, signs every outbound call with the
// device key, and serves gateway-initiated commands with local handlers.
//
// Usage:
//
//	signer, _ := cmdgate.LoadSigner("phone.key")
//	c, err := cmdgate.New(signer, cmdgate.WithGatewayKey(gwPub))
//	c.HandleFunc("notify", func(ctx context.Context, action string, params json.RawMessage, cc cmdgate.CallContext) (any, error) {
//		return nil, cmdgate.Errorf(cmdgate.CodeMethodNotFound, "unknown action %s", action)
//	})
//	if err := c.Dial(ctx, "ws://gateway:8440/ws"); err != nil { ... }
//	var pong map[string]any
//	err = c.Call(ctx, "system.ping", nil, &pong)
//
// Every type in the API is exported from this package; callers never import
// the gateway's internal packages. A device the gateway does not know is
// refused at Dial with ErrRejected.
package cmdgate
