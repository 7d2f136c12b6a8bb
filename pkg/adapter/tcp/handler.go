package tcp

import "context"

// Handler is the pluggable application capability invoked once per decoded
// frame. It receives the decoded payload and returns the payload for the
// response frame.
//
// The core makes no assumption about the payload contents. It only requires
// that the handler returns within the session's timeout budget; a handler
// error (or an empty response payload, which fails encoding) faults the
// session that dispatched it and no other.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// EchoHandler responds to every frame with its own payload. It is the
// default handler when none is configured and a convenient loopback peer
// for tests.
func EchoHandler(ctx context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}
