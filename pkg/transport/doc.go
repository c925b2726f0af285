// Package transport carries bridge messages over TCP.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR (or JSON) messages      │
//	├────────────────────────────────┤
//	│   one message per chunk        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// There is no length prefix. A request is whatever a single read returns,
// up to the buffer size (1024 bytes unless configured), and a reply is
// written as a single chunk of at most the same size.
//
// # Server Side
//
// A Listener accepts connections for one device kind and runs one handler
// goroutine per connection. Each handler reads a chunk, decodes a command,
// submits it to the device's dispatch loop and writes the encoded result
// back, strictly one request at a time. Accepts and reads use a deadline of
// one poll interval so that both notice shutdown promptly.
//
// # Client Side
//
// Dial returns a ClientConn with Send and Receive. Receive keeps reading
// until the bytes form one complete message, since a large reply may
// arrive split across TCP segments.
package transport
