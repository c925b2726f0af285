// Package wire defines the bridge's request and response messages and the
// codecs that turn them into bytes.
//
// # Messages
//
// A request is either a command map or a close sentinel:
//
//	{"func_name": "setStagePosition", "args": [0, 0], "kwargs": {"wait": true}}
//	{"attr_name": "dimensions"}
//	"exit"
//
// func_name and attr_name are mutually exclusive. args and kwargs are
// optional and default to empty.
//
// A response is a pair of status and payload:
//
//	[200, <return value>]
//	[500, [<error kind>, [<arg>, ...]]]
//
// # Framing
//
// There is no length prefix. Each message is written as one chunk and must
// fit the peer's receive buffer.
//
// # Codecs
//
// CBOR (RFC 8949) is the default codec. A JSON codec is provided for
// clients that cannot speak CBOR.
package wire
