// Package discovery advertises and finds bridge listeners over mDNS/DNS-SD.
//
// Each device listener registers one _tembridge._tcp instance. The instance
// name is "<kind>-<profile>@<host>" and the TXT records describe how to talk
// to it:
//
//	kind     device kind, "tem" or "cam"
//	profile  instrument profile name
//	codec    serializer, "cbor" or "json"
//	bufsize  largest message the listener accepts, in bytes
//	ver      protocol version, major.minor
package discovery
