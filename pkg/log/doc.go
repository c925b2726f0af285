// Package log captures bridge traffic as structured events.
//
// Operational logging uses log/slog. This package is the separate,
// machine-readable trace of what crossed a connection and what the dispatch
// loop did with it:
//
//	// console, at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// capture file, read back with `tem-client log`
//	fl, _ := log.NewFileLogger("/var/log/tembridge/tem.tlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Events come from three layers: transport (raw chunks), wire (decoded
// commands, close sentinels) and dispatch (results with timing, session
// state). Capture files are a sequence of CBOR-encoded events.
package log
