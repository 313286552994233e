// Package relay runs the frame pipeline: acquire a source, composite the
// overlay, re-stamp timestamps, encode, and write to every live egress
// connection. Failures are classified and drive a small state machine that
// keeps the stream alive until cancellation or a configuration error.
package relay
