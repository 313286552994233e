// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe against a file path or network locator (RTSP sources
// are probed over TCP) and returns the first video stream's geometry, pixel
// format, and frame rate. InputArgs exposes the same transport options so the
// decode process opens the locator exactly the way it was probed.
package ffprobe
