// Package source opens the input stream and yields decoded rgba frames.
//
// An Opener probes the locator with ffprobe and then starts an ffmpeg decode
// process writing rawvideo to stdout. Sources never retry on their own; the
// relay owns reconnect policy.
package source
