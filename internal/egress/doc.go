// Package egress delivers the encoded H.264 stream to live-ingestion
// endpoints.
//
// Each destination gets its own Conn backed by an ffmpeg process that muxes
// the elementary stream with a silent AAC track into FLV. A Conn that fails
// once stays dead; the relay keeps encoding and simply stops writing to it.
package egress
