// Package encoder turns composited rgba frames into a constant-bitrate H.264
// elementary stream.
//
// A Factory creates one Handle per source resolution. The Handle feeds frames
// into a Codec through a bounded queue; when the queue is full the frame is
// dropped and counted instead of stalling the relay. The production Codec is
// an ffmpeg/libx264 subprocess whose stdout bytes are surfaced as Units in
// arrival order.
package encoder
