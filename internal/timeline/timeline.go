// Package timeline re-stamps frames with process-lifetime presentation and
// decode timestamps so the outgoing feed stays continuous across source
// reconnects and loops.
package timeline

import (
	"sync"

	"overlaycast/internal/media"
)

// Counter holds the next PTS and DTS values. Each advances by one only when
// a frame actually carries that field.
type Counter struct {
	mu      sync.Mutex
	nextPTS int64
	nextDTS int64
}

// New returns a counter starting at zero.
func New() *Counter {
	return &Counter{}
}

// Assign overwrites the frame's present timestamps with the counter values.
// Absent fields stay absent and do not advance the counter.
func (c *Counter) Assign(frame *media.Frame) *media.Frame {
	if frame == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame.PTS != nil {
		frame.PTS = media.Timestamp(c.nextPTS)
		c.nextPTS++
	}
	if frame.DTS != nil {
		frame.DTS = media.Timestamp(c.nextDTS)
		c.nextDTS++
	}
	return frame
}

// Reset zeroes both counters. Only an intentional restart calls this.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.nextPTS, c.nextDTS = 0, 0
	c.mu.Unlock()
}

// Next reports the values the next frame would receive.
func (c *Counter) Next() (pts, dts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextPTS, c.nextDTS
}
