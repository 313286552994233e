package procgroup

import (
	"bytes"
	"strings"
	"sync"
)

// Tail is an io.Writer that keeps the last few lines written to it. It is
// used as a subprocess stderr sink so failures can be logged with context
// without buffering unbounded output.
type Tail struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial []byte
}

// NewTail returns a Tail that retains at most limit complete lines.
func NewTail(limit int) *Tail {
	if limit <= 0 {
		limit = 1
	}
	return &Tail{limit: limit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := append(t.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		t.push(string(data[:idx]))
		data = data[idx+1:]
	}
	// keep a single overlong line from growing without bound
	if len(data) > 4096 {
		data = data[len(data)-4096:]
	}
	t.partial = append(t.partial[:0], data...)
	return len(p), nil
}

func (t *Tail) push(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	if len(t.lines) == t.limit {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.limit-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns the retained lines, oldest first, including any unterminated
// trailing line.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.lines...)
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		out = append(out, rest)
	}
	return out
}

// String joins the retained lines with " | " for single-line log fields.
func (t *Tail) String() string {
	return strings.Join(t.Lines(), " | ")
}
