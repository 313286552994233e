package egress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"overlaycast/internal/encoder"
	"overlaycast/internal/logging"
	"overlaycast/internal/testsupport"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes int
	closes int
	err    error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func (w *recordingWriter) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes, w.closes
}

// blockingWriter holds every Write until release is closed.
type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func (w *blockingWriter) Close() error { return nil }

func startedConn(w io.WriteCloser, queueSize int) *ffmpegConn {
	conn := newConn("rtmp://ingest.example/live/key", w, nil, nil, time.Second, queueSize, logging.NewNop())
	go conn.writeLoop()
	go conn.wait()
	<-conn.exited
	return conn
}

func waitForDead(t *testing.T, conn *ffmpegConn) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !conn.Write(encoder.Unit("frame-n")) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected connection to be marked dead")
}

func TestDeadConnectionRejectsWritesWithoutIO(t *testing.T) {
	w := &recordingWriter{err: errors.New("broken pipe")}
	conn := startedConn(w, queueUnits)

	conn.Write(encoder.Unit("frame-1"))
	waitForDead(t, conn)
	for i := 0; i < 3; i++ {
		if conn.Write(encoder.Unit("frame-n")) {
			t.Fatal("expected dead connection to keep returning false")
		}
	}
	conn.Stop()
	if writes, _ := w.counts(); writes != 1 {
		t.Fatalf("expected exactly one I/O attempt, got %d", writes)
	}
}

func TestWriteAndStopIdempotent(t *testing.T) {
	w := &recordingWriter{}
	conn := startedConn(w, queueUnits)

	if !conn.Write(encoder.Unit("abc")) || !conn.Write(nil) {
		t.Fatal("expected healthy writes to succeed")
	}
	conn.Stop()
	conn.Stop()
	if conn.Write(encoder.Unit("late")) {
		t.Fatal("expected write after stop to fail")
	}
	writes, closes := w.counts()
	if closes != 1 {
		t.Fatalf("expected stdin closed once, got %d", closes)
	}
	if writes != 1 {
		t.Fatalf("expected no I/O after stop, got %d writes", writes)
	}
}

func TestFullQueueMarksConnectionDead(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	conn := startedConn(w, 2)

	failed := -1
	for i := 0; i < 4; i++ {
		if !conn.Write(encoder.Unit("frame")) {
			failed = i
			break
		}
	}
	if failed < 0 {
		t.Fatal("expected a write to fail once the queue filled")
	}
	if conn.Write(encoder.Unit("frame")) {
		t.Fatal("expected connection to stay dead")
	}
	close(w.release)
	conn.Stop()
}

func TestStartWithoutFFmpegReturnsNil(t *testing.T) {
	sink := NewFFmpegSink("ffmpeg-missing", time.Second, logging.NewNop())
	sink.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if conn := sink.Start(context.Background(), "rtmp://ingest.example/live/key"); conn != nil {
		t.Fatalf("expected nil connection when ffmpeg is missing, got %T", conn)
	}
}

func TestFFmpegSinkDeliversAndStops(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.h264")
	args := filepath.Join(dir, "args.txt")
	stub := testsupport.WriteStub(t, dir, "ffmpeg", `printf '%s\n' "$@" > "`+args+`"
cat > "`+out+`"`)

	sink := NewFFmpegSink(stub, 2*time.Second, logging.NewNop())
	conn := sink.Start(context.Background(), "rtmp://ingest.example/live/key")
	if conn == nil {
		t.Fatal("expected connection")
	}
	if !conn.Write(encoder.Unit("unit-1")) || !conn.Write(encoder.Unit("unit-2")) {
		t.Fatal("expected writes to succeed")
	}
	conn.Stop()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "unit-1unit-2" {
		t.Fatalf("unexpected delivered bytes %q", data)
	}
	recorded, err := os.ReadFile(args)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := strings.Fields(string(recorded)); strings.Join(got, " ") != strings.Join(BuildArgs("rtmp://ingest.example/live/key"), " ") {
		t.Fatalf("unexpected mux args: %q", got)
	}
}

func TestStopKillsUnresponsiveProcess(t *testing.T) {
	stub := testsupport.WriteStub(t, t.TempDir(), "ffmpeg", "exec sleep 30")
	sink := NewFFmpegSink(stub, 200*time.Millisecond, logging.NewNop())
	conn := sink.Start(context.Background(), "rtmp://ingest.example/live/key")
	if conn == nil {
		t.Fatal("expected connection")
	}

	start := time.Now()
	conn.Stop()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Stop took too long: %v", elapsed)
	}
}

func TestStalledMuxerDoesNotBlockWrites(t *testing.T) {
	stub := testsupport.WriteStub(t, t.TempDir(), "ffmpeg", "exec sleep 30")
	sink := NewFFmpegSink(stub, 200*time.Millisecond, logging.NewNop())
	conn := sink.Start(context.Background(), "rtmp://ingest.example/live/key")
	if conn == nil {
		t.Fatal("expected connection")
	}

	unit := encoder.Unit(bytes.Repeat([]byte{0x42}, 64<<10))
	start := time.Now()
	for i := 0; i < 8; i++ {
		conn.Write(unit)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("writes blocked on a stalled muxer for %v", elapsed)
	}

	start = time.Now()
	conn.Stop()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Stop took too long: %v", elapsed)
	}
}

func TestCancelledContextLeavesShutdownToStop(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "flushed")
	stub := testsupport.WriteStub(t, dir, "ffmpeg", `cat > /dev/null
touch "`+marker+`"`)

	ctx, cancel := context.WithCancel(context.Background())
	sink := NewFFmpegSink(stub, 2*time.Second, logging.NewNop())
	conn := sink.Start(ctx, "rtmp://ingest.example/live/key")
	if conn == nil {
		t.Fatal("expected connection")
	}
	if !conn.Write(encoder.Unit("unit-1")) {
		t.Fatal("expected write to succeed")
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	conn.Stop()

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected muxer to finish after stdin closed: %v", err)
	}
}

func TestProcessExitMarksConnectionDead(t *testing.T) {
	stub := testsupport.WriteStub(t, t.TempDir(), "ffmpeg", "echo 'connection refused' >&2\nexit 1")
	sink := NewFFmpegSink(stub, time.Second, logging.NewNop())
	conn := sink.Start(context.Background(), "rtmp://ingest.example/live/key")
	if conn == nil {
		t.Fatal("expected connection")
	}
	defer conn.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !conn.Write(encoder.Unit("x")) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected writes to fail after the process exited")
}

func TestRedact(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"rtmp://a.rtmp.youtube.com/live2/abcd-1234", "rtmp://a.rtmp.youtube.com/live2/****"},
		{"rtmps://user:pw@ingest.example:443/app/key?token=x", "rtmps://ingest.example:443/app/****"},
		{"rtmp://ingest.example", "rtmp://ingest.example"},
		{"not a url", "<destination>"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Fatalf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
