package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio"},
			{CodecType: "video", Width: 1280, Height: 720, AvgFrameRate: "30000/1001", RFrameRate: "30/1"},
		},
		Format: Format{Duration: "123.45"},
	}
	video, ok := result.VideoStream()
	if !ok || video.Width != 1280 {
		t.Fatalf("expected video stream, got %#v", video)
	}
	if rate := video.FrameRate(); rate < 29.96 || rate > 29.98 {
		t.Fatalf("unexpected frame rate: %v", rate)
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestFrameRateFallsBackAndHandlesInvalid(t *testing.T) {
	if rate := (Stream{AvgFrameRate: "0/0", RFrameRate: "25/1"}).FrameRate(); rate != 25 {
		t.Fatalf("expected r_frame_rate fallback, got %v", rate)
	}
	if rate := (Stream{AvgFrameRate: "bad"}).FrameRate(); rate != 0 {
		t.Fatalf("expected 0 for invalid rate, got %v", rate)
	}
	if (Result{Format: Format{Duration: "N/A"}}).DurationSeconds() != 0 {
		t.Fatal("expected 0 duration for live input")
	}
	if _, ok := (Result{}).VideoStream(); ok {
		t.Fatal("expected no video stream")
	}
}

func TestInputArgsForNetworkLocators(t *testing.T) {
	if got := InputArgs("RTSP://cam/live"); strings.Join(got, " ") != "-rtsp_transport tcp" {
		t.Fatalf("unexpected rtsp args: %v", got)
	}
	if got := InputArgs("/media/loop.mp4"); got != nil {
		t.Fatalf("expected no args for files, got %v", got)
	}
}

func TestInspectRunsBinary(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n" +
		`echo '{"streams":[{"codec_type":"video","width":640,"height":360,"avg_frame_rate":"30/1"}],"format":{"duration":"10.0"}}'` + "\n"
	binary := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	result, err := Inspect(context.Background(), binary, "rtsp://cam/live")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	video, _ := result.VideoStream()
	if video.Width != 640 || video.Height != 360 {
		t.Fatalf("unexpected stream: %#v", video)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if !strings.Contains(string(args), "-rtsp_transport tcp") {
		t.Fatalf("expected tcp transport in probe args, got %q", args)
	}

	if _, err := Inspect(context.Background(), binary, "  "); err == nil {
		t.Fatal("expected error for empty locator")
	}
}
