package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const encoderProbeTimeout = 10 * time.Second

// CheckFFmpegEncoder reports whether the ffmpeg build exposes the named video encoder.
func CheckFFmpegEncoder(ctx context.Context, ffmpegBinary, encoder string) Status {
	result := Status{
		Name:        "Encoder " + encoder,
		Command:     ffmpegBinary,
		Description: "Video encoder compiled into ffmpeg",
	}
	if strings.TrimSpace(encoder) == "" {
		result.Detail = "encoder not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, ffmpegBinary, "-hide_banner", "-encoders") //nolint:gosec
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		result.Detail = fmt.Sprintf("list encoders: %v", err)
		return result
	}

	if hasEncoder(stdout.Bytes(), encoder) {
		result.Available = true
		return result
	}
	result.Detail = fmt.Sprintf("ffmpeg was built without %s", encoder)
	return result
}

// hasEncoder scans `ffmpeg -encoders` output. Lines look like " V....D libx264  libx264 H.264 ...".
func hasEncoder(listing []byte, encoder string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && strings.HasPrefix(fields[0], "V") && fields[1] == encoder {
			return true
		}
	}
	return false
}
