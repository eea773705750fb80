package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// FrameExtractor pulls a representative still frame out of an uploaded
// video, seeked to a fixed offset.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, media []byte, offset time.Duration) ([]byte, error)
}

// FFmpegExtractor shells out to ffmpeg to decode a single frame. The video
// is piped through stdin so nothing touches disk.
type FFmpegExtractor struct {
	binary string
}

// NewFFmpegExtractor creates an extractor using the given ffmpeg binary.
func NewFFmpegExtractor(binary string) *FFmpegExtractor {
	return &FFmpegExtractor{binary: binary}
}

// ExtractFrame decodes one JPEG frame at the given offset.
func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, media []byte, offset time.Duration) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = bytes.NewReader(media)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w (%s)", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at offset %s", offset)
	}
	return stdout.Bytes(), nil
}
