package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/drivewatch/drivewatch/internal/lib/media"
)

// PermissionError reports a denied camera or geolocation acquisition. It is
// surfaced to the user and the affected loop does not arm.
type PermissionError struct {
	Resource string
	Err      error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s access denied: %v", e.Resource, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// FrameSource provides camera frames to the capture loop. Acquire is called
// once per monitoring session and may fail with *PermissionError; Release
// must be safe to call after a failed Acquire.
type FrameSource interface {
	Acquire(ctx context.Context) error
	Frame(ctx context.Context) ([]byte, error)
	Release()
}

// FrameAnalyzer submits an encoded frame for classification and returns the
// raw model reply text. Satisfied by vision.Client.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, frame []byte) (string, error)
}

// PositionUpdate is one raw geolocation fix. SpeedMps is nil when the
// provider supplies no instantaneous reading.
type PositionUpdate struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedMps  *float64  `json:"speed_mps,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionSource streams position updates to the speed monitor.
type PositionSource interface {
	Subscribe(ctx context.Context) (<-chan PositionUpdate, error)
}

// maxFrameBytes caps snapshot reads so a misbehaving camera cannot exhaust
// memory.
const maxFrameBytes = 8 * 1024 * 1024

// SnapshotSource fetches frames from an HTTP snapshot camera endpoint.
// Frames are scaled to the configured bound and re-encoded as JPEG before
// they reach the analyzer.
type SnapshotSource struct {
	url        string
	maxWidth   int
	maxHeight  int
	httpClient *http.Client
}

// NewSnapshotSource creates a frame source for the given snapshot URL.
func NewSnapshotSource(url string, maxWidth, maxHeight int) *SnapshotSource {
	return &SnapshotSource{
		url:       url,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Acquire probes the camera once. Authorization failures map to
// *PermissionError so the loop reports them instead of arming.
func (s *SnapshotSource) Acquire(ctx context.Context) error {
	frame, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	if len(frame) == 0 {
		return fmt.Errorf("camera returned an empty frame")
	}
	return nil
}

// Frame fetches the current snapshot.
func (s *SnapshotSource) Frame(ctx context.Context) ([]byte, error) {
	return s.fetch(ctx)
}

// Release is a no-op; the snapshot endpoint holds no session state.
func (s *SnapshotSource) Release() {}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &PermissionError{Resource: "camera", Err: fmt.Errorf("HTTP %d from snapshot endpoint", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("snapshot endpoint returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	frame, err := media.BoundImage(raw, s.maxWidth, s.maxHeight)
	if err != nil {
		return nil, fmt.Errorf("snapshot is not a usable image: %w", err)
	}
	return frame, nil
}

// ChannelPositionSource bridges pushed position fixes (e.g. from the HTTP
// ingest endpoint) into the speed monitor's subscription model.
type ChannelPositionSource struct {
	mu sync.Mutex
	ch chan PositionUpdate
}

// NewChannelPositionSource creates a buffered position source.
func NewChannelPositionSource(buffer int) *ChannelPositionSource {
	return &ChannelPositionSource{ch: make(chan PositionUpdate, buffer)}
}

// Publish feeds one update to subscribers. Updates are dropped when the
// buffer is full; position fixes are perishable.
func (s *ChannelPositionSource) Publish(update PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- update:
	default:
	}
}

// Subscribe returns the update stream.
func (s *ChannelPositionSource) Subscribe(ctx context.Context) (<-chan PositionUpdate, error) {
	return s.ch, nil
}
