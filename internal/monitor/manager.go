package monitor

import (
	"context"
	"sync"

	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// Manager coordinates the two capture sources. Live monitoring and uploaded
// media are mutually exclusive: starting live monitoring clears an active
// upload result, and analyzing an upload stops live monitoring first.
type Manager struct {
	live   *CaptureLoop
	upload *UploadAnalyzer

	mu           sync.Mutex
	uploadResult *detection.DetectionResult
}

// NewManager creates the capture coordinator.
func NewManager(live *CaptureLoop, upload *UploadAnalyzer) *Manager {
	return &Manager{live: live, upload: upload}
}

// StartMonitoring clears any upload result and arms the live loop.
func (m *Manager) StartMonitoring(ctx context.Context) error {
	m.mu.Lock()
	m.uploadResult = nil
	m.mu.Unlock()

	return m.live.Start(ctx)
}

// StopMonitoring disarms the live loop.
func (m *Manager) StopMonitoring() {
	m.live.Stop()
}

// Monitoring reports whether the live loop is armed.
func (m *Manager) Monitoring() bool {
	return m.live.Running()
}

// AnalyzeUpload stops live monitoring if active, then runs the one-shot
// upload pipeline and holds its result as current.
func (m *Manager) AnalyzeUpload(ctx context.Context, data []byte, contentType string) (detection.DetectionResult, error) {
	if m.live.Running() {
		m.live.Stop()
	}

	result, err := m.upload.Analyze(ctx, data, contentType)
	if err != nil {
		return detection.DetectionResult{}, err
	}

	m.mu.Lock()
	m.uploadResult = &result
	m.mu.Unlock()

	return result, nil
}

// CurrentResult returns the live loop's result when monitoring, otherwise
// the last upload result, otherwise nil.
func (m *Manager) CurrentResult() *detection.DetectionResult {
	if live := m.live.CurrentResult(); live != nil {
		return live
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadResult == nil {
		return nil
	}
	result := *m.uploadResult
	return &result
}
