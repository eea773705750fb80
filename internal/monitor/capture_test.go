package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/clients/vision"
	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// fakeSource serves a fixed frame and records acquisition state.
type fakeSource struct {
	mu         sync.Mutex
	frame      []byte
	acquireErr error
	acquired   bool
	released   bool
}

func (s *fakeSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return s.acquireErr
	}
	s.acquired = true
	return nil
}

func (s *fakeSource) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}

func (s *fakeSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

func (s *fakeSource) wasReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// fakeAnalyzer returns scripted replies in order, repeating the last one.
// A non-nil block channel stalls every call until it is closed.
type fakeAnalyzer struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	block   chan struct{}
}

func (a *fakeAnalyzer) AnalyzeFrame(ctx context.Context, frame []byte) (string, error) {
	a.mu.Lock()
	i := a.calls
	a.calls++
	block := a.block
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if i >= len(a.replies) {
		i = len(a.replies) - 1
	}
	if err := a.errs[i]; err != nil {
		return "", err
	}
	return a.replies[i], nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// countingChannel counts alert deliveries.
type countingChannel struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (c *countingChannel) Name() string { return "counting" }

func (c *countingChannel) Notify(ctx context.Context, alert alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func newRecordingDispatcher() (*alerts.Dispatcher, *countingChannel) {
	d := alerts.NewDispatcher(30, time.Minute, zap.NewNop().Sugar())
	ch := &countingChannel{}
	d.AddVisualChannel(ch)
	return d, ch
}

func fastMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		WarmupDelay:      time.Millisecond,
		AnalysisInterval: 10 * time.Millisecond,
		CaptureJitter:    0,
		RetryDelay:       time.Millisecond,
		MaxRetries:       1,
	}
}

func newTestLoop(source FrameSource, analyzer FrameAnalyzer) (*CaptureLoop, *countingChannel) {
	dispatcher, ch := newRecordingDispatcher()
	parser := detection.NewParser(zap.NewNop().Sugar())
	loop := NewCaptureLoop(source, analyzer, parser, dispatcher, fastMonitorConfig(), zap.NewNop().Sugar())
	return loop, ch
}

func TestCaptureLoop_AcquireFailureIsPermissionError(t *testing.T) {
	source := &fakeSource{acquireErr: errors.New("device busy")}
	analyzer := &fakeAnalyzer{replies: []string{""}, errs: []error{nil}}
	loop, _ := newTestLoop(source, analyzer)

	err := loop.Start(context.Background())
	require.Error(t, err)

	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "camera", perm.Resource)
	assert.False(t, loop.Running(), "a failed acquisition must not arm the loop")
}

func TestCaptureLoop_DoubleStartRejected(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{replies: []string{`{"confidence":90}`}, errs: []error{nil}}
	loop, _ := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	assert.Error(t, loop.Start(context.Background()))
}

func TestCaptureLoop_AnalyzesAndStoresResult(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{`{"eyesClosed":true,"confidence":90}`},
		errs:    []error{nil},
	}
	loop, ch := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)

	result := loop.CurrentResult()
	assert.Equal(t, detection.StateSleepy, result.State)
	assert.True(t, result.IsSleepy)
	assert.Equal(t, 90.0, result.Confidence)

	require.Eventually(t, func() bool { return ch.count() >= 1 }, time.Second, time.Millisecond)
}

func TestCaptureLoop_TransportErrorRetriedOnce(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{"", `{"eyesRed":true,"eyesGlassy":true,"faceRed":true,"confidence":85}`},
		errs:    []error{&vision.TransportError{Err: errors.New("timeout")}, nil},
	}
	loop, _ := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)

	assert.Equal(t, detection.StateDrunk, loop.CurrentResult().State)
	assert.GreaterOrEqual(t, analyzer.callCount(), 2)
}

func TestCaptureLoop_RefusalNotRetried(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{""},
		errs:    []error{&vision.RefusalError{Message: "cannot analyze"}},
	}
	loop, ch := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return analyzer.callCount() >= 1 }, time.Second, time.Millisecond)

	// Give the retry window time to elapse; a refusal must not trigger a
	// second attempt within the same tick.
	time.Sleep(5 * time.Millisecond)
	firstTickCalls := analyzer.callCount()
	assert.LessOrEqual(t, firstTickCalls, 2, "refusal retried within a tick")

	assert.Nil(t, loop.CurrentResult())
	assert.Equal(t, 0, ch.count())
}

func TestCaptureLoop_ParseFailureStoresFallback(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{"I could not make out the driver at all."},
		errs:    []error{nil},
	}
	loop, ch := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)

	result := loop.CurrentResult()
	assert.Equal(t, detection.StateNormal, result.State)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, []string{detection.FallbackSentinel}, result.Indicators)
	assert.Equal(t, 0, ch.count(), "fallback results never alert")
}

func TestCaptureLoop_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{`{"confidence":90}`},
		errs:    []error{nil},
		block:   block,
	}
	loop, _ := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return analyzer.callCount() == 1 }, time.Second, time.Millisecond)

	// Several intervals pass while the first analysis is stalled; ticks in
	// that window must not start a second one.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, analyzer.callCount())

	close(block)
	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)
}

func TestCaptureLoop_StopDiscardsInFlightResult(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{
		replies: []string{`{"eyesClosed":true,"confidence":90}`},
		errs:    []error{nil},
		block:   block,
	}
	loop, ch := newTestLoop(source, analyzer)

	// Background context so Stop's cancellation is the only thing that can
	// interrupt the stalled call.
	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return analyzer.callCount() == 1 }, time.Second, time.Millisecond)

	loop.Stop()
	close(block)

	// The in-flight analysis belongs to a dead generation; its result must
	// never surface.
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, loop.CurrentResult())
	assert.False(t, loop.Running())
	assert.True(t, source.wasReleased())
	assert.Equal(t, 0, ch.count())
}

func TestCaptureLoop_UnchangedFrameSkipsAnalysis(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-static")}
	analyzer := &fakeAnalyzer{
		replies: []string{`{"confidence":90}`},
		errs:    []error{nil},
	}
	loop, _ := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)

	// The source keeps serving the identical frame; later ticks should hash
	// it, notice no change and skip the API call.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, analyzer.callCount())
}

func TestCaptureLoop_StopClearsResultAndIsIdempotent(t *testing.T) {
	source := &fakeSource{frame: []byte("frame-1")}
	analyzer := &fakeAnalyzer{replies: []string{`{"confidence":90}`}, errs: []error{nil}}
	loop, _ := newTestLoop(source, analyzer)

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool {
		return loop.CurrentResult() != nil
	}, time.Second, time.Millisecond)

	loop.Stop()
	assert.Nil(t, loop.CurrentResult())

	loop.Stop() // second stop is a no-op
	assert.False(t, loop.Running())
}
