package monitor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/clients/vision"
	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// CaptureLoop runs the timer-driven capture-analyze-alert cycle for the
// live camera. Timers and last-result state live on the loop object: armed
// on Start, torn down on Stop, never reused across sessions.
//
// Scheduling is timer-driven, not request-driven: a slow analysis does not
// shift subsequent ticks, and ticks that land while an analysis is in
// flight are suppressed (single-flight).
type CaptureLoop struct {
	source     FrameSource
	analyzer   FrameAnalyzer
	parser     *detection.Parser
	dispatcher *alerts.Dispatcher
	cfg        config.MonitorConfig
	logger     *zap.SugaredLogger

	mu            sync.Mutex
	running       bool
	inFlight      bool
	generation    int
	current       *detection.DetectionResult
	lastFrameHash [32]byte
	cancel        context.CancelFunc
}

// NewCaptureLoop creates a capture loop. It does nothing until Start.
func NewCaptureLoop(source FrameSource, analyzer FrameAnalyzer, parser *detection.Parser,
	dispatcher *alerts.Dispatcher, cfg config.MonitorConfig, logger *zap.SugaredLogger) *CaptureLoop {
	return &CaptureLoop{
		source:     source,
		analyzer:   analyzer,
		parser:     parser,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start acquires the camera and arms the analysis schedule: first analysis
// after the warm-up delay, then one per analysis interval. A failed
// acquisition surfaces as *PermissionError and the loop does not arm.
func (l *CaptureLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("monitoring already active")
	}
	l.running = true
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	if err := l.source.Acquire(ctx); err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()

		var perm *PermissionError
		if errors.As(err, &perm) {
			return err
		}
		return &PermissionError{Resource: "camera", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	go l.run(runCtx, gen)

	l.logger.Infow("Monitoring started",
		"warmup", l.cfg.WarmupDelay, "interval", l.cfg.AnalysisInterval)
	return nil
}

// Stop synchronously cancels the schedule, releases the camera and clears
// the current result. An in-flight analysis is allowed to finish; the
// generation bump makes its result land in the void.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.generation++
	l.current = nil
	l.lastFrameHash = [32]byte{}
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.source.Release()
	l.logger.Infow("Monitoring stopped")
}

// Running reports whether the loop is armed.
func (l *CaptureLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// CurrentResult returns the most recent classification, or nil before the
// first analysis or after Stop.
func (l *CaptureLoop) CurrentResult() *detection.DetectionResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	result := *l.current
	return &result
}

func (l *CaptureLoop) run(ctx context.Context, gen int) {
	warmup := time.NewTimer(l.cfg.WarmupDelay)
	defer warmup.Stop()

	select {
	case <-ctx.Done():
		return
	case <-warmup.C:
	}
	l.tick(ctx, gen)

	ticker := time.NewTicker(l.cfg.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, gen)
		}
	}
}

// tick starts one analysis cycle unless one is already in flight, in which
// case the tick is a no-op.
func (l *CaptureLoop) tick(ctx context.Context, gen int) {
	l.mu.Lock()
	if l.inFlight || !l.running || gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.inFlight = true
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.inFlight = false
			l.mu.Unlock()
		}()
		l.analyzeOnce(ctx, gen)
	}()
}

func (l *CaptureLoop) analyzeOnce(ctx context.Context, gen int) {
	// Short random delay so frame captures are not exactly periodic.
	if l.cfg.CaptureJitter > 0 {
		jitter := time.Duration(rand.Int63n(int64(l.cfg.CaptureJitter)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}

	frame, err := l.source.Frame(ctx)
	if err != nil {
		l.logger.Warnw("Frame capture failed; keeping previous result", "error", err)
		return
	}

	hash := sha256.Sum256(frame)
	l.mu.Lock()
	duplicate := hash == l.lastFrameHash && l.current != nil
	l.mu.Unlock()
	if duplicate {
		l.logger.Debugw("Frame unchanged since last analysis; skipping")
		return
	}

	raw, err := l.analyzeWithRetry(ctx, frame)
	if err != nil {
		var refusal *vision.RefusalError
		if errors.As(err, &refusal) {
			l.logger.Warnw("Model declined to analyze frame", "reason", refusal.Message)
		} else {
			// No user-facing error for per-tick failures; repeated error
			// toasts cause alert fatigue. Previous result stays current.
			l.logger.Warnw("Frame analysis failed; keeping previous result", "error", err)
		}
		return
	}

	var result detection.DetectionResult
	obs, err := l.parser.Parse(raw)
	if err != nil {
		result = detection.FallbackResult()
	} else {
		result = detection.Classify(obs)
	}

	l.mu.Lock()
	if gen != l.generation {
		// Stopped while the request was in flight; discard.
		l.mu.Unlock()
		return
	}
	l.current = &result
	l.lastFrameHash = hash
	l.mu.Unlock()

	l.logger.Infow("Analysis complete",
		"state", result.State, "confidence", result.Confidence, "indicators", result.Indicators)

	l.dispatcher.DispatchDetection(ctx, result)
}

// analyzeWithRetry wraps the vision call in the bounded retry policy:
// transport errors retry after a fixed delay, refusals do not.
func (l *CaptureLoop) analyzeWithRetry(ctx context.Context, frame []byte) (string, error) {
	backoff := retry.WithMaxRetries(uint64(l.cfg.MaxRetries), retry.NewConstant(l.cfg.RetryDelay))

	var raw string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reply, err := l.analyzer.AnalyzeFrame(ctx, frame)
		if err != nil {
			var transport *vision.TransportError
			if errors.As(err, &transport) {
				return retry.RetryableError(err)
			}
			return err
		}
		raw = reply
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("analysis failed after retries: %w", err)
	}
	return raw, nil
}
