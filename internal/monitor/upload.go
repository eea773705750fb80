package monitor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/lib/detection"
	"github.com/drivewatch/drivewatch/internal/lib/media"
)

// ValidationError rejects an uploaded file before any network work. Unlike
// per-tick analysis failures, it is surfaced to the user directly.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload: %s", e.Reason)
}

// MediaStore persists analyzed media to the opaque backend. Satisfied by
// mediastore.Client. Persistence is best-effort.
type MediaStore interface {
	Store(ctx context.Context, data []byte, contentType string, result detection.DetectionResult) (string, error)
}

var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"video/mp4":  true,
	"video/webm": true,
}

// UploadAnalyzer runs the one-shot uploaded-media pipeline: validate,
// frame, classify, alert, persist. Triggered explicitly by the user rather
// than on a timer.
type UploadAnalyzer struct {
	analyzer   FrameAnalyzer
	parser     *detection.Parser
	dispatcher *alerts.Dispatcher
	extractor  media.FrameExtractor
	store      MediaStore // nil disables persistence
	cfg        config.UploadConfig
	logger     *zap.SugaredLogger
}

// NewUploadAnalyzer creates an upload analyzer.
func NewUploadAnalyzer(analyzer FrameAnalyzer, parser *detection.Parser, dispatcher *alerts.Dispatcher,
	extractor media.FrameExtractor, store MediaStore, cfg config.UploadConfig, logger *zap.SugaredLogger) *UploadAnalyzer {
	return &UploadAnalyzer{
		analyzer:   analyzer,
		parser:     parser,
		dispatcher: dispatcher,
		extractor:  extractor,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

// Analyze validates and classifies one uploaded file. Video frames are
// extracted at the configured seek offset; stills are used directly. Either
// way the frame is scaled to the bounded resolution before encoding.
func (u *UploadAnalyzer) Analyze(ctx context.Context, data []byte, contentType string) (detection.DetectionResult, error) {
	if err := u.validate(data, contentType); err != nil {
		return detection.DetectionResult{}, err
	}

	var frame []byte
	if strings.HasPrefix(contentType, "video/") {
		extracted, err := u.extractor.ExtractFrame(ctx, data, u.cfg.VideoSeekOffset)
		if err != nil {
			return detection.DetectionResult{}, fmt.Errorf("failed to extract video frame: %w", err)
		}
		frame = extracted
	} else {
		frame = data
	}

	frame, err := media.BoundImage(frame, u.cfg.MaxFrameWidth, u.cfg.MaxFrameHeight)
	if err != nil {
		return detection.DetectionResult{}, &ValidationError{Reason: fmt.Sprintf("undecodable media: %v", err)}
	}

	raw, err := u.analyzer.AnalyzeFrame(ctx, frame)
	if err != nil {
		return detection.DetectionResult{}, err
	}

	var result detection.DetectionResult
	obs, err := u.parser.Parse(raw)
	if err != nil {
		result = detection.FallbackResult()
	} else {
		result = detection.Classify(obs)
	}

	u.logger.Infow("Upload analysis complete",
		"content_type", contentType, "state", result.State, "confidence", result.Confidence)

	u.dispatcher.DispatchDetection(ctx, result)

	if u.store != nil {
		if _, err := u.store.Store(ctx, data, contentType, result); err != nil {
			u.logger.Warnw("Failed to persist analyzed media", "error", err)
		}
	}

	return result, nil
}

func (u *UploadAnalyzer) validate(data []byte, contentType string) error {
	if int64(len(data)) > u.cfg.MaxBytes {
		return &ValidationError{Reason: fmt.Sprintf("file exceeds %d byte limit", u.cfg.MaxBytes)}
	}
	if len(data) == 0 {
		return &ValidationError{Reason: "empty file"}
	}
	if !allowedMediaTypes[contentType] {
		return &ValidationError{Reason: fmt.Sprintf("unsupported media type %q", contentType)}
	}
	return nil
}
