package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// Dispatcher fans alerts out to visual and audible channels. Audible
// channels share one cooldown measured from the last audible dispatch, so
// repeated detections do not produce back-to-back spoken interruptions. The
// cooldown clock is independent of the detection cadence; visual channels
// always fire.
type Dispatcher struct {
	threshold float64
	cooldown  time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time

	visual  []Channel
	audible []Channel

	mu            sync.Mutex
	lastAudibleAt time.Time
}

// NewDispatcher creates a dispatcher with the given confidence threshold and
// audible-alert cooldown. Impairment and overspeed alerting use separate
// Dispatcher instances so their cooldowns stay independent.
func NewDispatcher(threshold float64, cooldown time.Duration, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// AddVisualChannel registers a channel that fires on every dispatch.
func (d *Dispatcher) AddVisualChannel(ch Channel) {
	d.visual = append(d.visual, ch)
}

// AddAudibleChannel registers a channel gated by the shared cooldown.
func (d *Dispatcher) AddAudibleChannel(ch Channel) {
	d.audible = append(d.audible, ch)
}

// DispatchDetection sends alerts for an impairment result. No-op when the
// result is below the confidence threshold or carries no impairment flag.
func (d *Dispatcher) DispatchDetection(ctx context.Context, result detection.DetectionResult) {
	if result.Confidence < d.threshold || !result.Impaired() {
		return
	}

	alert := Alert{
		Kind:       KindImpairment,
		State:      result.State,
		Confidence: result.Confidence,
		Indicators: result.Indicators,
		Message:    SpokenMessage(result.State),
		Color:      OverlayColor(result.State),
		Tag:        TagImpairment,
		IssuedAt:   d.now(),
	}
	d.dispatch(ctx, alert)
}

// DispatchOverspeed sends alerts for a speed reading that exceeds the posted
// limit. Threshold logic lives with the speed monitor; this only fans out.
func (d *Dispatcher) DispatchOverspeed(ctx context.Context, speedMph, limitMph float64) {
	alert := Alert{
		Kind:       KindOverspeed,
		State:      detection.StateNormal,
		Confidence: 100,
		Message: fmt.Sprintf("You are driving %.0f miles per hour in a %.0f zone. Please slow down.",
			speedMph, limitMph),
		Color:    "red",
		Tag:      TagOverspeed,
		IssuedAt: d.now(),
	}
	d.dispatch(ctx, alert)
}

func (d *Dispatcher) dispatch(ctx context.Context, alert Alert) {
	var errs error

	for _, ch := range d.visual {
		if err := ch.Notify(ctx, alert); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}

	if d.audibleAllowed() {
		for _, ch := range d.audible {
			if err := ch.Notify(ctx, alert); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			}
		}
	}

	if errs != nil {
		d.logger.Warnw("Some alert channels failed", "kind", alert.Kind, "error", errs)
	}
}

// audibleAllowed checks and arms the shared cooldown in one step.
func (d *Dispatcher) audibleAllowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.lastAudibleAt.IsZero() && now.Sub(d.lastAudibleAt) < d.cooldown {
		return false
	}
	d.lastAudibleAt = now
	return true
}
