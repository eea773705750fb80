package alerts

import (
	"context"
	"time"

	"github.com/drivewatch/drivewatch/internal/lib/detection"
)

// Kind distinguishes the two alert classes, each with its own cooldown.
type Kind string

const (
	KindImpairment Kind = "impairment"
	KindOverspeed  Kind = "overspeed"
)

// Notification dedupe tags. Repeated notifications with the same tag replace
// rather than stack.
const (
	TagImpairment = "drivewatch-impairment"
	TagOverspeed  = "drivewatch-overspeed"
)

// Alert is the payload fanned out to every channel.
type Alert struct {
	Kind       Kind                      `json:"kind"`
	State      detection.ImpairmentState `json:"state"`
	Confidence float64                   `json:"confidence"`
	Indicators []string                  `json:"indicators,omitempty"`
	Message    string                    `json:"message"`
	Color      string                    `json:"color"`
	Tag        string                    `json:"tag"`
	IssuedAt   time.Time                 `json:"issued_at"`
}

// Channel delivers an alert on one surface. Implementations are best-effort:
// a failing channel must not abort the others.
type Channel interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// OverlayColor maps an impairment state to its display color.
func OverlayColor(state detection.ImpairmentState) string {
	switch state {
	case detection.StateDrunk:
		return "red"
	case detection.StateSleepy:
		return "orange"
	case detection.StateDistracted:
		return "yellow"
	default:
		return "none"
	}
}

// SpokenMessage names the detected state and advises pulling over.
func SpokenMessage(state detection.ImpairmentState) string {
	switch state {
	case detection.StateDrunk:
		return "Warning. Signs of intoxication detected. Please pull over safely."
	case detection.StateSleepy:
		return "Warning. Drowsiness detected. Please pull over and rest."
	case detection.StateDistracted:
		return "Warning. Distraction detected. Please keep your eyes on the road."
	default:
		return ""
	}
}
