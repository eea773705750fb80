package alerts

import (
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// OverlayChannel drives the color-coded border overlay in the client UI.
type OverlayChannel struct {
	hub *Hub
}

// NewOverlayChannel creates the overlay channel backed by the websocket hub.
func NewOverlayChannel(hub *Hub) *OverlayChannel {
	return &OverlayChannel{hub: hub}
}

func (c *OverlayChannel) Name() string { return "overlay" }

func (c *OverlayChannel) Notify(ctx context.Context, alert Alert) error {
	return c.hub.Broadcast(struct {
		Type  string `json:"type"`
		State string `json:"state"`
		Color string `json:"color"`
	}{Type: "overlay", State: string(alert.State), Color: alert.Color})
}

// ToastChannel shows a transient message in the client UI.
type ToastChannel struct {
	hub *Hub
}

// NewToastChannel creates the toast channel backed by the websocket hub.
func NewToastChannel(hub *Hub) *ToastChannel {
	return &ToastChannel{hub: hub}
}

func (c *ToastChannel) Name() string { return "toast" }

func (c *ToastChannel) Notify(ctx context.Context, alert Alert) error {
	return c.hub.Broadcast(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Kind    string `json:"kind"`
	}{Type: "toast", Message: alert.Message, Kind: string(alert.Kind)})
}

// NotificationChannel raises a system notification. Delivery only happens
// when platform permission was previously granted; the fixed tag makes
// repeated notifications replace rather than stack.
type NotificationChannel struct {
	hub     *Hub
	granted bool
}

// NewNotificationChannel creates the notification channel. granted reflects
// whether the platform notification permission was previously granted.
func NewNotificationChannel(hub *Hub, granted bool) *NotificationChannel {
	return &NotificationChannel{hub: hub, granted: granted}
}

func (c *NotificationChannel) Name() string { return "notification" }

func (c *NotificationChannel) Notify(ctx context.Context, alert Alert) error {
	if !c.granted {
		return nil
	}
	return c.hub.Broadcast(struct {
		Type    string `json:"type"`
		Tag     string `json:"tag"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}{Type: "notification", Tag: alert.Tag, Title: "DriveWatch Alert", Message: alert.Message})
}

// SpeechChannel speaks the alert via an external synthesizer command
// (espeak, say, etc). Audible, so the dispatcher gates it by cooldown.
type SpeechChannel struct {
	command string
	args    []string
}

// NewSpeechChannel creates a speech channel that runs the given command
// with the alert message appended to args.
func NewSpeechChannel(command string, args []string) *SpeechChannel {
	return &SpeechChannel{command: command, args: args}
}

func (c *SpeechChannel) Name() string { return "speech" }

func (c *SpeechChannel) Notify(ctx context.Context, alert Alert) error {
	if alert.Message == "" {
		return nil
	}
	args := append(append([]string{}, c.args...), alert.Message)
	return exec.CommandContext(ctx, c.command, args...).Run()
}

// LogChannel records alerts in the structured log. Always registered so
// headless runs keep an audit trail.
type LogChannel struct {
	logger *zap.SugaredLogger
}

// NewLogChannel creates the log channel.
func NewLogChannel(logger *zap.SugaredLogger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Notify(ctx context.Context, alert Alert) error {
	c.logger.Infow("Alert dispatched",
		"kind", alert.Kind,
		"state", alert.State,
		"confidence", alert.Confidence,
		"indicators", alert.Indicators,
		"message", alert.Message,
	)
	return nil
}
