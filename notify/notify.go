// Package notify delivers safety notifications for scan decisions.
package notify

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/scan"
	"github.com/signscan/signscan/signs"
)

const (
	// Tag groups safety notifications so a new one replaces the previous one.
	Tag = "safety-scan-tag"

	activeTitle = "Safety Alerts Active"
	activeBody  = "System is ready to warn you."
)

// VibratePattern is the vibrate/pause pattern, in milliseconds, attached to every notification.
var VibratePattern = []int{200, 100, 200}

var (
	// ErrUnsupported is returned when notifications cannot be shown at all.
	ErrUnsupported = errors.New("notifications are not supported")
	// ErrPermissionDenied is returned when the user refused notifications.
	ErrPermissionDenied = errors.New("notification permission denied")
)

// Permission is the user's answer to showing notifications.
type Permission int

const (
	// PermissionDefault means the user has not been asked yet.
	PermissionDefault Permission = iota
	// PermissionGranted means notifications may be shown.
	PermissionGranted
	// PermissionDenied means notifications are blocked.
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// PermissionRequester reports and asks for notification permission.
type PermissionRequester interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// StaticPermission is a PermissionRequester with a fixed answer.
type StaticPermission Permission

// Permission returns the fixed answer.
func (p StaticPermission) Permission() Permission {
	return Permission(p)
}

// RequestPermission returns the fixed answer.
func (p StaticPermission) RequestPermission(ctx context.Context) (Permission, error) {
	return Permission(p), nil
}

// Notification is a message ready to be shown.
type Notification struct {
	Title    string
	Body     string
	Icon     string
	Image    string
	Vibrate  []int
	Tag      string
	Renotify bool
}

// A Sink shows notifications.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Compose builds the safety notification for a label and formatted confidence.
func Compose(label, confidence string) Notification {
	md := signs.MetadataFor(label)
	title := md.Title
	if title == "" {
		title = "Detected: " + label
	}
	return Notification{
		Title:    title,
		Body:     md.Body + "\n(Confidence: " + confidence + ")",
		Icon:     signs.AppIcon,
		Image:    md.ImageRef,
		Vibrate:  append([]int{}, VibratePattern...),
		Tag:      Tag,
		Renotify: true,
	}
}

// Notifier sends safety notifications when the user has switched them on and granted permission.
type Notifier struct {
	logger     logging.Logger
	permission PermissionRequester
	primary    Sink
	fallback   Sink

	mu      sync.Mutex
	enabled bool
}

// NewNotifier returns a notifier delivering to primary and, when that fails, to fallback. Either
// sink may be nil. A notifier that was enabled before starts enabled only if permission is still
// granted.
func NewNotifier(
	enabled bool,
	permission PermissionRequester,
	primary, fallback Sink,
	logger logging.Logger,
) *Notifier {
	n := &Notifier{logger: logger, permission: permission, primary: primary, fallback: fallback}
	n.enabled = enabled && n.currentPermission() == PermissionGranted
	return n
}

func (n *Notifier) currentPermission() Permission {
	if n.permission == nil {
		return PermissionDenied
	}
	return n.permission.Permission()
}

// Enabled reports whether safety notifications are switched on.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// SetEnabled switches notifications on or off. Switching on asks for permission when it has not
// been given yet and sends a test notification once it is.
func (n *Notifier) SetEnabled(ctx context.Context, on bool) error {
	if !on {
		n.mu.Lock()
		n.enabled = false
		n.mu.Unlock()
		n.logger.CInfow(ctx, "safety notifications disabled")
		return nil
	}
	if n.permission == nil || (n.primary == nil && n.fallback == nil) {
		return ErrUnsupported
	}

	switch n.permission.Permission() {
	case PermissionDenied:
		return errors.Wrap(ErrPermissionDenied, "enable notifications in the system settings")
	case PermissionGranted:
	default:
		answer, err := n.permission.RequestPermission(ctx)
		if err != nil {
			return errors.Wrap(err, "cannot request notification permission")
		}
		if answer != PermissionGranted {
			return ErrPermissionDenied
		}
	}

	n.mu.Lock()
	n.enabled = true
	n.mu.Unlock()
	n.logger.CInfow(ctx, "safety notifications enabled")

	return n.deliver(ctx, Notification{Title: activeTitle, Body: activeBody, Icon: signs.AppIcon})
}

// Notify sends the safety notification for a label. It does nothing while notifications are off
// or permission is missing.
func (n *Notifier) Notify(ctx context.Context, label, confidence string) error {
	if !n.Enabled() {
		n.logger.CDebugw(ctx, "notification skipped, safety mode is off", "label", label)
		return nil
	}
	if n.currentPermission() != PermissionGranted {
		n.logger.CDebugw(ctx, "notification skipped, permission not granted", "label", label)
		return nil
	}
	return n.deliver(ctx, Compose(label, confidence))
}

// NotifyDecision sends the safety notification of a scan decision.
func (n *Notifier) NotifyDecision(ctx context.Context, d scan.Decision) error {
	return n.Notify(ctx, d.Label, d.ConfidenceString)
}

func (n *Notifier) deliver(ctx context.Context, note Notification) error {
	var primaryErr error
	if n.primary != nil {
		if primaryErr = n.primary.Deliver(ctx, note); primaryErr == nil {
			return nil
		}
		if n.fallback == nil {
			return primaryErr
		}
		n.logger.CWarnw(ctx, "notification delivery failed, trying fallback", "error", primaryErr)
	}
	if n.fallback == nil {
		return ErrUnsupported
	}
	fallbackErr := n.fallback.Deliver(ctx, note)
	if fallbackErr == nil {
		return nil
	}
	return multierr.Combine(errors.Wrap(primaryErr, "primary"), errors.Wrap(fallbackErr, "fallback"))
}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger logging.Logger
}

// Deliver logs the notification at info level.
func (s LogSink) Deliver(ctx context.Context, note Notification) error {
	s.Logger.CInfow(ctx, note.Title, "body", note.Body, "tag", note.Tag)
	return nil
}
