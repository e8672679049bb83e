// Package notify delivers selected bus events to user-facing channels:
// the desktop notifier and a Slack webhook. Delivery is best effort; a
// failed send is logged by the caller and never retried.
package notify

import "errors"

// Severity drives per-channel styling: Slack attachment colors, desktop
// icons.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

// Notification is one user-facing message.
type Notification struct {
	Title    string
	Message  string
	Severity Severity
	// TaskID and MRURL give channels something to reference when set.
	TaskID string
	MRURL  string
}

// Notifier delivers one notification to one channel.
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier fans one notification out to every configured channel.
// A failing channel does not stop the others.
type MultiNotifier struct {
	channels []Notifier
}

// NewMultiNotifier combines channels into one Notifier.
func NewMultiNotifier(channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

// Send delivers to all channels and joins their errors.
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, c := range m.channels {
		if err := c.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier drops everything. Stands in when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) Send(Notification) error { return nil }
