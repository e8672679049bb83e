package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier shells out to the platform notifier: osascript on macOS,
// notify-send on Linux. Other platforms are silently unsupported.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates the notifier; disabled instances drop
// everything.
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send shows one desktop notification.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		return exec.Command("notify-send", "--icon", iconFor(n.Severity), n.Title, n.Message).Run()
	default:
		return nil
	}
}

// iconFor maps severities onto freedesktop icon names.
func iconFor(s Severity) string {
	switch s {
	case SeveritySuccess:
		return "emblem-default"
	case SeverityWarning:
		return "dialog-warning"
	case SeverityError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
