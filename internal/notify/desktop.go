package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/urbanpulse/citypulse/internal/models"
)

// ErrDesktopUnavailable is returned when no desktop notification tool exists
// on this host. The dispatcher treats it like any other send failure.
var ErrDesktopUnavailable = fmt.Errorf("desktop notifications unavailable")

// Test seams for the exec boundary.
var (
	lookPath      = exec.LookPath
	runNotifyTool = func(ctx context.Context, name string, args ...string) error {
		return exec.CommandContext(ctx, name, args...).Run()
	}
)

// DesktopNotifier delivers notifications through the host desktop
// environment: notify-send on Linux, osascript on macOS. The delivery tool
// is probed once, lazily, on the first send, so a headless host costs one
// PATH lookup and nothing more.
type DesktopNotifier struct {
	probeOnce sync.Once
	tool      string
	available bool
}

// NewDesktopNotifier creates a desktop notifier. No probing happens here.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{}
}

// Name returns "desktop".
func (d *DesktopNotifier) Name() string {
	return "desktop"
}

func (d *DesktopNotifier) probe() {
	switch runtime.GOOS {
	case "linux":
		if _, err := lookPath("notify-send"); err == nil {
			d.tool = "notify-send"
			d.available = true
		}
	case "darwin":
		if _, err := lookPath("osascript"); err == nil {
			d.tool = "osascript"
			d.available = true
		}
	}
}

// Send shows the notification on the desktop.
func (d *DesktopNotifier) Send(ctx context.Context, n Notification) error {
	d.probeOnce.Do(d.probe)
	if !d.available {
		return ErrDesktopUnavailable
	}

	title := fmt.Sprintf("CityPulse %s: %s", n.Scope, n.Title)
	switch d.tool {
	case "notify-send":
		urgency := "normal"
		if n.Severity == models.SeverityCritical {
			urgency = "critical"
		}
		return runNotifyTool(ctx, d.tool, "--app-name=CityPulse", "--urgency="+urgency, title, n.Body)
	case "osascript":
		script := fmt.Sprintf("display notification %q with title %q", n.Body, title)
		return runNotifyTool(ctx, d.tool, "-e", script)
	default:
		return ErrDesktopUnavailable
	}
}

// Close is a no-op for the desktop notifier.
func (d *DesktopNotifier) Close() error {
	return nil
}
