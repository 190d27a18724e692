// Package browser defines the automation boundary between the harness and a
// concrete browser driver. Drivers live in subpackages; the harness only ever
// sees Session and Element.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotrs-io/shopwalk/internal/locator"
)

// ReadyState mirrors document.readyState.
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// ErrSessionClosed is returned by every Session method after Close.
var ErrSessionClosed = errors.New("browser session closed")

// ErrStaleElement is returned when an element has been detached from the
// document since it was resolved.
var ErrStaleElement = errors.New("stale element reference")

// Session is one live browser instance under automated control.
//
// Implementations are not required to be safe for concurrent use; the
// harness drives a session from a single goroutine.
type Session interface {
	// Navigate loads url and returns once the driver reports the navigation
	// committed. It does not wait for the page to settle.
	Navigate(ctx context.Context, url string) error
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// ReadyState returns document.readyState.
	ReadyState(ctx context.Context) (ReadyState, error)
	// FindAll evaluates loc against the current DOM. No match is not an
	// error and yields an empty slice.
	FindAll(ctx context.Context, loc locator.Locator) ([]Element, error)
	// Screenshot returns a PNG of the viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Close releases the browser. It is safe to call more than once.
	Close() error
}

// Element is a handle to a resolved DOM node. Handles are only valid for the
// Session that produced them and may go stale when the page re-renders.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	// ScrollIntoView centres the element in the viewport.
	ScrollIntoView(ctx context.Context) error
	// Clear empties an input or textarea value.
	Clear(ctx context.Context) error
	// Type sends text one character at a time.
	Type(ctx context.Context, text string) error
	// Click dispatches a native pointer click.
	Click(ctx context.Context) error
	// ScriptClick calls el.click() from page script, bypassing overlays.
	ScriptClick(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	// Describe returns a short human-readable summary for diagnostics.
	Describe(ctx context.Context) string
}

// LaunchOptions configure a new Session.
type LaunchOptions struct {
	Driver   string `mapstructure:"driver"`
	Headless bool   `mapstructure:"headless"`
	Width    int    `mapstructure:"width"`
	Height   int    `mapstructure:"height"`

	DisableGPU           bool `mapstructure:"disable_gpu"`
	NoSandbox            bool `mapstructure:"no_sandbox"`
	DisableDevShmUsage   bool `mapstructure:"disable_dev_shm_usage"`
	DisableNotifications bool `mapstructure:"disable_notifications"`

	SlowMo time.Duration `mapstructure:"slow_mo"`
	// RemoteURL points at a WebDriver hub or a DevTools websocket, depending
	// on the driver.
	RemoteURL      string        `mapstructure:"remote_url"`
	ExecPath       string        `mapstructure:"exec_path"`
	BrowserName    string        `mapstructure:"browser_name"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout"`
	InstallBrowser bool          `mapstructure:"install_browser"`
}

// DefaultLaunchOptions returns the options used when nothing is configured.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Driver:               "chromedp",
		Headless:             true,
		Width:                1920,
		Height:               1080,
		DisableGPU:           true,
		NoSandbox:            true,
		DisableDevShmUsage:   true,
		DisableNotifications: true,
		BrowserName:          "chrome",
		ActionTimeout:        10 * time.Second,
	}
}

// ChromeArgs renders the command-line switches shared by every Chromium
// based driver.
func (o LaunchOptions) ChromeArgs() []string {
	var args []string
	if o.DisableGPU {
		args = append(args, "--disable-gpu")
	}
	if o.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	if o.DisableDevShmUsage {
		args = append(args, "--disable-dev-shm-usage")
	}
	if o.DisableNotifications {
		args = append(args, "--disable-notifications")
	}
	if o.Width > 0 && o.Height > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.Width, o.Height))
	}
	if o.Headless {
		args = append(args, "--headless=new")
	}
	return args
}
