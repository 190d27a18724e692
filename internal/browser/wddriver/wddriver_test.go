package wddriver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium/chrome"

	"github.com/gotrs-io/shopwalk/internal/browser"
)

func TestCapabilities(t *testing.T) {
	opts := browser.DefaultLaunchOptions()
	opts.ExecPath = "/usr/bin/chromium"

	caps := Capabilities(opts)
	assert.Equal(t, "chrome", caps["browserName"])

	chromeCaps, ok := caps[chrome.CapabilitiesKey].(chrome.Capabilities)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/chromium", chromeCaps.Path)
	assert.Contains(t, chromeCaps.Args, "--no-sandbox")
	assert.Contains(t, chromeCaps.Args, "--window-size=1920,1080")

	opts.BrowserName = "firefox"
	caps = Capabilities(opts)
	assert.Equal(t, "firefox", caps["browserName"])
	_, ok = caps[chrome.CapabilitiesKey]
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(errors.New("stale element reference: element is not attached")), browser.ErrStaleElement)
	assert.ErrorIs(t, classify(errors.New("invalid session id")), browser.ErrSessionClosed)
	assert.ErrorIs(t, classify(errors.New("no such window: target window already closed")), browser.ErrSessionClosed)

	other := errors.New("element click intercepted")
	assert.Equal(t, other, classify(other))
}
