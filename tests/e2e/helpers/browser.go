package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/credentials"
	"github.com/gotrs-io/shopwalk/internal/diagnostics"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/journey"
	"github.com/gotrs-io/shopwalk/internal/launcher"
	"github.com/gotrs-io/shopwalk/internal/locator"
	"github.com/gotrs-io/shopwalk/internal/storage"
	"github.com/gotrs-io/shopwalk/tests/e2e/config"
)

// BrowserHelper owns one browser session and the harness over it.
type BrowserHelper struct {
	Config      *config.TestConfig
	Session     browser.Session
	Harness     *harness.Harness
	Catalog     *locator.Catalog
	Artifacts   *storage.MemoryBackend
	Credentials credentials.Credentials
	Logger      *zap.Logger
	t           *testing.T
}

// NewBrowserHelper skips the test when the storefront is not reachable or
// when running with -short.
func NewBrowserHelper(t *testing.T) *BrowserHelper {
	t.Helper()
	if testing.Short() {
		t.Skip("live journey test skipped in short mode")
	}
	cfg := config.GetConfig()
	if !cfg.Reachable {
		t.Skipf("storefront %s is not reachable: %v", cfg.Harness.BaseURL, cfg.ProbeError)
	}
	return &BrowserHelper{
		Config:      cfg,
		Artifacts:   storage.NewMemoryBackend(),
		Credentials: cfg.Generator().Generate(),
		Logger:      zaptest.NewLogger(t),
		t:           t,
	}
}

// Setup launches the configured driver and builds the harness.
func (b *BrowserHelper) Setup(ctx context.Context) error {
	cat := locator.Default()
	if b.Config.Catalog.Path != "" {
		loaded, err := locator.LoadFile(b.Config.Catalog.Path)
		if err != nil {
			return err
		}
		cat = loaded
	}
	b.Catalog = cat

	session, err := launcher.Open(ctx, b.Config.Browser, b.Logger)
	if err != nil {
		return err
	}
	b.Session = session
	capturer := diagnostics.NewCapturer(b.Artifacts, b.t.Name(), b.Logger)
	b.Harness = harness.New(session, b.Config.Harness,
		harness.WithLogger(b.Logger),
		harness.WithCapturer(capturer))
	return nil
}

// MustSetup is Setup failing the test on error, with TearDown registered
// as cleanup.
func (b *BrowserHelper) MustSetup() context.Context {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	b.t.Cleanup(cancel)
	require.NoError(b.t, b.Setup(ctx), "failed to open browser session")
	b.t.Cleanup(b.TearDown)
	return ctx
}

// TearDown logs the stored artifacts of a failed test and closes the
// session.
func (b *BrowserHelper) TearDown() {
	if b.t.Failed() {
		refs, err := b.Artifacts.List(context.Background(), b.t.Name())
		if err == nil {
			for _, ref := range refs {
				b.t.Logf("artifact: %s (%d bytes)", ref.Location, ref.Size)
			}
		}
	}
	if b.Harness != nil {
		_ = b.Harness.Close()
	}
}

// JourneyConfig is the run configuration with this helper's credentials.
func (b *BrowserHelper) JourneyConfig() journey.Config {
	return b.Config.JourneyConfig(b.Credentials)
}

// Journey builds a journey over the helper's harness limited to steps.
func (b *BrowserHelper) Journey(cfg journey.Config, steps ...journey.Step) *journey.Journey {
	b.t.Helper()
	j, err := journey.New(b.Harness, b.Catalog, cfg,
		journey.WithLogger(b.Logger),
		journey.WithRunID(b.t.Name()),
		journey.WithSteps(steps))
	require.NoError(b.t, err)
	return j
}

// NavigateTo opens a path relative to the base URL.
func (b *BrowserHelper) NavigateTo(ctx context.Context, path string) error {
	return b.Harness.Navigate(ctx, path)
}
