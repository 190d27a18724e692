// Package launcher opens the browser session selected by configuration.
package launcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/browser/cdpdriver"
	"github.com/gotrs-io/shopwalk/internal/browser/pwdriver"
	"github.com/gotrs-io/shopwalk/internal/browser/wddriver"
)

// OpenFunc starts a session for one driver.
type OpenFunc func(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (browser.Session, error)

var drivers = map[string]OpenFunc{
	cdpdriver.Name: func(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (browser.Session, error) {
		return cdpdriver.Launch(ctx, opts, logger)
	},
	pwdriver.Name: func(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (browser.Session, error) {
		return pwdriver.Launch(ctx, opts, logger)
	},
	wddriver.Name: func(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (browser.Session, error) {
		return wddriver.Launch(ctx, opts, logger)
	},
}

var aliases = map[string]string{
	"cdp":      cdpdriver.Name,
	"chrome":   cdpdriver.Name,
	"pw":       pwdriver.Name,
	"selenium": wddriver.Name,
	"wd":       wddriver.Name,
}

// Resolve maps a configured driver name, or one of its aliases, to the
// canonical name.
func Resolve(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return cdpdriver.Name, nil
	}
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	if _, ok := drivers[name]; !ok {
		return "", fmt.Errorf("unknown browser driver %q (available: %s)", name, strings.Join(Drivers(), ", "))
	}
	return name, nil
}

// Drivers lists the canonical driver names.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open launches the driver named in opts.Driver.
func Open(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (browser.Session, error) {
	name, err := Resolve(opts.Driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("opening browser session", zap.String("driver", name))
	return drivers[name](ctx, opts, logger.Named(name))
}
