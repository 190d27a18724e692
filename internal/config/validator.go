package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/shopwalk/internal/logging"
	"github.com/gotrs-io/shopwalk/internal/runstore"
)

// Validator collects every configuration problem instead of stopping at the
// first one.
type Validator struct {
	config   *Config
	errors   []string
	warnings []string
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{config: cfg}
}

// Validate runs every check and returns a single error listing all
// failures. Warnings are available afterwards via Warnings.
func (v *Validator) Validate() error {
	v.errors, v.warnings = nil, nil

	v.validateTarget()
	v.validateTimings()
	v.validateBrowser()
	v.validateJourney()
	v.validateStorage()
	v.validateWatch()
	v.validateLogging()

	if len(v.errors) > 0 {
		return fmt.Errorf("config validation failed:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

// Warnings returns the non-fatal findings of the last Validate call.
func (v *Validator) Warnings() []string {
	return v.warnings
}

func (v *Validator) validateTarget() {
	raw := v.config.Harness.BaseURL
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		v.addError("harness.base_url %q is not an absolute URL", raw)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError("harness.base_url must use http or https, got %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		v.addWarning("harness.base_url path %q is ignored, routes are resolved from the origin", u.Path)
	}
}

func (v *Validator) validateTimings() {
	h := v.config.Harness
	if h.DefaultTimeout <= 0 {
		v.addError("harness.timeout must be positive")
	}
	if h.PollInterval <= 0 {
		v.addError("harness.poll_interval must be positive")
	}
	if h.SettleTimeout <= 0 {
		v.addError("harness.settle_timeout must be positive")
	}
	if h.StableSamples < 1 {
		v.addError("harness.stable_samples must be at least 1")
	}
	if h.PollInterval > 0 && h.DefaultTimeout > 0 && h.PollInterval >= h.DefaultTimeout {
		v.addWarning("harness.poll_interval %s is not shorter than harness.timeout %s", h.PollInterval, h.DefaultTimeout)
	}
	if v.config.Journey.StepTimeout < 0 {
		v.addError("journey.step_timeout must not be negative")
	}
}

func (v *Validator) validateBrowser() {
	b := v.config.Browser
	if b.Width <= 0 || b.Height <= 0 {
		v.addError("browser.width and browser.height must be positive")
	}
	if b.SlowMo < 0 {
		v.addError("browser.slow_mo must not be negative")
	}
	if !b.Headless && b.RemoteURL == "" {
		v.addWarning("browser.headless is off, a display is required")
	}
}

func (v *Validator) validateJourney() {
	j := v.config.Journey
	if len(j.Products) == 0 {
		v.addError("%s", ErrNoProducts.Error())
	}
	if (j.Fallback.Email == "") != (j.Fallback.Password == "") {
		v.addError("journey.fallback needs both email and password")
	}
	if !j.Fallback.Valid() {
		v.addWarning("no fallback account configured, a rejected registration fails the run")
	}
}

func (v *Validator) validateStorage() {
	switch strings.ToUpper(v.config.Artifacts.Backend) {
	case "FS":
		if v.config.Artifacts.FSBasePath == "" {
			v.addError("artifacts.path is required for the FS backend")
		}
	case "MEM":
		v.addWarning("artifacts are kept in memory and discarded after the run")
	default:
		v.addError("artifacts.backend must be FS or MEM, got %q", v.config.Artifacts.Backend)
	}

	if v.config.History.Enabled {
		if _, err := runstore.NormalizeDriver(v.config.History.Driver); err != nil {
			v.addError("history.driver: %v", err)
		}
		if v.config.History.DSN == "" {
			v.addError("history.dsn is required when history is enabled")
		}
	}
}

func (v *Validator) validateWatch() {
	if _, err := cron.ParseStandard(v.config.Watch.Schedule); err != nil {
		v.addError("watch.schedule %q: %v", v.config.Watch.Schedule, err)
	}
	if v.config.Watch.PruneSchedule != "" {
		if _, err := cron.ParseStandard(v.config.Watch.PruneSchedule); err != nil {
			v.addError("watch.prune_schedule %q: %v", v.config.Watch.PruneSchedule, err)
		}
	}
	if v.config.Watch.RunTimeout <= 0 {
		v.addError("watch.run_timeout must be positive")
	}
	if v.config.History.Retention < 0 {
		v.addError("history.retention must not be negative")
	}
	if secret := v.config.Watch.TokenSecret; secret != "" && len(secret) < 32 {
		v.addWarning("watch.token_secret is shorter than 32 bytes")
	}
	if lock := v.config.Watch.Lock; lock.RedisAddr != "" {
		if lock.Key == "" {
			v.addError("watch.lock.key is required when watch.lock.redis_addr is set")
		}
		if lock.TTL <= 0 {
			v.addError("watch.lock.ttl must be positive")
		} else if lock.TTL < v.config.Watch.RunTimeout {
			v.addWarning("watch.lock.ttl (%s) is shorter than watch.run_timeout (%s); a slow run may lose the lock", lock.TTL, v.config.Watch.RunTimeout)
		}
	}
}

func (v *Validator) validateLogging() {
	if _, err := logging.ParseLevel(v.config.Logging.Level); err != nil {
		v.addError("logging.level: %v", err)
	}
	switch v.config.Logging.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		v.addError("logging.format must be console or json, got %q", v.config.Logging.Format)
	}
}

func (v *Validator) addError(format string, args ...any) {
	v.errors = append(v.errors, "  - "+fmt.Sprintf(format, args...))
}

func (v *Validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// Validate checks c and discards warnings.
func (c *Config) Validate() error {
	return NewValidator(c).Validate()
}
