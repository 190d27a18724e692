// Package config loads shopwalk settings from defaults, an optional YAML
// file, a .env file and SHOPWALK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/credentials"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/journey"
	"github.com/gotrs-io/shopwalk/internal/logging"
	"github.com/gotrs-io/shopwalk/internal/runstore"
	"github.com/gotrs-io/shopwalk/internal/storage"
	"github.com/gotrs-io/shopwalk/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. SHOPWALK_HARNESS_BASE_URL.
const EnvPrefix = "SHOPWALK"

// Config is the complete harness configuration.
type Config struct {
	Harness   harness.Config        `mapstructure:"harness"`
	Browser   browser.LaunchOptions `mapstructure:"browser"`
	Journey   JourneyConfig         `mapstructure:"journey"`
	Catalog   CatalogConfig         `mapstructure:"catalog"`
	Artifacts storage.Config        `mapstructure:"artifacts"`
	History   HistoryConfig         `mapstructure:"history"`
	Report    ReportConfig          `mapstructure:"report"`
	Watch     WatchConfig           `mapstructure:"watch"`
	Logging   logging.Config        `mapstructure:"logging"`
	Tracing   tracing.Config        `mapstructure:"tracing"`
}

// JourneyConfig holds the journey inputs that do not change per run.
type JourneyConfig struct {
	Products        []string            `mapstructure:"products"`
	VerifyCartCount bool                `mapstructure:"verify_cart_count"`
	StepTimeout     time.Duration       `mapstructure:"step_timeout"`
	Checkout        journey.Checkout    `mapstructure:"checkout"`
	Fallback        credentials.Account `mapstructure:"fallback"`
	EmailDomain     string              `mapstructure:"email_domain"`
}

// CatalogConfig points at a locator catalog. An empty path selects the
// embedded catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// HistoryConfig enables the run store.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention bounds how long runs and their artifacts are kept in watch
	// mode. Zero keeps everything.
	Retention       time.Duration `mapstructure:"retention"`
	runstore.Config `mapstructure:",squash"`
}

// ReportConfig selects which run reports are stored next to the run's
// artifacts.
type ReportConfig struct {
	Markdown bool `mapstructure:"markdown"`
	HTML     bool `mapstructure:"html"`
}

// WatchConfig drives the scheduled runner and its monitor endpoint.
type WatchConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	PruneSchedule   string        `mapstructure:"prune_schedule"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
	Listen          string        `mapstructure:"listen"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TokenSecret signs the bearer tokens POST /runs requires. Empty leaves
	// the trigger endpoint open.
	TokenSecret string     `mapstructure:"token_secret"`
	Lock        LockConfig `mapstructure:"lock"`
}

// LockConfig points several watchers at one redis so that only one of them
// runs the journey against the shop at a time. An empty address disables
// the lock.
type LockConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Key       string        `mapstructure:"key"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Harness: harness.DefaultConfig(),
		Browser: browser.DefaultLaunchOptions(),
		Journey: JourneyConfig{
			Products:        append([]string(nil), journey.DefaultProducts...),
			VerifyCartCount: false,
			StepTimeout:     10 * time.Second,
			EmailDomain:     "example.com",
		},
		Artifacts: storage.Config{Backend: "FS", FSBasePath: "./artifacts"},
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
			Config:    runstore.Config{Driver: "sqlite3", DSN: "shopwalk.db"},
		},
		Report: ReportConfig{Markdown: true, HTML: true},
		Watch: WatchConfig{
			Schedule:        "@every 30m",
			PruneSchedule:   "@daily",
			RunTimeout:      10 * time.Minute,
			Listen:          ":9464",
			RunOnStart:      true,
			ShutdownTimeout: 30 * time.Second,
			Lock:            LockConfig{Key: "shopwalk:journey", TTL: 15 * time.Minute},
		},
		Logging: logging.Config{Level: "info", Format: logging.FormatConsole},
		Tracing: tracing.Config{Exporter: tracing.ExporterNone, ServiceName: "shopwalk"},
	}
}

// Manager owns a viper instance and the last successfully decoded Config.
type Manager struct {
	v      *viper.Viper
	logger *zap.Logger

	mu       sync.RWMutex
	cfg      *Config
	warnings []string
}

// NewManager registers defaults and environment bindings. Call Load before
// Get.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return &Manager{v: v, logger: logger}
}

// SetLogger replaces the logger used for reload and warning messages.
func (m *Manager) SetLogger(l *zap.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *Manager) log() *zap.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// Warnings returns the non-fatal findings of the last successful load.
func (m *Manager) Warnings() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.warnings...)
}

// Viper exposes the underlying instance so command flags can be bound to
// configuration keys.
func (m *Manager) Viper() *viper.Viper { return m.v }

// Load reads the .env file, then the YAML file at path. With an empty path
// shopwalk.yaml is looked up in the working directory and may be absent.
func (m *Manager) Load(path string, dotenv ...string) error {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	LoadDotEnv(dotenv...)

	if path != "" {
		m.v.SetConfigFile(path)
		if err := m.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		m.v.SetConfigName("shopwalk")
		m.v.AddConfigPath(".")
		if err := m.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	if used := m.v.ConfigFileUsed(); used != "" {
		m.log().Debug("loaded configuration", zap.String("file", used))
	}
	return nil
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Journey.Products = splitList(cfg.Journey.Products)
	v := NewValidator(cfg)
	if err := v.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.warnings = v.Warnings()
	m.mu.Unlock()
	for _, w := range v.Warnings() {
		m.log().Warn("config: " + w)
	}
	return cfg, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch reloads the configuration whenever the config file changes and
// hands every valid reload to fn. Invalid edits are logged and the previous
// configuration stays in effect.
func (m *Manager) Watch(fn func(*Config)) {
	if m.v.ConfigFileUsed() == "" {
		m.log().Info("no config file in use, reload disabled")
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.log().Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		cfg, err := m.decode()
		if err != nil {
			m.log().Error("failed to reload config", zap.Error(err))
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		m.log().Info("configuration reloaded")
		if fn != nil {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}

// JourneyConfig combines the static journey settings with per-run
// credentials.
func (c *Config) JourneyConfig(creds credentials.Credentials) journey.Config {
	return journey.Config{
		Credentials:     creds,
		Fallback:        c.Journey.Fallback,
		Products:        append([]string(nil), c.Journey.Products...),
		Checkout:        c.Journey.Checkout,
		VerifyCartCount: c.Journey.VerifyCartCount,
		StepTimeout:     c.Journey.StepTimeout,
	}
}

// Generator returns the credential generator for the configured domain.
func (c *Config) Generator() *credentials.Generator {
	g := credentials.DefaultGenerator()
	if c.Journey.EmailDomain != "" {
		g.Domain = c.Journey.EmailDomain
	}
	return g
}

// setDefaults registers every key so AutomaticEnv can override keys that no
// config file mentions.
func setDefaults(v *viper.Viper, d Config) {
	h := d.Harness
	v.SetDefault("harness.base_url", h.BaseURL)
	v.SetDefault("harness.timeout", h.DefaultTimeout)
	v.SetDefault("harness.poll_interval", h.PollInterval)
	v.SetDefault("harness.settle_timeout", h.SettleTimeout)
	v.SetDefault("harness.stable_samples", h.StableSamples)
	v.SetDefault("harness.delays.after_navigate", h.Delays.AfterNavigate)
	v.SetDefault("harness.delays.after_click", h.Delays.AfterClick)
	v.SetDefault("harness.delays.after_type", h.Delays.AfterType)
	v.SetDefault("harness.delays.after_scroll", h.Delays.AfterScroll)
	v.SetDefault("harness.script_click", h.ScriptClick)
	v.SetDefault("harness.capture_timeout", h.CaptureTimeout)

	b := d.Browser
	v.SetDefault("browser.driver", b.Driver)
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.width", b.Width)
	v.SetDefault("browser.height", b.Height)
	v.SetDefault("browser.disable_gpu", b.DisableGPU)
	v.SetDefault("browser.no_sandbox", b.NoSandbox)
	v.SetDefault("browser.disable_dev_shm_usage", b.DisableDevShmUsage)
	v.SetDefault("browser.disable_notifications", b.DisableNotifications)
	v.SetDefault("browser.slow_mo", b.SlowMo)
	v.SetDefault("browser.remote_url", b.RemoteURL)
	v.SetDefault("browser.exec_path", b.ExecPath)
	v.SetDefault("browser.browser_name", b.BrowserName)
	v.SetDefault("browser.action_timeout", b.ActionTimeout)
	v.SetDefault("browser.install_browser", b.InstallBrowser)

	j := d.Journey
	v.SetDefault("journey.products", j.Products)
	v.SetDefault("journey.verify_cart_count", j.VerifyCartCount)
	v.SetDefault("journey.step_timeout", j.StepTimeout)
	v.SetDefault("journey.checkout.full_name", j.Checkout.FullName)
	v.SetDefault("journey.checkout.email", j.Checkout.Email)
	v.SetDefault("journey.checkout.phone", j.Checkout.Phone)
	v.SetDefault("journey.checkout.address", j.Checkout.Address)
	v.SetDefault("journey.fallback.email", j.Fallback.Email)
	v.SetDefault("journey.fallback.password", j.Fallback.Password)
	v.SetDefault("journey.email_domain", j.EmailDomain)

	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.path", d.Artifacts.FSBasePath)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.driver", d.History.Driver)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("report.markdown", d.Report.Markdown)
	v.SetDefault("report.html", d.Report.HTML)
	v.SetDefault("watch.schedule", d.Watch.Schedule)
	v.SetDefault("watch.prune_schedule", d.Watch.PruneSchedule)
	v.SetDefault("watch.run_timeout", d.Watch.RunTimeout)
	v.SetDefault("watch.listen", d.Watch.Listen)
	v.SetDefault("watch.run_on_start", d.Watch.RunOnStart)
	v.SetDefault("watch.shutdown_timeout", d.Watch.ShutdownTimeout)
	v.SetDefault("watch.token_secret", d.Watch.TokenSecret)
	v.SetDefault("watch.lock.redis_addr", d.Watch.Lock.RedisAddr)
	v.SetDefault("watch.lock.password", d.Watch.Lock.Password)
	v.SetDefault("watch.lock.db", d.Watch.Lock.DB)
	v.SetDefault("watch.lock.key", d.Watch.Lock.Key)
	v.SetDefault("watch.lock.ttl", d.Watch.Lock.TTL)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.pretty_print", d.Tracing.PrettyPrint)
}

// splitList also accepts "a;b" values coming from the environment.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ErrNoProducts is reported when the product list is empty after decoding.
var ErrNoProducts = errors.New("journey.products must name at least one product")
