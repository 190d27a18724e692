// Package journey runs the fixed storefront user journey over one harness
// session and records the outcome of every step.
package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/credentials"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/locator"
	"github.com/gotrs-io/shopwalk/internal/report"
)

const tracerName = "github.com/gotrs-io/shopwalk/internal/journey"

// Checkout holds the delivery details typed into the checkout form. Empty
// fields fall back to the generated credentials.
type Checkout struct {
	FullName string `mapstructure:"full_name"`
	Email    string `mapstructure:"email"`
	Phone    string `mapstructure:"phone"`
	Address  string `mapstructure:"address"`
}

// Config is built once per run and passed into the journey.
type Config struct {
	Credentials credentials.Credentials
	// Fallback is used when the target rejects registration.
	Fallback credentials.Account
	// Products are searched and added to the cart in order.
	Products []string
	Checkout Checkout
	// VerifyCartCount counts cart items before and after every add-to-cart
	// and requires the count to grow by exactly one.
	VerifyCartCount bool
	// StepTimeout bounds each wait; zero uses the harness default.
	StepTimeout time.Duration
}

// DefaultProducts are searched when none are configured.
var DefaultProducts = []string{"Ноутбук ASUS ROG Strix G15", "Смартфон Samsung Galaxy S24"}

// Validate checks the config before any browser work starts.
func (c Config) Validate() error {
	if c.Credentials.Email == "" || c.Credentials.Password == "" {
		return errors.New("journey credentials are incomplete")
	}
	if len(c.Products) == 0 {
		return errors.New("journey needs at least one product")
	}
	for i, p := range c.Products {
		if p == "" {
			return fmt.Errorf("product %d has an empty name", i+1)
		}
	}
	return nil
}

func (c Config) checkout() Checkout {
	out := c.Checkout
	if out.FullName == "" {
		out.FullName = c.Credentials.Name
	}
	if out.Email == "" {
		out.Email = c.Credentials.Email
	}
	if out.Phone == "" {
		out.Phone = c.Credentials.Phone
	}
	if out.Address == "" {
		out.Address = "г. Москва, ул. Тверская, д. 1, кв. 1"
	}
	return out
}

// Step is one ordered action with its post-condition check.
type Step struct {
	Name string
	Run  func(ctx context.Context, j *Journey) error
}

// Journey sequences steps over a single harness. It is not reusable: Run
// closes the session.
type Journey struct {
	h       *harness.Harness
	catalog *locator.Catalog
	cfg     Config
	steps   []Step

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	runID  string
	driver string

	// account is the email the session ended up authenticated as.
	account string
	// product is the query of the last successful search.
	product string
}

// Option configures a Journey.
type Option func(*Journey)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journey) { j.logger = l }
}

// WithTracer sets the tracer used for step spans.
func WithTracer(t trace.Tracer) Option {
	return func(j *Journey) { j.tracer = t }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(j *Journey) { j.runID = id }
}

// WithDriver records the driver name in the report.
func WithDriver(name string) Option {
	return func(j *Journey) { j.driver = name }
}

// WithSteps replaces the standard step list.
func WithSteps(steps []Step) Option {
	return func(j *Journey) { j.steps = steps }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journey) { j.now = now }
}

// New prepares a journey. The catalog must define every target the
// standard steps use.
func New(h *harness.Harness, catalog *locator.Catalog, cfg Config, opts ...Option) (*Journey, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := catalog.Require(RequiredTargets...); err != nil {
		return nil, err
	}
	j := &Journey{
		h:       h,
		catalog: catalog,
		cfg:     cfg,
		logger:  h.Logger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.steps == nil {
		j.steps = Steps(cfg)
	}
	if j.runID == "" {
		j.runID = uuid.NewString()
	}
	return j, nil
}

// ID returns the run id.
func (j *Journey) ID() string { return j.runID }

// Harness returns the harness the steps act through.
func (j *Journey) Harness() *harness.Harness { return j.h }

// Target looks up a catalog target. New has already checked that every
// standard target exists.
func (j *Journey) Target(name string) locator.Target {
	return j.catalog.MustGet(name)
}

// Config returns the run configuration.
func (j *Journey) Config() Config { return j.cfg }

// Account returns the email the journey authenticated with, once known.
func (j *Journey) Account() string { return j.account }

func (j *Journey) timeout() time.Duration { return j.cfg.StepTimeout }

// Run executes every step in order and stops at the first failure; the
// remaining steps are reported as skipped. The browser session is closed
// on every exit path. The returned error is the failing step's error, or
// ctx's error when the run was cancelled.
func (j *Journey) Run(ctx context.Context) (*report.Run, error) {
	logger := j.logger.With(zap.String("run_id", j.runID))
	run := &report.Run{
		ID:        j.runID,
		Driver:    j.driver,
		BaseURL:   j.h.Config().BaseURL,
		StartedAt: j.now().UTC(),
		Steps:     make([]report.StepResult, 0, len(j.steps)),
	}

	ctx, runSpan := j.tracer.Start(ctx, "journey.run", trace.WithAttributes(
		attribute.String("shopwalk.run_id", j.runID),
		attribute.String("shopwalk.driver", j.driver),
		attribute.String("shopwalk.base_url", run.BaseURL),
	))
	defer runSpan.End()

	defer func() {
		if err := j.h.Close(); err != nil {
			logger.Warn("failed to close browser session", zap.Error(err))
		}
	}()

	logger.Info("journey started",
		zap.String("driver", j.driver),
		zap.String("base_url", run.BaseURL),
		zap.Int("steps", len(j.steps)))

	var runErr error
	for i, step := range j.steps {
		result := report.StepResult{Index: i + 1, Name: step.Name}
		if runErr != nil {
			result.Status = report.StatusSkipped
			run.Steps = append(run.Steps, result)
			continue
		}
		result, runErr = j.runStep(ctx, logger, result, step)
		run.Steps = append(run.Steps, result)
	}

	run.Account = j.account
	run.Finish(j.now().UTC())

	if runErr != nil {
		runSpan.RecordError(runErr)
		runSpan.SetStatus(codes.Error, runErr.Error())
		logger.Error("journey failed", zap.Error(runErr), zap.Duration("duration", run.Duration()))
	} else {
		runSpan.SetStatus(codes.Ok, "")
		logger.Info("journey passed", zap.Duration("duration", run.Duration()))
	}
	return run, runErr
}

func (j *Journey) runStep(ctx context.Context, logger *zap.Logger, result report.StepResult, step Step) (report.StepResult, error) {
	ctx, span := j.tracer.Start(ctx, "journey.step."+step.Name, trace.WithAttributes(
		attribute.String("shopwalk.step", step.Name),
		attribute.Int("shopwalk.step.index", result.Index),
	))
	defer span.End()

	logger.Info("step started", zap.Int("index", result.Index), zap.String("step", step.Name))
	result.StartedAt = j.now().UTC()
	err := step.Run(ctx, j)
	result.Duration = j.now().Sub(result.StartedAt)
	result.URL = j.h.CurrentURL(ctx)
	span.SetAttributes(attribute.String("shopwalk.url", result.URL))

	if err == nil {
		result.Status = report.StatusPassed
		span.SetStatus(codes.Ok, "")
		logger.Info("step passed",
			zap.String("step", step.Name),
			zap.Duration("duration", result.Duration),
			zap.String("url", result.URL))
		return result, nil
	}

	err = fmt.Errorf("step %s: %w", step.Name, err)
	result.Status = report.StatusFailed
	result.Error = err.Error()
	result.ErrorKind = ErrorKind(err)
	result.Artifact = Artifact(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, result.ErrorKind)
	logger.Error("step failed",
		zap.String("step", step.Name),
		zap.String("kind", result.ErrorKind),
		zap.String("url", result.URL),
		zap.String("artifact", result.Artifact),
		zap.Error(err))
	return result, err
}

// ErrorKind names the class of a step failure for reports.
func ErrorKind(err error) string {
	var (
		timeout   *harness.TimeoutError
		ambiguous *harness.AmbiguousMatchError
		assertion *harness.AssertionError
		action    *harness.ActionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ambiguous):
		return "ambiguous"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &assertion):
		return "assertion"
	case errors.As(err, &action):
		return "action"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// Artifact returns the diagnostic artifact attached to a harness error.
func Artifact(err error) string {
	var (
		timeout   *harness.TimeoutError
		ambiguous *harness.AmbiguousMatchError
		assertion *harness.AssertionError
		action    *harness.ActionError
	)
	switch {
	case errors.As(err, &ambiguous):
		return ambiguous.Artifact
	case errors.As(err, &timeout):
		return timeout.Artifact
	case errors.As(err, &assertion):
		return assertion.Artifact
	case errors.As(err, &action):
		return action.Artifact
	}
	return ""
}
