package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/config"
	"github.com/gotrs-io/shopwalk/internal/credentials"
	"github.com/gotrs-io/shopwalk/internal/diagnostics"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/journey"
	"github.com/gotrs-io/shopwalk/internal/launcher"
	"github.com/gotrs-io/shopwalk/internal/locator"
	"github.com/gotrs-io/shopwalk/internal/report"
	"github.com/gotrs-io/shopwalk/internal/storage"
)

// RunSaver persists finished runs.
type RunSaver interface {
	SaveRun(ctx context.Context, run *report.Run) error
}

// Result is the outcome of one Execute call.
type Result struct {
	Run         *report.Run
	Credentials credentials.Credentials
	Reports     []*storage.Reference
	Diagnostics []*diagnostics.Report
}

// Executor performs one journey run from launch to persisted report. Each
// call generates fresh credentials and opens its own browser session.
type Executor struct {
	// Config is read at the start of every run so reloads take effect on
	// the next execution.
	Config  func() *config.Config
	Catalog *locator.Catalog
	Store   storage.Backend
	// Runs may be nil when history is disabled.
	Runs    RunSaver
	Open    launcher.OpenFunc
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Harness *harness.Metrics
	Metrics *Metrics
	// Steps overrides the journey's step list when set.
	Steps func(journey.Config) []journey.Step
	// OnResult is called after every finished run has been persisted.
	OnResult func(*Result)
	Now      func() time.Time
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Execute runs the journey once. The result is returned even when the run
// fails; the error is the failing step's error, a launch error, or a
// persistence error when the run itself passed.
func (e *Executor) Execute(ctx context.Context) (*Result, error) {
	cfg := e.Config()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	runID := uuid.NewString()
	logger := e.logger().With(zap.String("run_id", runID))

	creds := cfg.Generator().Generate()
	masked := creds.Masked()
	logger.Info("generated credentials",
		zap.String("name", masked.Name),
		zap.String("email", masked.Email),
		zap.String("password", masked.Password),
		zap.String("phone", masked.Phone))

	driver, err := launcher.Resolve(cfg.Browser.Driver)
	if err != nil {
		return nil, err
	}
	open := e.Open
	if open == nil {
		open = launcher.Open
	}
	session, err := open(ctx, cfg.Browser, logger)
	if err != nil {
		e.Metrics.launchFailed(e.now())
		return nil, fmt.Errorf("failed to launch %s browser: %w", driver, err)
	}

	capturer := diagnostics.NewCapturer(e.Store, runID, logger)
	h := harness.New(session, cfg.Harness,
		harness.WithLogger(logger),
		harness.WithCapturer(capturer),
		harness.WithMetrics(e.Harness))

	opts := []journey.Option{
		journey.WithLogger(logger),
		journey.WithRunID(runID),
		journey.WithDriver(driver),
	}
	if e.Tracer != nil {
		opts = append(opts, journey.WithTracer(e.Tracer))
	}
	if e.Now != nil {
		opts = append(opts, journey.WithClock(e.Now))
	}
	catalog := e.Catalog
	if catalog == nil {
		catalog = locator.Default()
	}
	jcfg := cfg.JourneyConfig(creds)
	if e.Steps != nil {
		opts = append(opts, journey.WithSteps(e.Steps(jcfg)))
	}
	j, err := journey.New(h, catalog, jcfg, opts...)
	if err != nil {
		closeSession(logger, session)
		return nil, err
	}

	run, runErr := j.Run(ctx)
	e.Metrics.observe(run)

	res := &Result{Run: run, Credentials: creds, Diagnostics: capturer.Reports()}

	// Persist even when the run was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	refs, reportErr := e.storeReports(saveCtx, cfg.Report, run)
	res.Reports = refs
	var saveErr error
	if e.Runs != nil {
		if saveErr = e.Runs.SaveRun(saveCtx, run); saveErr != nil {
			saveErr = fmt.Errorf("failed to save run: %w", saveErr)
		}
	}
	if e.OnResult != nil {
		e.OnResult(res)
	}
	if persistErr := errors.Join(reportErr, saveErr); persistErr != nil {
		logger.Error("failed to persist run", zap.Error(persistErr))
		if runErr == nil {
			return res, persistErr
		}
	}
	return res, runErr
}

func (e *Executor) storeReports(ctx context.Context, rc config.ReportConfig, run *report.Run) ([]*storage.Reference, error) {
	if e.Store == nil || run == nil {
		return nil, nil
	}
	var refs []*storage.Reference
	var errs []error
	store := func(name, contentType string, content []byte) {
		ref, err := e.Store.Store(ctx, run.ID, &storage.Artifact{
			Name:        name,
			ContentType: contentType,
			Content:     content,
			Metadata:    map[string]string{"status": string(run.Status)},
			CreatedTime: run.FinishedAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", name, err))
			return
		}
		refs = append(refs, ref)
	}

	if rc.Markdown {
		store("report.md", storage.ContentTypeMarkdown, []byte(report.Markdown(run)))
	}
	if rc.HTML {
		page, err := report.HTML(run, e.now())
		if err != nil {
			errs = append(errs, err)
		} else {
			store("report.html", storage.ContentTypeHTML, page)
		}
	}
	return refs, errors.Join(errs...)
}

func closeSession(logger *zap.Logger, s browser.Session) {
	if err := s.Close(); err != nil {
		logger.Warn("failed to close browser session", zap.Error(err))
	}
}
