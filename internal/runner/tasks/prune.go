package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/runner"
	"github.com/gotrs-io/shopwalk/internal/storage"
)

// Pruner deletes stored runs older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// PruneTask removes expired runs from history and their artifacts from
// storage.
type PruneTask struct {
	runs      Pruner
	store     storage.Backend
	retention time.Duration
	schedule  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewPruneTask creates the retention task. A non-positive retention makes
// Run a no-op.
func NewPruneTask(runs Pruner, store storage.Backend, retention time.Duration, schedule string, logger *zap.Logger) *PruneTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PruneTask{
		runs:      runs,
		store:     store,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		logger:    logger,
	}
}

var _ runner.Task = (*PruneTask)(nil)

func (t *PruneTask) Name() string { return "prune-history" }

func (t *PruneTask) Schedule() string { return t.schedule }

func (t *PruneTask) Timeout() time.Duration { return 5 * time.Minute }

// Run deletes runs that started before now minus the retention period.
func (t *PruneTask) Run(ctx context.Context) error {
	if t.retention <= 0 {
		return nil
	}
	cutoff := t.now().Add(-t.retention)
	ids, err := t.runs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs []error
	artifacts := 0
	for _, id := range ids {
		if t.store == nil {
			break
		}
		refs, err := t.store.List(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("list artifacts for %s: %w", id, err))
			continue
		}
		for _, ref := range refs {
			if err := t.store.Delete(ctx, ref); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", ref.Location, err))
				continue
			}
			artifacts++
		}
	}

	t.logger.Info("pruned run history",
		zap.Time("cutoff", cutoff),
		zap.Int("runs", len(ids)),
		zap.Int("artifacts", artifacts))
	return errors.Join(errs...)
}
