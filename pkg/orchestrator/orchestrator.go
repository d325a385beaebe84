// Package orchestrator sequences deployment steps and makes the whole
// application update transactional: either every step reaches the target
// version or the already-changed steps are rolled back to the previous
// one.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sportsbet/ennio/pkg/version"
)

// Orchestrator drives an ordered list of steps through deploy, delete,
// and rollback. One orchestrator drives one deployment at a time; steps
// run strictly sequentially because later steps may depend on resources
// created by earlier ones.
type Orchestrator struct {
	log        *zap.SugaredLogger
	appName    string
	steps      []Step
	versions   version.Store
	noRollback bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRollbackDisabled leaves partially-deployed steps in place when a
// deploy fails instead of reverting them.
func WithRollbackDisabled() Option {
	return func(o *Orchestrator) { o.noRollback = true }
}

// New builds an orchestrator over the given steps in deploy order.
func New(log *zap.SugaredLogger, appName string, steps []Step, versions version.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:      log,
		appName:  appName,
		steps:    steps,
		versions: versions,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeployAll updates every step to the build version as one transaction.
// A step failure stops the pipeline and rolls back the steps that had
// already changed, unless the failing step is marked ignore_error, in
// which case the pipeline continues and the step is left out of the
// rollback list. The new version is persisted only when every step
// succeeded.
func (o *Orchestrator) DeployAll(ctx context.Context, build string) error {
	current, err := o.versions.Current(ctx)
	if err != nil {
		return err
	}
	o.log.Infof("Deploying %s, current version: %s.", build, current)

	var changed []Step
	var failed error
	for _, step := range o.steps {
		name := step.Name()
		o.log.Infof("%s deploy step started.", name)
		if err := step.Deploy(ctx, build); err != nil {
			o.log.Warnf("%s deploy step failed with: %v", name, err)
			if step.IgnoreError() {
				// The step did not change, so rollback must not touch it.
				o.log.Warnf("Ignoring error for %s.", name)
				continue
			}
			failed = fmt.Errorf("deploy step %s: %w", name, err)
			break
		}
		o.log.Infof("%s deploy step finished.", name)
		changed = append(changed, step)
	}

	if failed == nil {
		if err := o.versions.Set(ctx, build); err != nil {
			return err
		}
		o.log.Infof("Deployment of application %s completed successfully.", o.appName)
		return nil
	}

	if o.noRollback {
		o.log.Warn("Rollback disabled, leaving changed steps as they are.")
		return failed
	}
	o.log.Warnf("Reverting to build %s.", current)
	if err := o.RollbackAll(ctx, changed); err != nil {
		return fmt.Errorf("rollback failed: %v (after %w)", err, failed)
	}
	return failed
}

// RollbackAll re-deploys the previous version over the changed steps in
// reverse order. It is a no-op when the application has never been
// deployed. Rollback is best-effort single-pass: the first failure
// propagates.
func (o *Orchestrator) RollbackAll(ctx context.Context, changed []Step) error {
	current, err := o.versions.Current(ctx)
	if err != nil {
		return err
	}
	if current == version.NoVersion {
		o.log.Warn("Deploying for the first time, no rollback.")
		return nil
	}

	names := make([]string, len(changed))
	for i, step := range changed {
		names[i] = step.Name()
	}
	o.log.Infof("Rolling back changes: %v.", names)

	for i := len(changed) - 1; i >= 0; i-- {
		step := changed[i]
		name := step.Name()
		o.log.Infof("%s rollback step started.", name)
		if err := step.Rollback(ctx, current); err != nil {
			return fmt.Errorf("rollback step %s: %w", name, err)
		}
		o.log.Infof("%s rollback step finished.", name)
	}
	o.log.Info("Rollback completed successfully.")
	return nil
}

// DeleteAll tears the steps down in reverse deploy order. The first
// failure stops the sequence; steps earlier in deploy order are left in
// place.
func (o *Orchestrator) DeleteAll(ctx context.Context) error {
	current, err := o.versions.Current(ctx)
	if err != nil {
		return err
	}
	o.log.Infof("Removing stacks, current version: %s.", current)

	for i := len(o.steps) - 1; i >= 0; i-- {
		step := o.steps[i]
		name := step.Name()
		o.log.Infof("%s delete step started.", name)
		if err := step.Delete(ctx); err != nil {
			o.log.Warnf("%s delete step failed with: %v", name, err)
			return fmt.Errorf("delete step %s: %w", name, err)
		}
		o.log.Infof("%s delete step finished.", name)
	}
	return nil
}
