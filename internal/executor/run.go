package executor

import (
	"context"
	"fmt"
	"iter"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// run is the state of a single Executor.Run call.
type run struct {
	*Executor

	abortCtx context.Context //nolint:containedctx // cancellation is the abort signal
	ctx      context.Context //nolint:containedctx // never cancelled, passed to collaborators
	dry      bool

	cascadeSkip bool
	aborted     bool
	abortErr    error

	validated []migration.Outcome
	toLock    []migration.Migration
	locked    []migration.Migration
	fromFound bool
	toFound   bool

	optionErr error
	lockErr   error
}

func (r *run) do(seq iter.Seq2[migration.Outcome, error]) ([]migration.Outcome, error) {
	outcomes, err := r.pass(seq)

	return r.finish(outcomes, err)
}

// pass runs every stage before finalization. A returned error is
// catastrophic.
func (r *run) pass(seq iter.Seq2[migration.Outcome, error]) ([]migration.Outcome, error) {
	if err := r.collect(seq); err != nil {
		return nil, err
	}

	r.reporter.OnCollectedMigrations(r.ctx, append([]migration.Outcome(nil), r.validated...))

	r.checkRange()
	r.lock()

	r.reporter.OnLockedMigrations(r.ctx, append([]migration.Migration(nil), r.locked...))

	return r.executeAll()
}

// collect tags every record that will not run and validates the rest.
func (r *run) collect(seq iter.Seq2[migration.Outcome, error]) error {
	for o, err := range seq {
		if err != nil {
			return err
		}

		r.checkAbort()
		r.matchBoundaries(o.Name)

		if o.Finished() {
			r.validated = append(r.validated, o)

			if o.Status == migration.StatusFailed || o.Status == migration.StatusSkipped {
				r.cascadeSkip = true
			}

			continue
		}

		if r.cascadeSkip || r.outOfRange(o.Name) || r.limitReached() {
			r.validated = append(r.validated, o.WithStatus(r.idleStatus()))

			continue
		}

		if err := r.validate(r.ctx, o.Migration); err != nil {
			r.rollback()
			r.validated = append(r.validated, o.Failed(0, err))
			r.cascadeSkip = true

			continue
		}

		r.toLock = append(r.toLock, o.Migration)
		r.validated = append(r.validated, o)
	}

	return nil
}

func (r *run) matchBoundaries(name string) {
	if r.from != "" && name == r.from {
		r.fromFound = true
	}

	if r.to != "" && name == r.to {
		r.toFound = true
	}
}

func (r *run) outOfRange(name string) bool {
	return (r.from != "" && name < r.from) || (r.to != "" && name > r.to)
}

func (r *run) limitReached() bool {
	return r.limit > 0 && len(r.toLock) >= r.limit
}

// idleStatus is the status of a migration that is not going to run.
func (r *run) idleStatus() migration.Status {
	if r.dry {
		return migration.StatusPending
	}

	return migration.StatusSkipped
}

// rollback gives up every migration accepted for locking so far.
func (r *run) rollback() {
	r.toLock = nil
	r.downgradeUnlocked(nil)
}

// downgradeUnlocked marks every untagged record whose name is not in keep as
// skipped.
func (r *run) downgradeUnlocked(keep map[string]struct{}) {
	for i, o := range r.validated {
		if o.Finished() {
			continue
		}

		if _, ok := keep[o.Name]; ok {
			continue
		}

		r.validated[i] = o.WithStatus(migration.StatusSkipped)
	}
}

// checkRange turns an unmatched --from or --to into an option error and
// makes sure nothing runs.
func (r *run) checkRange() {
	switch {
	case r.from != "" && !r.fromFound:
		r.optionErr = migerr.BadOption("from", fmt.Sprintf("The %q migration was not found: %s", "from", r.from))
	case r.to != "" && !r.toFound:
		r.optionErr = migerr.BadOption("to", fmt.Sprintf("The %q migration was not found: %s", "to", r.to))
	default:
		return
	}

	r.dry = true
	r.cascadeSkip = true
	r.toLock = nil
	r.downgradeUnlocked(nil)
}

func (r *run) lock() {
	if r.dry {
		r.locked = r.toLock

		return
	}

	if len(r.toLock) == 0 || r.aborted {
		return
	}

	locked, err := Exec(r.abortCtx, r.abortRespite, func(ctx context.Context) ([]migration.Migration, error) {
		return r.store.Lock(ctx, r.toLock)
	}, r.observeAbort)
	if err != nil {
		r.log.WithError(err).Debug("locking migrations failed")

		r.lockErr = err
		r.cascadeSkip = true
		r.downgradeUnlocked(nil)

		return
	}

	owned := make(map[string]struct{}, len(locked))
	for _, m := range locked {
		owned[m.Name] = struct{}{}
	}

	var elsewhere []migration.Migration

	for _, m := range r.toLock {
		if _, ok := owned[m.Name]; ok {
			r.locked = append(r.locked, m)
		} else {
			elsewhere = append(elsewhere, m)
		}
	}

	if len(elsewhere) > 0 {
		r.log.WithField("migrations", storage.Names(elsewhere)).Debug("locked by another process")
	}

	r.downgradeUnlocked(owned)
}

// executeAll reports finished records and runs the untagged ones in order.
func (r *run) executeAll() ([]migration.Outcome, error) {
	outcomes := make([]migration.Outcome, 0, len(r.validated))

	for _, o := range r.validated {
		r.checkAbort()

		if o.Finished() {
			r.reportFinished(o)
			outcomes = append(outcomes, o)

			continue
		}

		if r.dry || r.cascadeSkip {
			skipped := o.WithStatus(r.idleStatus())
			r.reporter.OnMigrationSkip(r.ctx, skipped)
			outcomes = append(outcomes, skipped)

			continue
		}

		result, err := r.executeOne(o)
		if err != nil {
			return nil, err
		}

		outcomes = append(outcomes, result)
	}

	return outcomes, nil
}

func (r *run) executeOne(o migration.Outcome) (migration.Outcome, error) {
	r.reporter.OnMigrationStart(r.ctx, o)

	start := r.now()

	_, execErr := Exec(r.abortCtx, r.abortRespite, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.execute(ctx, o.Migration)
	}, r.observeAbort)

	duration := r.now().Sub(start)

	if execErr != nil {
		failed := o.Failed(duration, execErr)

		if err := r.store.OnError(r.ctx, failed, execErr); err != nil {
			return migration.Outcome{}, fmt.Errorf("recording failure of %s: %w", o.Name, err)
		}

		r.reporter.OnMigrationError(r.ctx, failed, execErr)
		r.cascadeSkip = true

		return failed, nil
	}

	done := o.Done(duration)

	if err := r.store.OnSuccess(r.ctx, done); err != nil {
		return migration.Outcome{}, fmt.Errorf("recording success of %s: %w", o.Name, err)
	}

	r.reporter.OnMigrationSuccess(r.ctx, done)

	return done, nil
}

func (r *run) reportFinished(o migration.Outcome) {
	switch o.Status {
	case migration.StatusFailed:
		r.reporter.OnMigrationError(r.ctx, o, o.Err)
	case migration.StatusPending, migration.StatusSkipped:
		r.reporter.OnMigrationSkip(r.ctx, o)
	default:
		r.reporter.OnMigrationSuccess(r.ctx, o)
	}
}

// finish releases locks and reports the run. It always runs, also after a
// catastrophic error.
func (r *run) finish(outcomes []migration.Outcome, catastrophic error) ([]migration.Outcome, error) {
	var unlockErr error

	if !r.dry && len(r.locked) > 0 {
		_, unlockErr = Exec(r.abortCtx, r.abortRespite, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.store.Unlock(ctx, r.locked)
		}, r.observeAbort)
	}

	if catastrophic != nil {
		if unlockErr != nil {
			r.log.WithError(unlockErr).Warn("unlocking migrations failed")
		}

		r.reporter.OnFinished(r.ctx, nil, catastrophic)

		return nil, catastrophic
	}

	r.checkAbort()

	err := r.result(outcomes, unlockErr)
	r.reporter.OnFinished(r.ctx, outcomes, err)

	return outcomes, err
}

// result picks the error reported for the run.
func (r *run) result(outcomes []migration.Outcome, unlockErr error) error {
	if r.optionErr != nil {
		return r.optionErr
	}

	if unlockErr != nil {
		return unlockErr
	}

	for _, o := range outcomes {
		if o.Status != migration.StatusFailed {
			continue
		}

		if migerr.IsStructured(o.Err) {
			return o.Err
		}

		return migerr.MigrationRun(o.RelativeFilePath, o.Err)
	}

	if r.lockErr != nil {
		return r.lockErr
	}

	if r.aborted {
		return r.abortErr
	}

	return nil
}

func (r *run) checkAbort() {
	if r.aborted || r.abortCtx.Err() == nil {
		return
	}

	r.observeAbort(abortReason(r.abortCtx))
}

// observeAbort handles the first sighting of the abort signal.
func (r *run) observeAbort(reason error) {
	if r.aborted {
		return
	}

	r.aborted = true
	r.abortErr = reason
	r.cascadeSkip = true

	r.log.WithError(reason).Debug("run aborted")
	r.reporter.OnAbort(r.ctx, reason)
}
