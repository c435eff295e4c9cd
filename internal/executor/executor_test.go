package executor_test

import (
	"context"
	"errors"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/executor"
	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

const (
	a = "001_a.sql"
	b = "002_b.sql"
	c = "003_c.sql"
	d = "004_d.sql"
)

func TestRun_happyPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusDone})
	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b, c))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusDone},
		{c, migration.StatusDone},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{b, c}, x.list())
	assert.Equal(t, [][]string{{b, c}}, store.lockCalls)
	assert.Equal(t, map[string]migration.Status{a: "done", b: "done", c: "done"}, store.statuses())
	assert.Equal(t, []string{
		"collected 3",
		"locked 2",
		"success " + a,
		"start " + b,
		"success " + b,
		"start " + c,
		"success " + c,
		"finished",
	}, rep.log)
	assert.NoError(t, rep.final)
}

func TestRun_midRunFailureSkipsTheRest(t *testing.T) {
	t.Parallel()

	boom := errors.New("relation \"users\" already exists")
	store := newFakeStore()
	rep := &events{}
	x := &executed{fail: map[string]error{b: boom}}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b, c))

	require.ErrorIs(t, err, migerr.ErrMigrationRun)
	require.ErrorIs(t, err, boom)

	var me *migerr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "migrations/"+b, me.Migration)

	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusFailed},
		{c, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{a, b}, x.list())

	assert.Equal(t, map[string]migration.Status{a: "done", b: "failed"}, store.statuses(), "c is unlocked again")
	assert.Equal(t, [][]string{{a, b, c}}, store.unlockCalls)
	assert.Equal(t, err, rep.final)
}

func TestRun_failedHistoryBlocksFollowingMigrations(t *testing.T) {
	t.Parallel()

	stored := migerr.Serialize(migerr.MigrationRun("migrations/"+a, errors.New("boom")))
	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusFailed, Error: stored})
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b))

	require.ErrorIs(t, err, migerr.ErrMigrationHistory)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusFailed},
		{b, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
}

func TestRun_skippedHistoryBlocksFollowingMigrations(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusSkipped})
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b, c))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusSkipped},
		{b, migration.StatusSkipped},
		{c, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
}

func TestRun_emptyHistoryStatusIsNotRunAgain(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a})
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusDone},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{b}, x.list())
}

func TestRun_cascadeSkipNeverExecutesAfterFailure(t *testing.T) {
	t.Parallel()

	names := []string{a, b, c, d}

	for failAt := range names {
		t.Run(names[failAt], func(t *testing.T) {
			t.Parallel()

			store := newFakeStore()
			x := &executed{fail: map[string]error{names[failAt]: errors.New("boom")}}

			for _, dry := range []bool{false, true} {
				outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute), executor.WithDryRun(dry)).
					Run(context.Background(), collect(newFakeStore(), names...))
				if dry {
					require.NoError(t, err)

					for _, o := range outcomes {
						assert.Equal(t, migration.StatusPending, o.Status)
					}

					continue
				}

				require.Error(t, err)

				for i, o := range outcomes {
					switch {
					case i < failAt:
						assert.Equal(t, migration.StatusDone, o.Status)
					case i == failAt:
						assert.Equal(t, migration.StatusFailed, o.Status)
					default:
						assert.Equal(t, migration.StatusSkipped, o.Status)
					}
				}
			}

			assert.Equal(t, names[:failAt+1], x.list())
		})
	}
}

func TestRun_unmatchedFromForcesDryRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute), executor.WithFrom("999_missing.sql")).
		Run(context.Background(), collect(store, a, b, c))

	require.ErrorIs(t, err, migerr.ErrBadOption)

	var me *migerr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "from", me.Option)

	for _, o := range outcomes {
		assert.Contains(t, []migration.Status{migration.StatusSkipped, migration.StatusPending}, o.Status, o.Name)
	}

	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
	assert.Empty(t, store.unlockCalls)
	assert.Empty(t, store.Entries())
}

func TestRun_unmatchedToIsBadOption(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	x := &executed{}

	_, err := executor.New(store, nil, executor.WithExecute(x.execute), executor.WithTo("000_before_all.sql")).
		Run(context.Background(), collect(store, a, b))

	var me *migerr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, migerr.KindBadOption, me.Kind)
	assert.Equal(t, "to", me.Option)
	assert.Empty(t, x.list())
}

func TestRun_fromToWindow(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	x := &executed{}

	outcomes, err := executor.New(store, nil,
		executor.WithExecute(x.execute),
		executor.WithFrom("migrations/"+b),
		executor.WithTo(c),
	).Run(context.Background(), collect(store, a, b, c, d))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusSkipped},
		{b, migration.StatusDone},
		{c, migration.StatusDone},
		{d, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{b, c}, x.list())
}

func TestRun_fromMatchesFinishedMigration(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusDone})
	x := &executed{}

	_, err := executor.New(store, nil, executor.WithExecute(x.execute), executor.WithFrom(a)).
		Run(context.Background(), collect(store, a, b))

	require.NoError(t, err)
	assert.Equal(t, []string{b}, x.list())
}

func TestRun_limit(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusDone})
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute), executor.WithLimit(1)).
		Run(context.Background(), collect(store, a, b, c))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusDone},
		{c, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Equal(t, [][]string{{b}}, store.lockCalls)
}

func TestRun_validationFailureRollsBackLockList(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	rep := &events{}
	x := &executed{}

	validate := func(_ context.Context, m migration.Migration) error {
		if m.Name == c {
			return migerr.MigrationLoad(m.RelativeFilePath, errors.New("syntax error at or near \"TABEL\""))
		}

		return nil
	}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute), executor.WithValidate(validate)).
		Run(context.Background(), collect(store, a, b, c, d))

	require.ErrorIs(t, err, migerr.ErrMigrationLoad)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusSkipped},
		{b, migration.StatusSkipped},
		{c, migration.StatusFailed},
		{d, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Zero(t, outcomes[2].Duration)
	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
	assert.Empty(t, store.Entries(), "validation failures are not recorded")
	assert.Contains(t, rep.log, "error "+c)
}

func TestRun_lockErrorSkipsEverything(t *testing.T) {
	t.Parallel()

	lockErr := errors.New("connection refused")
	store := newFakeStore()
	store.lockFn = func([]migration.Migration) ([]migration.Migration, error) { return nil, lockErr }
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b))

	require.ErrorIs(t, err, lockErr)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusSkipped},
		{b, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Empty(t, x.list())
	assert.Empty(t, store.unlockCalls)
}

func TestRun_migrationsLockedElsewhereAreSkipped(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, err := store.Session().Lock(context.Background(), []migration.Migration{migration.New("/app", "migrations", b)})
	require.NoError(t, err)

	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b, c))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusSkipped},
		{c, migration.StatusDone},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{a, c}, x.list())
	assert.Equal(t, []string{a, c}, rep.locked)
	assert.Equal(t, [][]string{{a, c}}, store.unlockCalls)
	assert.Equal(t, migration.StatusLocked, store.statuses()[b], "other process keeps its lock")
}

func TestRun_lockAtomicityNeverExecutesOutsideLockedSet(t *testing.T) {
	t.Parallel()

	for _, grant := range []bool{false, true} {
		store := newFakeStore()
		store.lockFn = func(ms []migration.Migration) ([]migration.Migration, error) {
			if grant {
				return ms, nil
			}

			return nil, nil
		}

		x := &executed{}

		_, err := executor.New(store, nil, executor.WithExecute(x.execute)).
			Run(context.Background(), collect(store, a, b, c))
		require.NoError(t, err)

		if grant {
			assert.Equal(t, []string{a, b, c}, x.list())
		} else {
			assert.Empty(t, x.list())
		}
	}
}

func TestRun_unlockErrorTakesPriorityOverMigrationError(t *testing.T) {
	t.Parallel()

	unlockErr := errors.New("unlock failed")
	store := newFakeStore()
	store.unlockErr = unlockErr
	x := &executed{fail: map[string]error{a: errors.New("boom")}}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b))

	require.ErrorIs(t, err, unlockErr)
	assert.Len(t, outcomes, 2)
}

func TestRun_dryRunLocksAndExecutesNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore(migration.HistoryEntry{Name: a, Status: migration.StatusDone})
	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute), executor.WithDryRun(true)).
		Run(context.Background(), collect(store, a, b, c))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusPending},
		{c, migration.StatusPending},
	}, summarize(t, outcomes))
	assert.Equal(t, []string{b, c}, rep.locked)
	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
	assert.Empty(t, store.unlockCalls)
}

func TestRun_sequenceErrorIsCatastrophic(t *testing.T) {
	t.Parallel()

	broken := errors.New("history unavailable")
	seq := func(yield func(migration.Outcome, error) bool) {
		yield(migration.Outcome{}, broken)
	}

	rep := &events{}

	outcomes, err := executor.New(newFakeStore(), rep).Run(context.Background(), seq)

	require.ErrorIs(t, err, broken)
	assert.Nil(t, outcomes)
	assert.Equal(t, []string{"finished"}, rep.log)
	assert.Nil(t, rep.finished)
	assert.Equal(t, err, rep.final)
}

func TestRun_recordingFailureIsCatastrophicAndStillUnlocks(t *testing.T) {
	t.Parallel()

	recordErr := errors.New("disk full")
	store := newFakeStore()
	store.onSuccessErr = recordErr
	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b))

	require.ErrorIs(t, err, recordErr)
	assert.Nil(t, outcomes)
	assert.Equal(t, []string{a}, x.list())
	assert.Equal(t, [][]string{{a, b}}, store.unlockCalls)
	assert.Nil(t, rep.finished)
}

func TestRun_panicInMigrationFailsIt(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	execute := func(context.Context, migration.Migration) error { panic("nil map write") }

	outcomes, err := executor.New(store, nil, executor.WithExecute(execute)).
		Run(context.Background(), collect(store, a, b))

	require.ErrorIs(t, err, migerr.ErrMigrationRun)
	require.ErrorIs(t, err, executor.ErrPanic)
	assert.Equal(t, migration.StatusFailed, outcomes[0].Status)
	assert.Equal(t, migration.StatusSkipped, outcomes[1].Status)
}

func TestRun_defaultExecuteFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()

	_, err := executor.New(store, nil).Run(context.Background(), collect(store, a))

	require.ErrorIs(t, err, executor.ErrNoExecute)
}

func TestRun_abortBeforeStartRunsNothing(t *testing.T) {
	t.Parallel()

	reason := migerr.CommandAbortFromSignal(os.Interrupt)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(reason)

	store := newFakeStore()
	rep := &events{}
	x := &executed{}

	outcomes, err := executor.New(store, rep, executor.WithExecute(x.execute)).Run(ctx, collect(store, a, b))

	require.ErrorIs(t, err, migerr.ErrCommandAbort)
	assert.Same(t, reason, err)
	assert.Equal(t, []nameStatus{
		{a, migration.StatusSkipped},
		{b, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Empty(t, x.list())
	assert.Empty(t, store.lockCalls)
	require.Len(t, rep.aborts, 1)
}

func TestRun_abortDesertsSlowMigration(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	store := newFakeStore()
	rep := &events{}

	var (
		finished atomic.Bool
		started  = make(chan struct{})
	)

	execute := func(_ context.Context, m migration.Migration) error {
		if m.Name != a {
			t.Errorf("unexpected execution of %s", m.Name)

			return nil
		}

		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)

		return nil
	}

	go func() {
		<-started
		cancel(migerr.CommandAbortFromSignal(os.Interrupt))
	}()

	outcomes, err := executor.New(store, rep,
		executor.WithExecute(execute),
		executor.WithAbortRespite(10*time.Millisecond),
	).Run(ctx, collect(store, a, b))

	require.ErrorIs(t, err, migerr.ErrExecutionDeserted)
	require.ErrorIs(t, err, migerr.ErrCommandAbort)
	assert.Contains(t, err.Error(), "Deserted after 10ms")
	assert.False(t, finished.Load(), "run returned before the migration settled")

	assert.Equal(t, []nameStatus{
		{a, migration.StatusFailed},
		{b, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Equal(t, migration.StatusFailed, store.statuses()[a])
	require.Len(t, rep.aborts, 1, "abort is observed once")
}

func TestRun_abortWithinRespiteKeepsResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	store := newFakeStore()
	x := &executed{}
	started := make(chan struct{})

	execute := func(ctx context.Context, m migration.Migration) error {
		close(started)
		time.Sleep(20 * time.Millisecond)

		return x.execute(ctx, m)
	}

	go func() {
		<-started
		cancel(errors.New("deploy cancelled"))
	}()

	outcomes, err := executor.New(store, nil,
		executor.WithExecute(execute),
		executor.WithAbortRespite(time.Second),
	).Run(ctx, collect(store, a, b))

	require.ErrorIs(t, err, migerr.ErrCommandAbort)
	assert.Contains(t, err.Error(), "deploy cancelled")
	assert.Equal(t, []nameStatus{
		{a, migration.StatusDone},
		{b, migration.StatusSkipped},
	}, summarize(t, outcomes))
	assert.Equal(t, map[string]migration.Status{a: "done"}, store.statuses())
}

func TestRun_concurrentRunnersExecuteEachMigrationOnce(t *testing.T) {
	t.Parallel()

	base := newFakeStore()
	files := []string{a, b, c, d}

	var (
		mu    sync.Mutex
		count = map[string]int{}
		wg    sync.WaitGroup
	)

	execute := func(_ context.Context, m migration.Migration) error {
		mu.Lock()
		defer mu.Unlock()

		count[m.Name]++

		return nil
	}

	const runners = 6

	for range runners {
		session := &fakeStore{Store: base.Session()}

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := executor.New(session, nil, executor.WithExecute(execute)).
				Run(context.Background(), collect(session, files...))
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	for _, f := range files {
		assert.Equal(t, 1, count[f], f)
	}
}

func TestRun_outcomesFollowSequenceOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		migration.HistoryEntry{Name: c, Status: migration.StatusDone},
		migration.HistoryEntry{Name: a, Status: migration.StatusDone},
	)
	x := &executed{}

	outcomes, err := executor.New(store, nil, executor.WithExecute(x.execute)).
		Run(context.Background(), collect(store, a, b, c, d))

	require.NoError(t, err)
	assert.Equal(t, []nameStatus{
		{c, migration.StatusDone},
		{a, migration.StatusDone},
		{b, migration.StatusDone},
		{d, migration.StatusDone},
	}, summarize(t, outcomes))
}

func TestExecutor_isReusable(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	x := &executed{}
	e := executor.New(store, nil, executor.WithExecute(x.execute))

	var seqs []iter.Seq2[migration.Outcome, error]
	seqs = append(seqs, collect(store, a), collect(store, a, b))

	for _, seq := range seqs {
		_, err := e.Run(context.Background(), seq)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{a, b}, x.list())
}
