package executor_test

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/reporter"
	"github.com/aqasim81/migration-runner/internal/storage"
	"github.com/aqasim81/migration-runner/internal/storage/memory"
)

// fakeStore wraps the memory store with failure injection and call tracking.
type fakeStore struct {
	*memory.Store

	mu           sync.Mutex
	lockFn       func(ms []migration.Migration) ([]migration.Migration, error)
	unlockErr    error
	onSuccessErr error
	lockCalls    [][]string
	unlockCalls  [][]string
}

var _ storage.Storage = (*fakeStore)(nil)

func newFakeStore(seed ...migration.HistoryEntry) *fakeStore {
	s := &fakeStore{Store: memory.New()}
	s.Seed(seed...)

	return s
}

func (f *fakeStore) Lock(ctx context.Context, ms []migration.Migration) ([]migration.Migration, error) {
	f.mu.Lock()
	f.lockCalls = append(f.lockCalls, storage.Names(ms))
	lockFn := f.lockFn
	f.mu.Unlock()

	if lockFn != nil {
		return lockFn(ms)
	}

	return f.Store.Lock(ctx, ms)
}

func (f *fakeStore) Unlock(ctx context.Context, ms []migration.Migration) error {
	f.mu.Lock()
	f.unlockCalls = append(f.unlockCalls, storage.Names(ms))
	f.mu.Unlock()

	if f.unlockErr != nil {
		return f.unlockErr
	}

	return f.Store.Unlock(ctx, ms)
}

func (f *fakeStore) OnSuccess(ctx context.Context, o migration.Outcome) error {
	if f.onSuccessErr != nil {
		return f.onSuccessErr
	}

	return f.Store.OnSuccess(ctx, o)
}

func (f *fakeStore) statuses() map[string]migration.Status {
	out := map[string]migration.Status{}
	for _, e := range f.Entries() {
		out[e.Name] = e.Status
	}

	return out
}

// events records reporter callbacks as "callback name" strings.
type events struct {
	reporter.Base

	mu       sync.Mutex
	log      []string
	aborts   []error
	finished []migration.Outcome
	final    error
	locked   []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) OnAbort(_ context.Context, reason error) {
	e.aborts = append(e.aborts, reason)
	e.add("abort")
}

func (e *events) OnCollectedMigrations(_ context.Context, collected []migration.Outcome) {
	e.add("collected %d", len(collected))
}

func (e *events) OnLockedMigrations(_ context.Context, locked []migration.Migration) {
	e.locked = storage.Names(locked)
	e.add("locked %d", len(locked))
}

func (e *events) OnMigrationStart(_ context.Context, o migration.Outcome) { e.add("start %s", o.Name) }

func (e *events) OnMigrationSuccess(_ context.Context, o migration.Outcome) {
	e.add("success %s", o.Name)
}

func (e *events) OnMigrationError(_ context.Context, o migration.Outcome, _ error) {
	e.add("error %s", o.Name)
}

func (e *events) OnMigrationSkip(_ context.Context, o migration.Outcome) {
	e.add("skip %s %s", o.Name, o.Status)
}

func (e *events) OnFinished(_ context.Context, outcomes []migration.Outcome, err error) {
	e.finished = outcomes
	e.final = err
	e.add("finished")
}

// executed records migrations run by an ExecuteFunc and fails the listed ones.
type executed struct {
	mu    sync.Mutex
	names []string
	fail  map[string]error
}

func (x *executed) execute(_ context.Context, m migration.Migration) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.names = append(x.names, m.Name)

	return x.fail[m.Name]
}

func (x *executed) list() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	return append([]string(nil), x.names...)
}

func discover(names ...string) migration.DiscoverFunc {
	return func(cwd, directory string) ([]migration.Migration, error) {
		ms := make([]migration.Migration, len(names))
		for i, n := range names {
			ms[i] = migration.New(cwd, directory, n)
		}

		return ms, nil
	}
}

// collect builds the run input from store history and the given files.
func collect(s storage.Storage, files ...string) iter.Seq2[migration.Outcome, error] {
	return migration.Collect("/app", "migrations", s.History(context.Background()), discover(files...))
}

type nameStatus struct {
	Name   string
	Status migration.Status
}

func summarize(t *testing.T, outcomes []migration.Outcome) []nameStatus {
	t.Helper()

	out := make([]nameStatus, len(outcomes))
	for i, o := range outcomes {
		require.Equal(t, o.Status == migration.StatusFailed, o.Err != nil, "error set iff failed: %s", o.Name)

		out[i] = nameStatus{o.Name, o.Status}
	}

	return out
}
