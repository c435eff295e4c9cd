// Package memory provides an in-process Storage. Several sessions can share
// one state to model concurrent runners.
package memory

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

type entry struct {
	migration.HistoryEntry
	owner string
}

type state struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order of names
}

// Store is an in-memory Storage session.
type Store struct {
	state *state
	owner string
	now   func() time.Time
}

// New creates a Store with empty history.
func New() *Store {
	return &Store{
		state: &state{entries: make(map[string]*entry)},
		owner: uuid.NewString(),
		now:   time.Now,
	}
}

// Session returns another Store over the same history with its own lock
// ownership, as a second process would see it.
func (s *Store) Session() *Store {
	return &Store{state: s.state, owner: uuid.NewString(), now: s.now}
}

// Seed appends finished history entries, oldest first.
func (s *Store) Seed(entries ...migration.HistoryEntry) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, e := range entries {
		if e.Date.IsZero() {
			e.Date = s.now()
		}

		s.put(&entry{HistoryEntry: e})
	}
}

// Entries returns a snapshot of every entry including locked ones.
func (s *Store) Entries() []migration.HistoryEntry {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	out := make([]migration.HistoryEntry, 0, len(s.state.order))
	for _, name := range s.state.order {
		out = append(out, s.state.entries[name].HistoryEntry)
	}

	return out
}

// put stores e; the caller holds the lock.
func (s *Store) put(e *entry) {
	if _, ok := s.state.entries[e.Name]; !ok {
		s.state.order = append(s.state.order, e.Name)
	}

	s.state.entries[e.Name] = e
}

// Lock implements storage.Storage.
func (s *Store) Lock(_ context.Context, migrations []migration.Migration) ([]migration.Migration, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	locked := make([]migration.Migration, 0, len(migrations))

	for _, m := range migrations {
		if _, taken := s.state.entries[m.Name]; taken {
			continue
		}

		s.put(&entry{
			HistoryEntry: migration.HistoryEntry{Name: m.Name, Status: migration.StatusLocked, Date: s.now()},
			owner:        s.owner,
		})

		locked = append(locked, m)
	}

	return locked, nil
}

// Unlock implements storage.Storage.
func (s *Store) Unlock(_ context.Context, migrations []migration.Migration) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, m := range migrations {
		e, ok := s.state.entries[m.Name]
		if !ok || e.Status != migration.StatusLocked || e.owner != s.owner {
			continue
		}

		s.delete(m.Name)
	}

	return nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(_ context.Context, m migration.Migration) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if _, ok := s.state.entries[m.Name]; !ok {
		return storage.ErrEntryNotFound
	}

	s.delete(m.Name)

	return nil
}

func (s *Store) delete(name string) {
	delete(s.state.entries, name)
	s.state.order = slices.DeleteFunc(s.state.order, func(n string) bool { return n == name })
}

// History implements storage.Storage. It iterates over a snapshot taken when
// iteration starts.
func (s *Store) History(_ context.Context) iter.Seq2[migration.HistoryEntry, error] {
	return func(yield func(migration.HistoryEntry, error) bool) {
		for _, e := range s.Entries() {
			if e.Status == migration.StatusLocked {
				continue
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}

// OnSuccess implements storage.Storage.
func (s *Store) OnSuccess(_ context.Context, o migration.Outcome) error {
	s.finish(o.Name, migration.StatusDone, "")

	return nil
}

// OnError implements storage.Storage.
func (s *Store) OnError(_ context.Context, o migration.Outcome, err error) error {
	s.finish(o.Name, migration.StatusFailed, migerr.Serialize(err))

	return nil
}

func (s *Store) finish(name string, status migration.Status, serialized string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.put(&entry{HistoryEntry: migration.HistoryEntry{
		Name:   name,
		Status: status,
		Date:   s.now(),
		Error:  serialized,
	}})
}

// End implements storage.Storage.
func (s *Store) End(_ context.Context) error {
	return nil
}
