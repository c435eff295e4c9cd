package migration_test

import (
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

func history(entries ...migration.HistoryEntry) iter.Seq2[migration.HistoryEntry, error] {
	return func(yield func(migration.HistoryEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func discoverNames(names ...string) migration.DiscoverFunc {
	return func(cwd, directory string) ([]migration.Migration, error) {
		ms := make([]migration.Migration, len(names))
		for i, n := range names {
			ms[i] = migration.New(cwd, directory, n)
		}

		return ms, nil
	}
}

type collected struct {
	name   string
	status migration.Status
}

func drain(t *testing.T, seq iter.Seq2[migration.Outcome, error]) ([]collected, []migration.Outcome) {
	t.Helper()

	var (
		got      []collected
		outcomes []migration.Outcome
	)

	for o, err := range seq {
		require.NoError(t, err)

		got = append(got, collected{o.Name, o.Status})
		outcomes = append(outcomes, o)
	}

	return got, outcomes
}

func TestCollect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history []migration.HistoryEntry
		files   []string
		want    []collected
	}{
		{
			name:  "no history yields untagged files in order",
			files: []string{"001_a.sql", "002_b.sql"},
			want:  []collected{{"001_a.sql", ""}, {"002_b.sql", ""}},
		},
		{
			name:    "history entries come first in history order",
			history: []migration.HistoryEntry{{Name: "002_b.sql", Status: "done"}, {Name: "001_a.sql", Status: "done"}},
			files:   []string{"001_a.sql", "002_b.sql", "003_c.sql"},
			want:    []collected{{"002_b.sql", "done"}, {"001_a.sql", "done"}, {"003_c.sql", ""}},
		},
		{
			name:    "history without extension matches legacy extension",
			history: []migration.HistoryEntry{{Name: "001_a", Status: "done"}},
			files:   []string{"001_a.js", "002_b.js"},
			want:    []collected{{"001_a.js", "done"}, {"002_b.js", ""}},
		},
		{
			name:    "legacy rule does not infer other extensions",
			history: []migration.HistoryEntry{{Name: "001_a", Status: "done"}},
			files:   []string{"001_a.sql"},
			want:    []collected{{"001_a.sql", ""}},
		},
		{
			name:    "exact name wins over legacy extension",
			history: []migration.HistoryEntry{{Name: "001_a", Status: "done"}},
			files:   []string{"001_a", "001_a.js"},
			want:    []collected{{"001_a", "done"}, {"001_a.js", ""}},
		},
		{
			name:    "history without a file is dropped",
			history: []migration.HistoryEntry{{Name: "000_gone.sql", Status: "done"}},
			files:   []string{"001_a.sql"},
			want:    []collected{{"001_a.sql", ""}},
		},
		{
			name:    "duplicate history names appear once",
			history: []migration.HistoryEntry{{Name: "001_a.sql", Status: "done"}, {Name: "001_a", Status: "done"}},
			files:   []string{"001_a.sql"},
			want:    []collected{{"001_a.sql", "done"}},
		},
		{
			name:    "entry without a status counts as done",
			history: []migration.HistoryEntry{{Name: "001_a.sql"}},
			files:   []string{"001_a.sql", "002_b.sql"},
			want:    []collected{{"001_a.sql", "done"}, {"002_b.sql", ""}},
		},
		{
			name:    "skipped history is kept",
			history: []migration.HistoryEntry{{Name: "001_a.sql", Status: "skipped"}},
			files:   []string{"001_a.sql"},
			want:    []collected{{"001_a.sql", "skipped"}},
		},
		{
			name:    "backend specific statuses are kept",
			history: []migration.HistoryEntry{{Name: "001_a.sql", Status: "baseline"}},
			files:   []string{"001_a.sql"},
			want:    []collected{{"001_a.sql", "baseline"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			seq := migration.Collect("/app", "migrations", history(tt.history...), discoverNames(tt.files...))

			got, _ := drain(t, seq)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollect_failedHistoryCarriesHistoryError(t *testing.T) {
	t.Parallel()

	stored := migerr.Serialize(errors.New("duplicate column"))
	seq := migration.Collect("/app", "migrations",
		history(migration.HistoryEntry{Name: "001_a.sql", Status: migration.StatusFailed, Error: stored}),
		discoverNames("001_a.sql", "002_b.sql"),
	)

	_, outcomes := drain(t, seq)
	require.Len(t, outcomes, 2)

	failed := outcomes[0]
	assert.Equal(t, migration.StatusFailed, failed.Status)
	require.ErrorIs(t, failed.Err, migerr.ErrMigrationHistory)
	assert.Contains(t, failed.Err.Error(), "duplicate column")
	assert.Zero(t, failed.Duration)
}

func TestCollect_isDeterministic(t *testing.T) {
	t.Parallel()

	h := []migration.HistoryEntry{{Name: "002_b.sql", Status: "done"}}
	files := []string{"001_a.sql", "002_b.sql", "003_c.sql"}

	first, _ := drain(t, migration.Collect("/app", "m", history(h...), discoverNames(files...)))
	second, _ := drain(t, migration.Collect("/app", "m", history(h...), discoverNames(files...)))

	assert.Equal(t, first, second)
}

func TestCollect_historyErrorEndsSequence(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	broken := func(yield func(migration.HistoryEntry, error) bool) {
		if !yield(migration.HistoryEntry{Name: "001_a.sql", Status: "done"}, nil) {
			return
		}

		yield(migration.HistoryEntry{}, boom)
	}

	var errs []error
	count := 0

	for _, err := range migration.Collect("/app", "m", broken, discoverNames("001_a.sql", "002_b.sql")) {
		count++

		if err != nil {
			errs = append(errs, err)
		}
	}

	assert.Equal(t, 2, count)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestCollect_discoveryErrorIsYielded(t *testing.T) {
	t.Parallel()

	failing := func(string, string) ([]migration.Migration, error) {
		return nil, migerr.BadOption("directory", "Couldn't read directory: m")
	}

	for _, err := range migration.Collect("/app", "m", history(), failing) {
		require.ErrorIs(t, err, migerr.ErrBadOption)
	}
}

func TestMatchesEntry(t *testing.T) {
	t.Parallel()

	m := migration.New("/app", "migrations", "001_init.js")

	assert.True(t, migration.MatchesEntry(m, "001_init.js"))
	assert.True(t, migration.MatchesEntry(m, "001_init"))
	assert.False(t, migration.MatchesEntry(m, "001_init.sql"))
	assert.False(t, migration.MatchesEntry(migration.New("/app", "migrations", "001_init.sql"), "001_init"))
}
