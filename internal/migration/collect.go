package migration

import (
	"iter"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// legacyExtension is appended to history names stored without an extension
// by earlier releases. Only this one extension is inferred.
const legacyExtension = ".js"

// Collect merges history with the migrations found by discover into one
// ordered sequence: first every history entry that still has a file, in
// history order and tagged with its recorded status, then every remaining
// file in discovery order, untagged. Each name appears at most once.
//
// The sequence is single-pass. Discovery runs when iteration starts; a
// discovery or history error is yielded once and ends the sequence.
func Collect(cwd, directory string, history iter.Seq2[HistoryEntry, error], discover DiscoverFunc) iter.Seq2[Outcome, error] {
	if discover == nil {
		discover = LoadFromDir
	}

	return func(yield func(Outcome, error) bool) {
		discovered, err := discover(cwd, directory)
		if err != nil {
			yield(Outcome{}, err)
			return
		}

		seen := make(map[string]struct{}, len(discovered))

		for entry, err := range history {
			if err != nil {
				yield(Outcome{}, err)
				return
			}

			m, ok := matchEntry(discovered, entry.Name)
			if !ok {
				continue // file no longer exists
			}

			if _, dup := seen[m.Name]; dup {
				continue
			}

			seen[m.Name] = struct{}{}

			if !yield(fromHistory(m, entry), nil) {
				return
			}
		}

		for _, m := range discovered {
			if _, ok := seen[m.Name]; ok {
				continue
			}

			if !yield(Untagged(m), nil) {
				return
			}
		}
	}
}

// MatchesEntry reports whether a history entry named name records m.
func MatchesEntry(m Migration, name string) bool {
	return m.Name == name || m.Name == name+legacyExtension
}

// matchEntry finds the file recorded by a history entry. An exact name match
// wins over the legacy extension rule.
func matchEntry(discovered []Migration, name string) (Migration, bool) {
	for _, m := range discovered {
		if m.Name == name {
			return m, true
		}
	}

	for _, m := range discovered {
		if MatchesEntry(m, name) {
			return m, true
		}
	}

	return Migration{}, false
}

// fromHistory tags m with the recorded status. An entry without a status
// still means the migration ran, so it is reported as done.
func fromHistory(m Migration, entry HistoryEntry) Outcome {
	switch entry.Status {
	case StatusFailed:
		return Untagged(m).Failed(0, migerr.MigrationHistory(m.Name, entry.Err()))
	case StatusNone:
		return Untagged(m).WithStatus(StatusDone)
	default:
		return Untagged(m).WithStatus(entry.Status)
	}
}
