package migration

import (
	"slices"
	"strings"
)

// Sort returns a new slice of migrations ordered by Name. Names start with a
// sortable timestamp or version prefix, so lexicographic order is execution
// order.
func Sort(migrations []Migration) []Migration {
	sorted := slices.Clone(migrations)

	slices.SortStableFunc(sorted, func(a, b Migration) int {
		return strings.Compare(a.Name, b.Name)
	})

	return sorted
}
