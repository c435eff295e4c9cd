package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// DiscoverFunc returns every candidate migration in directory, resolved
// against cwd, in discovery order.
type DiscoverFunc func(cwd, directory string) ([]Migration, error)

// LoadFromDir scans a directory for migration files and returns them sorted
// by name. Subdirectories and files whose name starts with "." or "_" are
// skipped.
func LoadFromDir(cwd, directory string) ([]Migration, error) {
	dir := directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cwd, directory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		e := migerr.BadOption("directory", fmt.Sprintf("Couldn't read directory: %s", directory))
		e.Cause = err

		return nil, e
	}

	var migrations []Migration

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}

		migrations = append(migrations, New(cwd, directory, entry.Name()))
	}

	return Sort(migrations), nil
}

// Find resolves a single migration by file name, name without extension,
// or path. The file must live directly in directory.
func Find(cwd, directory, nameOrPath string) (Migration, error) {
	if nameOrPath == "" {
		return Migration{}, migerr.MissingArguments("name")
	}

	migrations, err := LoadFromDir(cwd, directory)
	if err != nil {
		return Migration{}, err
	}

	base := filepath.Base(nameOrPath)

	for _, m := range migrations {
		if m.Name == base || strings.TrimSuffix(m.Name, m.Extension) == base {
			return m, nil
		}
	}

	return Migration{}, migerr.BadOption("name", fmt.Sprintf("The migration: %q was not found in %s", nameOrPath, directory))
}
