// Package loader turns a migration file into something the runner can
// execute. Loaders are chosen by file extension.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

// ErrNilFunc indicates a loader returned neither a function nor an error.
var ErrNilFunc = errors.New("loader returned no migration function")

// Func runs one migration.
type Func func(ctx context.Context) error

// Loader produces a Func for migrations with one of its extensions.
type Loader interface {
	// Extensions lists the file extensions handled, with leading dot.
	Extensions() []string
	Load(ctx context.Context, m migration.Migration) (Func, error)
}

// Validator is implemented by loaders that can check a migration without
// running it.
type Validator interface {
	Validate(ctx context.Context, m migration.Migration) error
}

// Set dispatches to the first registered loader for an extension.
type Set struct {
	byExt map[string]Loader
	exts  []string
}

// NewSet registers loaders in order. An extension claimed by an earlier
// loader is not reassigned.
func NewSet(loaders ...Loader) *Set {
	s := &Set{byExt: make(map[string]Loader)}

	for _, l := range loaders {
		for _, ext := range l.Extensions() {
			ext = normalizeExt(ext)
			if _, taken := s.byExt[ext]; taken {
				continue
			}

			s.byExt[ext] = l
			s.exts = append(s.exts, ext)
		}
	}

	return s
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return ext
}

// Extensions returns every handled extension in registration order.
func (s *Set) Extensions() []string {
	return slices.Clone(s.exts)
}

// For returns the loader for ext.
func (s *Set) For(ext string) (Loader, bool) {
	l, ok := s.byExt[normalizeExt(ext)]

	return l, ok
}

// Validate checks that m has a loader and, when that loader can, that it
// accepts m.
func (s *Set) Validate(ctx context.Context, m migration.Migration) error {
	l, ok := s.For(m.Extension)
	if !ok {
		return migerr.BadOption("plugin", "No loader plugin found for file extension: "+m.Extension)
	}

	v, ok := l.(Validator)
	if !ok {
		return nil
	}

	if err := v.Validate(ctx, m); err != nil {
		return migerr.MigrationLoad(m.RelativeFilePath, err)
	}

	return nil
}

// Execute loads m and runs it. Errors from the migration itself are returned
// unchanged.
func (s *Set) Execute(ctx context.Context, m migration.Migration) error {
	l, ok := s.For(m.Extension)
	if !ok {
		return migerr.BadOption("plugin", "No loader plugin found for file extension: "+m.Extension)
	}

	fn, err := l.Load(ctx, m)
	if err != nil {
		return migerr.MigrationLoad(m.RelativeFilePath, err)
	}

	if fn == nil {
		return migerr.MigrationLoad(m.RelativeFilePath, fmt.Errorf("%w: %s", ErrNilFunc, m.Name))
	}

	return fn(ctx)
}

// WithoutExecution returns an execute function that marks migrations as done
// without running them.
func WithoutExecution() func(ctx context.Context, m migration.Migration) error {
	return func(context.Context, migration.Migration) error { return nil }
}
