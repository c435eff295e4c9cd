package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// ErrMigrationExists indicates a generated file name is already taken.
var ErrMigrationExists = errors.New("migration file already exists")

// timestampLayout yields a 17 digit, lexicographically sortable prefix.
const timestampLayout = "20060102150405.000"

var unsafeNameChars = regexp.MustCompile( //nolint:gochecknoglobals // compiled once, used by SanitizeName
	`[\W/\\:|*?'"<>_]+`,
)

// defaultContents holds the body of new migrations without a template.
var defaultContents = map[string]string{ //nolint:gochecknoglobals // read-only lookup table
	".sql": "-- Migration: %s\n",
	".sh":  "#!/bin/sh\n# Migration: %s\nset -eu\n",
}

// NewFileOptions configures NewFile.
type NewFileOptions struct {
	Name      string    // human name, sanitized into the file name
	Extension string    // ".sql"; taken from Template when empty
	Template  string    // optional path to a template file
	Now       time.Time // defaults to time.Now
}

// TimestampPrefix formats t as the prefix used for new migration names.
func TimestampPrefix(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(timestampLayout), ".", "")
}

// SanitizeName turns a free-form name into a safe, lowercase file name part.
func SanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")

	return strings.ToLower(strings.Trim(s, "_"))
}

// NewFile creates a new migration file in directory and returns it together
// with the contents written. Existing files are never overwritten.
func NewFile(cwd, directory string, opts NewFileOptions) (Migration, []byte, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return Migration{}, nil, migerr.MissingArguments("name")
	}

	ext, content, err := resolveContent(cwd, opts)
	if err != nil {
		return Migration{}, nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	name := TimestampPrefix(now) + "_" + SanitizeName(opts.Name) + ext
	m := New(cwd, directory, name)

	if err := os.MkdirAll(filepath.Dir(m.FilePath), 0o755); err != nil {
		return Migration{}, nil, fmt.Errorf("creating migrations directory %s: %w", directory, err)
	}

	f, err := os.OpenFile(m.FilePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return Migration{}, nil, fmt.Errorf("%w: %s", ErrMigrationExists, m.RelativeFilePath)
		}

		return Migration{}, nil, fmt.Errorf("creating migration file %s: %w", m.RelativeFilePath, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return Migration{}, nil, fmt.Errorf("writing migration file %s: %w", m.RelativeFilePath, err)
	}

	return m, content, nil
}

func resolveContent(cwd string, opts NewFileOptions) (string, []byte, error) {
	ext := opts.Extension
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if opts.Template != "" {
		path := opts.Template
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			e := migerr.BadOption("template", "Failed to read template file: "+opts.Template)
			e.Cause = err

			return "", nil, e
		}

		if ext == "" {
			ext = templateExtension(opts.Template)
		}

		return ext, data, nil
	}

	if ext == "" {
		return "", nil, migerr.MissingOption("extension")
	}

	if format, ok := defaultContents[ext]; ok {
		return ext, []byte(fmt.Sprintf(format, opts.Name)), nil
	}

	return ext, nil, nil
}

// templateExtension returns the extension of a template, ignoring a
// trailing ".tmpl" or ".template" suffix.
func templateExtension(path string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{".tmpl", ".template"} {
		base = strings.TrimSuffix(base, suffix)
	}

	return filepath.Ext(base)
}
