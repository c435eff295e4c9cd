package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/config"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
	"github.com/aqasim81/migration-runner/internal/storage/memory"
)

// project is a temporary working directory with a migrations folder and a
// shared in-memory history.
type project struct {
	t     *testing.T
	dir   string
	store *memory.Store
}

func newProject(t *testing.T) *project {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "migrations"), 0o755))

	return &project{t: t, dir: dir, store: memory.New()}
}

// script writes a shell migration.
func (p *project) script(name, body string) {
	p.t.Helper()

	path := filepath.Join(p.dir, "migrations", name)
	require.NoError(p.t, os.WriteFile(path, []byte("set -e\n"+body+"\n"), 0o644))
}

// ran returns what the scripts appended to ran.txt.
func (p *project) ran() string {
	p.t.Helper()

	data, err := os.ReadFile(filepath.Join(p.dir, "ran.txt"))
	if os.IsNotExist(err) {
		return ""
	}

	require.NoError(p.t, err)

	return string(data)
}

func (p *project) statuses() map[string]migration.Status {
	out := map[string]migration.Status{}
	for _, e := range p.store.Entries() {
		out[e.Name] = e.Status
	}

	return out
}

type result struct {
	code   int
	out    string
	errOut string
}

// run executes the command line against the project with the memory store
// and the script loader.
func (p *project) run(ctx context.Context, args ...string) result {
	p.t.Helper()

	var out, errOut bytes.Buffer

	a := newApp(&out, &errOut)
	a.openStorage = func(context.Context, *config.Config, *connections, logrus.FieldLogger) (storage.Storage, error) {
		return p.store.Session(), nil
	}

	args = append(args, "--cwd", p.dir, "--plugin", "script")
	code := run(ctx, a, args)

	return result{code: code, out: out.String(), errOut: errOut.String()}
}
