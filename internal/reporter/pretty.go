package reporter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aqasim81/migration-runner/internal/migration"
)

// Pretty writes human-readable progress lines.
type Pretty struct {
	out     io.Writer
	command string
	dry     bool
	started string // name of the migration whose line is still open
}

var _ Reporter = (*Pretty)(nil)

// NewPretty creates a Pretty reporter writing to out.
func NewPretty(out io.Writer) *Pretty {
	return &Pretty{out: out}
}

func (p *Pretty) OnInit(_ context.Context, info Info) {
	p.command = info.Command
	p.dry = info.Dry

	fmt.Fprintf(p.out, "migrate %s v%s %s", info.Command, info.Version, info.Cwd)

	if info.Dry {
		fmt.Fprint(p.out, " (dry run)")
	}

	fmt.Fprintln(p.out)
}

func (p *Pretty) OnAbort(_ context.Context, reason error) {
	p.closeLine("ABORTED")
	fmt.Fprintf(p.out, "Aborting: %v\n", reason)
}

func (p *Pretty) OnCollectedMigrations(_ context.Context, collected []migration.Outcome) {
	if len(collected) == 0 {
		fmt.Fprintln(p.out, "No migration files found.")
	}
}

func (p *Pretty) OnLockedMigrations(_ context.Context, locked []migration.Migration) {
	if p.dry {
		fmt.Fprintf(p.out, "\n--- DRY RUN (no changes will be made) ---\n%d migration(s) would be applied\n", len(locked))

		return
	}

	fmt.Fprintf(p.out, "%d migration(s) to apply\n", len(locked))
}

func (p *Pretty) OnNewMigration(_ context.Context, m migration.Migration, _ []byte) {
	fmt.Fprintf(p.out, "Created %s\n", m.RelativeFilePath)
}

func (p *Pretty) OnMigrationRemoveStart(_ context.Context, m migration.Migration) {
	fmt.Fprintf(p.out, "  Removing %s from history ... ", m.Name)
	p.started = m.Name
}

func (p *Pretty) OnMigrationRemoveSuccess(_ context.Context, _ migration.Migration) {
	p.closeLine("done")
}

func (p *Pretty) OnMigrationRemoveError(_ context.Context, _ migration.Migration, err error) {
	p.closeLine("FAILED")
	fmt.Fprintf(p.out, "    Error: %v\n", err)
}

func (p *Pretty) OnMigrationStart(_ context.Context, o migration.Outcome) {
	fmt.Fprintf(p.out, "  Applying %s ... ", o.Name)
	p.started = o.Name
}

func (p *Pretty) OnMigrationSuccess(_ context.Context, o migration.Outcome) {
	if p.started == o.Name {
		p.closeLine(fmt.Sprintf("done (%s)", o.Duration.Truncate(time.Millisecond)))

		return
	}

	p.line(o)
}

func (p *Pretty) OnMigrationError(_ context.Context, o migration.Outcome, err error) {
	if p.started == o.Name {
		p.closeLine("FAILED")
	} else {
		p.line(o)
	}

	fmt.Fprintf(p.out, "    Error: %v\n", err)
}

func (p *Pretty) OnMigrationSkip(_ context.Context, o migration.Outcome) {
	p.line(o)
}

func (p *Pretty) OnFinished(_ context.Context, outcomes []migration.Outcome, err error) {
	p.closeLine("")

	if outcomes != nil && p.command == "up" {
		counts := map[migration.Status]int{}
		for _, o := range outcomes {
			counts[o.Status]++
		}

		if p.dry {
			fmt.Fprintf(p.out, "\nDry run complete: %d pending, %d skipped, %d already done.\n",
				counts[migration.StatusPending], counts[migration.StatusSkipped], counts[migration.StatusDone])
		} else {
			fmt.Fprintf(p.out, "\nUp complete: %d done, %d failed, %d skipped.\n",
				counts[migration.StatusDone], counts[migration.StatusFailed], counts[migration.StatusSkipped])
		}
	}

	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

func (p *Pretty) line(o migration.Outcome) {
	status := o.Status
	if status == migration.StatusNone {
		status = migration.StatusPending
	}

	fmt.Fprintf(p.out, "  %-8s %s\n", status, o.Name)
}

func (p *Pretty) closeLine(suffix string) {
	if p.started == "" {
		return
	}

	fmt.Fprintln(p.out, suffix)
	p.started = ""
}
