// Command migrate runs database migrations.
package main

import "github.com/aqasim81/migration-runner/internal/cli"

func main() {
	cli.Execute()
}
