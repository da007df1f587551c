// Command enrolsync reconciles SIS enrolments into the LMS.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/enrolsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "enrolsync: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
