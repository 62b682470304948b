// Command hatdata validates schemas, inspects stored records and mirrors
// remote repositories into local ones.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hatdata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
