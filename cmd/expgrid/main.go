// Command expgrid manages declarative benchmark experiment workspaces:
// it expands configured experiments, renders their execution artifacts,
// analyzes results and packages archives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
