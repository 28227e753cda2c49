// Command rentalctl operates the rental ledger from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/AntonStoeckl/rental-ledger-go/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
