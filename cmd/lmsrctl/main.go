// Command lmsrctl evaluates LMSR prices and trade costs for a share vector
// without running the exchange.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
