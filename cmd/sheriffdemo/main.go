// Command sheriffdemo exercises an xpersist region from the command
// line: run drives a synthetic multi-process workload whose counters
// stay in the region's backing file, report reattaches to that file
// and prints the ranked false-sharing hotspots.
//
// In a real host program HandleWrite is reached from a SIGSEGV handler
// on the first write to a protected page; sheriffdemo's "worker" processes
// call xpersist.HandleWrite directly at addresses they choose, since
// wiring a SIGSEGV handler is the collaborator sheriff leaves to the
// host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "sheriffdemo",
		Short: "Drive and inspect an xpersist false-sharing region",
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newReportCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
