// Command netreassemble drives the pipeline package from a pcap file or a
// live interface, for manual testing and benchmarking of the core engine.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
