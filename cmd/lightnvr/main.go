// Command lightnvr is the lightweight network video recorder.
package main

import (
	"os"

	"github.com/opensensor/lightnvr/cmd/lightnvr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
