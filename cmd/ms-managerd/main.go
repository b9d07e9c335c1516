// Command ms-managerd is the update-and-deployment core's CLI/daemon
// entrypoint: it resolves and installs MIDI Studio releases, supervises the
// bridge helper process, drives firmware flashes, and relocates the
// on-disk payload root. Grounded on the teacher's telemetry-data CLI root
// command (controlplane/telemetry/internal/data/cli/root.go) and
// mcastrelay/cmd/server/main.go's signal-driven shutdown.
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
