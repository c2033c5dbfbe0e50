// Command alertcore evaluates equipment events against alert rules and
// deduplicates the resulting alerts, either offline from files or as a
// long-running HTTP and MQTT service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
