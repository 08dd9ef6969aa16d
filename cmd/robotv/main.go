// robotv is the streaming head-end server: it ingests transport streams
// from capture devices and serves them to clients over TCP with an
// on-disk timeshift buffer.
package main

import (
	"os"

	"github.com/pipelka/robotv-go/cmd/robotv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
