// Idiomatic entrypoint for the Cobra CLI; delegates to the root command in cmd/root.go.

package main

import (
	"github.com/rob9206/dynoai/cmd"
)

func main() {
	cmd.Execute()
}
