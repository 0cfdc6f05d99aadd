// The main package for the evomon executable.
package main

import (
	"github.com/evolab/evomon/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
