// The main package for the courtcrawler executable.
package main

import (
	"github.com/kyrt-project/courtcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
