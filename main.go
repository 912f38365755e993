// The main package for the pagepull executable.
package main

import (
	"github.com/listinglab/pagepull/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
