// The main package for the extractor executable.
package main

import (
	"github.com/JakeFAU/page-extractor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
