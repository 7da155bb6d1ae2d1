// The main package for the citecrawl executable.
package main

import (
	"github.com/miscite/citecrawl/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
