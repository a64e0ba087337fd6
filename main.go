// The main package for the notion-mirror executable.
package main

import (
	"github.com/JakeFAU/notion-mirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
