// The main package for the userdir executable.
package main

import (
	"github.com/JakeFAU/userdir-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
