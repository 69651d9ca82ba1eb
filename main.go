// The main package for the gradewatch executable.
package main

import (
	"github.com/JakeFAU/gradewatch/cmd"
)

func main() {
	cmd.Execute()
}
