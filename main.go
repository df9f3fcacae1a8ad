// The main package for the webharvest executable.
package main

import (
	"github.com/JakeFAU/webharvest/cmd"
)

func main() {
	cmd.Execute()
}
