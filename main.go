// ./main.go
package main

import (
	"github.com/xkilldash9x/a11y-bridge/cmd"
)

// main is the entry point for the a11y-bridge CLI.
func main() {
	cmd.Execute()
}
