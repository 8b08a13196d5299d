// Command pulse runs the SEC Form 4 insider trading pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"pulsereveal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
