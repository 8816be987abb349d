// Package main is the entrypoint for waitlistctl.
package main

import (
	"fmt"
	"os"

	"github.com/hearthline/waitlist/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
