// Command peersim plays the part of remote peers on the NATS bus: it
// announces peer events and prints the requests patchbay sends back.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	info   = color.New(color.FgCyan)
	warn   = color.New(color.FgYellow)
	bad    = color.New(color.FgRed)
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
