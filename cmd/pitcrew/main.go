// Package main is the entry point for PitCrew, the Open Cloud Ops incident
// response engine.
//
// The binary exposes three commands: serve runs the health monitor and the
// HTTP API, respond runs a single incident invocation against the target
// and prints its decision summary, and policy evaluates one action against
// the governance policy.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pitcrew:", err)
		os.Exit(1)
	}
}
