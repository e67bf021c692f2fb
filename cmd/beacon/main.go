// Package main is the CLI entry point for Beacon, a local-first assistant
// runtime that pairs a conversational agent loop with a background task
// orchestrator and a hybrid memory store.
//
// # Basic Usage
//
// Start the runtime:
//
//	beacon serve --config beacon.yaml
//
// Talk to the agent:
//
//	beacon chat "what is on my plate today?"
//
// Manage background tasks:
//
//	beacon task list
//	beacon task approve <id>
//
// # Environment Variables
//
//   - BEACON_CONFIG: path to the configuration file (default: beacon.yaml)
//   - ANTHROPIC_API_KEY: API key for the remote tier
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
