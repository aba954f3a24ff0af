package main

import (
	"fmt"
	"net"
	"os"
)

// Version is the server's release version, reported by "version" and
// logged at startup.
var Version = "0.1.0-dev"

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled (checked against os.Args[1] before flag.Parse() runs), with
// no store-backed subcommands — this server keeps no state across
// restarts (§1 Non-goals: no persistence).
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("nimble server %s\n", Version)
		return true
	case "config-check":
		return cliConfigCheck(args[1:])
	default:
		return false
	}
}

// cliConfigCheck validates a -addr-style listen address without
// starting the server, useful in deploy scripts before a restart.
func cliConfigCheck(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: server config-check <addr>")
		os.Exit(1)
	}
	host, port, err := net.SplitHostPort(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid address %q: %v\n", args[0], err)
		os.Exit(1)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	fmt.Printf("OK: host=%s port=%s\n", host, port)
	return true
}
