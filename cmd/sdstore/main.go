package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes shared by every subcommand.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[1] {
	case "path":
		return runPathCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "rename":
		return runRenameCmd(args[2:], stdout, stderr)
	case "flag":
		return runFlagCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `sdstore - secure submission artifact store

Usage:
  sdstore <command> [flags] [args]

Commands:
  path    <filesystem_id> [filename]          Print the resolved store path
  verify  <path>                              Check a path against the store
  rename  <filesystem_id> <filename> <alias>  Swap the alias in an artifact name
  flag    <filesystem_id>                     Mark a source for deletion
  export  --source <id> | --uuid <u>...       Build a bulk zip archive
  sweep   [--max-age 24h]                     Remove expired bulk archives

Every command accepts --config <file.yaml> (or SDSTORE_CONFIG). Environment
variables override file values.

Exit codes:
  0 = ok
  1 = operation failed or artifact unchanged
  2 = usage or configuration error
`)
}
