package main

import (
	"context"
	"fmt"
	"io"
)

// runPathCmd implements `sdstore path`.
//
// Exit codes:
//
//	0 = path printed
//	1 = path rejected
//	2 = usage or configuration error
func runPathCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("path", stderr)
	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if cmd.NArg() < 1 || cmd.NArg() > 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: sdstore path <filesystem_id> [filename]")
		return exitUsage
	}

	ctx := context.Background()
	a, ok := openApp(ctx, *configPath, stderr, appOptions{})
	if !ok {
		return exitUsage
	}
	defer a.close()

	p, err := a.storage.Path(cmd.Arg(0), cmd.Args()[1:]...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	_, _ = fmt.Fprintln(stdout, p)
	return exitOK
}

// runVerifyCmd implements `sdstore verify`.
//
// Exit codes:
//
//	0 = path verified
//	1 = verification failed
//	2 = usage or configuration error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("verify", stderr)
	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: sdstore verify <path>")
		return exitUsage
	}

	ctx := context.Background()
	a, ok := openApp(ctx, *configPath, stderr, appOptions{})
	if !ok {
		return exitUsage
	}
	defer a.close()

	if err := a.storage.Verify(cmd.Arg(0)); err != nil {
		_, _ = fmt.Fprintf(stderr, "FAIL: %v\n", err)
		return exitFail
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return exitOK
}

// runRenameCmd implements `sdstore rename`. The resulting filename is always
// printed so callers can persist it.
//
// Exit codes:
//
//	0 = renamed
//	1 = left unchanged
//	2 = usage or configuration error
func runRenameCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("rename", stderr)
	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if cmd.NArg() != 3 {
		_, _ = fmt.Fprintln(stderr, "Usage: sdstore rename <filesystem_id> <filename> <alias>")
		return exitUsage
	}

	ctx := context.Background()
	a, ok := openApp(ctx, *configPath, stderr, appOptions{})
	if !ok {
		return exitUsage
	}
	defer a.close()

	out := a.storage.RenameSubmission(ctx, cmd.Arg(0), cmd.Arg(1), cmd.Arg(2))
	_, _ = fmt.Fprintln(stdout, out.Filename())
	if !out.Renamed() {
		return exitFail
	}
	return exitOK
}

// runFlagCmd implements `sdstore flag`, which marks a source directory for
// deletion. With --check it only reports the current state.
//
// Exit codes:
//
//	0 = flagged
//	1 = flagging failed, or not flagged with --check
//	2 = usage or configuration error
func runFlagCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("flag", stderr)
	check := cmd.Bool("check", false, "Only report whether the source is flagged")
	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: sdstore flag [--check] <filesystem_id>")
		return exitUsage
	}

	ctx := context.Background()
	a, ok := openApp(ctx, *configPath, stderr, appOptions{})
	if !ok {
		return exitUsage
	}
	defer a.close()

	if !*check {
		if err := a.storage.FlagForDeletion(cmd.Arg(0)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFail
		}
	}

	flagged, err := a.storage.IsFlagged(cmd.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	if !flagged {
		_, _ = fmt.Fprintln(stdout, "not flagged")
		return exitFail
	}
	_, _ = fmt.Fprintln(stdout, "flagged")
	return exitOK
}
