package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timini/securedrop/pkg/submissions"
)

type exportResult struct {
	Path     string `json:"path"`
	Manifest string `json:"manifest"`
	Location string `json:"location,omitempty"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Entries  int    `json:"entries"`
}

// runExportCmd implements `sdstore export`.
//
// Looks submissions up in the index at DATABASE_URL, either every submission
// of one source or an explicit list of UUIDs in the given order, and packs
// them into one bulk archive under TEMP_DIR. When ARCHIVE_PUBLISH_TYPE names a
// publisher the archive is then uploaded; a failed upload discards it.
//
// Exit codes:
//
//	0 = archive written
//	1 = export failed
//	2 = usage or configuration error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("export", stderr)
	var (
		source     string
		uuids      []string
		jsonOutput bool
	)
	cmd.StringVar(&source, "source", "", "Export every submission of this filesystem_id")
	cmd.StringSliceVar(&uuids, "uuid", nil, "Submission UUID to export (repeatable)")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if (source == "") == (len(uuids) == 0) || cmd.NArg() != 0 {
		_, _ = fmt.Fprintln(stderr, "Error: specify exactly one of --source <id> or --uuid <uuid>...")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, ok := openApp(ctx, *configPath, stderr, appOptions{publish: true})
	if !ok {
		return exitUsage
	}
	defer a.close()

	index, err := submissions.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer func() { _ = index.Close() }()

	var records []submissions.Record
	if source != "" {
		records, err = index.ForSource(ctx, source)
	} else {
		records, err = index.ByUUIDs(ctx, uuids)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no submissions found")
		return exitFail
	}

	h, err := a.storage.GetBulkArchive(ctx, submissions.Submissions(records))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return exitFail
	}
	if a.storage.HasPublisher() {
		if err := a.storage.PublishArchive(ctx, h); err != nil {
			if rerr := h.Remove(); rerr != nil {
				a.logger.Warn("removing unpublished archive", "error", rerr)
			}
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFail
		}
	}

	res := exportResult{
		Path:     h.Path,
		Manifest: h.ManifestPath,
		Location: h.Location,
		SHA256:   h.SHA256(),
		Size:     h.Size(),
		Entries:  len(h.Manifest.Entries),
	}
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return exitFail
		}
		return exitOK
	}

	_, _ = fmt.Fprintln(stdout, res.Path)
	if res.Location != "" {
		_, _ = fmt.Fprintln(stdout, res.Location)
	}
	return exitOK
}

// runSweepCmd implements `sdstore sweep`. Without --max-age the configured
// ARCHIVE_TTL applies.
//
// Exit codes:
//
//	0 = sweep completed
//	1 = sweep failed
//	2 = usage or configuration error
func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd, configPath := newFlagSet("sweep", stderr)
	maxAge := cmd.Duration("max-age", 0, "Remove archives older than this (default ARCHIVE_TTL)")
	if code, ok := parseFlags(cmd, args); !ok {
		return code
	}
	if cmd.NArg() != 0 || *maxAge < 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: sdstore sweep [--max-age 24h]")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, ok := openApp(ctx, *configPath, stderr, appOptions{})
	if !ok {
		return exitUsage
	}
	defer a.close()

	age := *maxAge
	if age == 0 {
		age = a.cfg.ArchiveTTL
	}
	if age <= 0 {
		age = 24 * time.Hour
	}

	n, err := a.storage.SweepArchives(ctx, age)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	_, _ = fmt.Fprintf(stdout, "removed %d archive(s)\n", n)
	return exitOK
}
