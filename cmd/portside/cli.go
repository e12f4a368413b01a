package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/portside-dev/portside/internal/config"
	"github.com/portside-dev/portside/internal/discovery"
	"github.com/portside-dev/portside/internal/store"
)

var (
	serveFn          = serve
	loadConfigFn     = config.Load
	currentVersionFn = currentVersion
)

const (
	cmdHelp       = "help"
	flagHelpShort = "-h"
	flagHelpLong  = "--help"
)

func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func writeln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	ctx := commandContext{stdout: stdout, stderr: stderr}

	if len(args) == 0 {
		return serveFn()
	}

	switch args[0] {
	case "-v", "--version", "version":
		writef(stdout, "portside version %s\n", currentVersionFn())
		return 0
	case "serve":
		return runServeCommand(ctx, args[1:])
	case "scan":
		return runScanCommand(ctx, args[1:])
	case cmdHelp, flagHelpShort, flagHelpLong:
		printRootHelp(stdout)
		return 0
	default:
		// Preserve backward compatibility for future root flags.
		if strings.HasPrefix(args[0], "-") {
			return runServeCommand(ctx, args)
		}
		writef(stderr, "unknown command: %s\n\n", args[0])
		printRootHelp(stderr)
		return 2
	}
}

func runServeCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printServeHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printServeHelp(ctx.stderr)
		return 2
	}
	return serveFn()
}

func runScanCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printScanHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printScanHelp(ctx.stderr)
		return 2
	}

	cfg, err := loadConfigFn()
	if err != nil {
		writef(ctx.stderr, "config load failed: %v\n", err)
		return 1
	}
	initLogger(cfg.LogLevel)

	st, err := store.New(filepath.Join(cfg.DataDir, "portside.db"))
	if err != nil {
		writef(ctx.stderr, "store init failed: %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	units, closeUnits, err := newUnitSource(cfg.Discovery)
	if err != nil {
		writef(ctx.stderr, "discovery source init failed: %v\n", err)
		return 1
	}
	defer closeUnits()

	scanner := discovery.NewScanner(units, discovery.NewExecPortSource(cfg.Discovery.PortsCommand), st)

	scanCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	summary, err := scanner.Scan(scanCtx)
	if err != nil {
		writef(ctx.stderr, "scan failed: %v\n", err)
		return 1
	}
	writef(ctx.stdout, "scanned %d units\n", summary.TotalScanned)
	writef(ctx.stdout, "new web services: %d\n", summary.NewDiscovered)
	writef(ctx.stdout, "new raw units: %d\n", summary.NewRaw)
	writef(ctx.stdout, "refreshed: %d\n", summary.Updated)
	return 0
}

func printRootHelp(w io.Writer) {
	writeln(w, "Portside command-line interface")
	writeln(w, "")
	writeln(w, "Usage:")
	writeln(w, "  portside [serve]")
	writeln(w, "  portside scan")
	writeln(w, "")
	writeln(w, "Commands:")
	writeln(w, "  serve    Start the Portside HTTP server (default)")
	writeln(w, "  scan     Run one discovery scan and print the summary")
}

func printServeHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  portside serve")
	writeln(w, "")
	writeln(w, "Starts the Portside server using config file/env defaults.")
}

func printScanHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  portside scan")
	writeln(w, "")
	writeln(w, "Enumerates service units and listening ports, reconciles the")
	writeln(w, "registry, and prints the scan summary.")
}

func currentVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		if strings.TrimSpace(bi.Main.Version) != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	return "dev"
}
