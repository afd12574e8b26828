package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: leafarea <command> [flags] <input>

Estimates the area of leaves on flatbed scans. Leaves must be darker than
the scanner background; every connected dark region larger than the cut-off
is measured in cm² using the scan resolution.

Commands:
  estimate    measure leaf areas of a scan, a directory of scans or a glob
  preprocess  crop margins, mask an existing scale and add a red scale
  config      write the default configuration file to the given path

Flags can also be set through LEAFAREA_<FLAG> environment variables, for
example LEAFAREA_THRESHOLD=110. Run 'leafarea <command> -h' for the flags
of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "estimate":
		err = runEstimate(ctx, os.Args[2:])
	case "preprocess":
		err = runPreprocess(ctx, os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
