package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// resolveCmd holds the flags for the 'resolve' subcommand.
type resolveCmd struct {
	keep string
}

func (*resolveCmd) Name() string     { return "resolve" }
func (*resolveCmd) Synopsis() string { return "settle a sync conflict for one position" }
func (*resolveCmd) Usage() string {
	return `folioctl resolve -keep local|server <position-id>

  Settles a conflict reported by 'folioctl sync'. Keeping local
  re-stamps the pending change so it wins the next pass; keeping
  server drops the pending change.
`
}

func (c *resolveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.keep, "keep", "", "Which side wins: local or server")
}

func (c *resolveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one position id is required")
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)

	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	var ok bool
	switch c.keep {
	case "local":
		ok = cl.changeLog.Bump(id)
	case "server":
		ok = cl.changeLog.Discard(id)
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid -keep %q (want local or server)\n", c.keep)
		return subcommands.ExitUsageError
	}

	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no pending change for %s\n", id)
		return subcommands.ExitFailure
	}

	fmt.Printf("Resolved %s keeping the %s copy; run 'folioctl sync' to finish\n", id, c.keep)
	return subcommands.ExitSuccess
}
