package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
)

// statusCmd holds the flags for the 'status' subcommand.
type statusCmd struct {
	local bool
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show local and server synchronization state" }
func (*statusCmd) Usage() string {
	return `folioctl status [-local]

  Prints the device id, pending change count and last sync time, then
  queries the server for its view. -local skips the server query.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.local, "local", false, "Only report local state, do not contact the server")
}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	meta := cl.changeLog.Metadata()
	fmt.Printf("Device:    %s\n", meta.DeviceID)
	fmt.Printf("Pending:   %d change(s)\n", cl.changeLog.PendingCount())
	fmt.Printf("Last sync: %s\n", formatMillis(meta.LastSyncTime))

	if c.local {
		return subcommands.ExitSuccess
	}

	status, err := cl.transport.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: server unreachable: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Server:    %d fund(s), %d stock(s), %d group(s), synced %s\n",
		status.FundCount, status.StockCount, status.GroupCount, formatMillis(status.LastSyncTime))
	return subcommands.ExitSuccess
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format(time.RFC3339)
}
