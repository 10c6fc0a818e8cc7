package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/mkarpov/foliosync/internal/models"
	"github.com/mkarpov/foliosync/internal/sync"
)

// syncCmd holds the flags for the 'sync' subcommand.
type syncCmd struct {
	uploadOnly   bool
	downloadOnly bool
	force        bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "run one synchronization pass against the server" }
func (*syncCmd) Usage() string {
	return `folioctl sync [-upload-only] [-download-only] [-force]

  Uploads pending changes, downloads the server snapshot and reconciles
  the local portfolio. Conflicts stop the pass; resolve them with
  'folioctl resolve'.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.uploadOnly, "upload-only", false, "Push pending changes without applying the server snapshot")
	f.BoolVar(&c.downloadOnly, "download-only", false, "Apply the server snapshot without uploading")
	f.BoolVar(&c.force, "force", false, "Skip conflict detection on the server; newest write wins")
}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	result, err := cl.orch.Sync(ctx, sync.Options{
		SkipDownload: c.uploadOnly,
		SkipUpload:   c.downloadOnly,
		Force:        c.force,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	printResult(result)
	if !result.Success {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// forceSyncCmd holds the flags for the 'force-sync' subcommand.
type forceSyncCmd struct{}

func (*forceSyncCmd) Name() string { return "force-sync" }
func (*forceSyncCmd) Synopsis() string {
	return "discard pending changes and adopt the server portfolio"
}
func (*forceSyncCmd) Usage() string {
	return `folioctl force-sync

  Clears the pending change queue and runs a forced pass: the server
  snapshot is downloaded and replaces the local portfolio. Use after
  resolving a conflict in favor of the server state, or to recover a
  client whose queue has gone bad.
`
}

func (*forceSyncCmd) SetFlags(*flag.FlagSet) {}

func (c *forceSyncCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	result, err := cl.orch.ForceSync(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	printResult(result)
	if !result.Success {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printResult(r *sync.Result) {
	if r.Success {
		fmt.Printf("Sync complete: uploaded %d change(s), applied %d position(s)\n", r.Uploaded, r.Applied)
		return
	}

	fmt.Printf("Sync %s: %s\n", r.Status, r.Message)
	for _, c := range r.Conflicts {
		printConflict(c)
	}
}

func printConflict(c models.SyncConflict) {
	fmt.Printf("  conflict %s (%s)", c.ID, c.Target)
	if len(c.ConflictingFields) > 0 {
		fmt.Printf(" fields: %s", strings.Join(c.ConflictingFields, ", "))
	}
	if c.Message != "" {
		fmt.Printf(": %s", c.Message)
	}
	fmt.Println()
}
