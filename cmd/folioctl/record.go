package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/mkarpov/foliosync/internal/models"
)

// recordCmd holds the flags for the 'record' subcommand.
type recordCmd struct {
	op     string
	target string
	id     string
	data   string
}

func (*recordCmd) Name() string     { return "record" }
func (*recordCmd) Synopsis() string { return "queue a position change for the next sync" }
func (*recordCmd) Usage() string {
	return `folioctl record -op CREATE|UPDATE|DELETE -target fund|stock [-id <id>] [-data <json>]

  Appends a change to the pending queue. CREATE without -id generates
  one. Consecutive changes to the same position are coalesced.
`
}

func (c *recordCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.op, "op", "", "Operation: CREATE, UPDATE or DELETE")
	f.StringVar(&c.target, "target", "", "Collection the position belongs to: fund or stock")
	f.StringVar(&c.id, "id", "", "Position id (required for UPDATE and DELETE)")
	f.StringVar(&c.data, "data", "", "Position payload as a JSON object")
}

func (c *recordCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	op := models.ChangeOp(c.op)
	if op != models.OpCreate && op != models.OpUpdate && op != models.OpDelete {
		fmt.Fprintf(os.Stderr, "Error: invalid -op %q\n", c.op)
		return subcommands.ExitUsageError
	}

	target := models.HoldingKind(c.target)
	if target != models.KindFund && target != models.KindStock {
		fmt.Fprintf(os.Stderr, "Error: invalid -target %q\n", c.target)
		return subcommands.ExitUsageError
	}

	id := c.id
	if id == "" {
		if op != models.OpCreate {
			fmt.Fprintf(os.Stderr, "Error: -id is required for %s\n", op)
			return subcommands.ExitUsageError
		}
		id = uuid.New().String()
	}

	var data map[string]any
	if c.data != "" {
		if err := json.Unmarshal([]byte(c.data), &data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -data is not valid JSON: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	if op != models.OpDelete && data == nil {
		fmt.Fprintf(os.Stderr, "Error: -data is required for %s\n", op)
		return subcommands.ExitUsageError
	}
	if data != nil {
		data["id"] = id
	}

	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	cl.changeLog.Record(op, target, id, data)
	fmt.Printf("Queued %s %s %s (%d pending)\n", op, target, id, cl.changeLog.PendingCount())
	return subcommands.ExitSuccess
}

// pendingCmd holds the flags for the 'pending' subcommand.
type pendingCmd struct {
	asJSON bool
}

func (*pendingCmd) Name() string     { return "pending" }
func (*pendingCmd) Synopsis() string { return "list changes waiting for the next sync" }
func (*pendingCmd) Usage() string {
	return `folioctl pending [-json]

  Lists the queued changes in upload order.
`
}

func (c *pendingCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "Emit the raw queue as JSON")
}

func (c *pendingCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cl, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	pending := cl.changeLog.Pending()
	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(pending); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	if len(pending) == 0 {
		fmt.Println("No pending changes")
		return subcommands.ExitSuccess
	}
	for _, ch := range pending {
		fmt.Printf("%s  %-6s %-5s %s\n", formatMillis(ch.Timestamp), ch.Op, ch.Target, ch.ID)
	}
	return subcommands.ExitSuccess
}
