package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/mkarpov/foliosync/internal/config"
	"github.com/mkarpov/foliosync/internal/sync"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&syncCmd{}, "sync")
	commander.Register(&forceSyncCmd{}, "sync")
	commander.Register(&statusCmd{}, "sync")
	commander.Register(&resolveCmd{}, "sync")

	commander.Register(&recordCmd{}, "changes")
	commander.Register(&pendingCmd{}, "changes")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// client bundles everything a subcommand needs to talk to the server.
type client struct {
	cfg       *config.ClientConfig
	store     *sync.FileStore
	changeLog *sync.ChangeLog
	transport *sync.HTTPTransport
	orch      *sync.Orchestrator
}

// openClient wires the local state file, change log, transport and
// orchestrator from the environment configuration.
func openClient() (*client, error) {
	cfg := config.LoadClient()

	store, err := sync.NewFileStore(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", cfg.StatePath, err)
	}

	changeLog, err := sync.NewChangeLog(store)
	if err != nil {
		return nil, fmt.Errorf("open change log: %w", err)
	}

	creds := sync.NewStaticCredentials(cfg.Token)
	transport := sync.NewHTTPTransport(cfg.ServerURL, creds)

	orch := sync.New(store, changeLog, transport, creds, sync.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		BatchSize:   cfg.BatchSize,
		Timeout:     cfg.Timeout,
	})

	return &client{
		cfg:       cfg,
		store:     store,
		changeLog: changeLog,
		transport: transport,
		orch:      orch,
	}, nil
}
