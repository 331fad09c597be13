// ddb is a CLI for inspecting DynamoDB tables described by a ddb.yaml schema.
//
// # Installation
//
//	go install github.com/acksell/ddbmodel/dynamodb/cmd/ddb@latest
//
// # Commands
//
//	ddb schema   Load, validate and print the table schema
//	ddb get      Read one item by key
//	ddb query    Query a partition, printing pages as JSON lines
//	ddb scan     Scan a table, printing pages as JSON lines
//	ddb doctor   Check that the AWS identity may use the table
//
// # Backends
//
// Reads go to DynamoDB through the AWS SDK's default credential chain unless
// a local store is selected:
//
//	ddb get --memory ...        # empty in-memory store
//	ddb get --db ./data ...     # BadgerDB store in ./data
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
)

const version = "0.2.0"

type command func(ctx context.Context, args []string, stdout io.Writer) error

var commands = map[string]command{
	"schema": runSchema,
	"get":    runGet,
	"query":  runQuery,
	"scan":   runScan,
	"doctor": runDoctor,
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	case "version", "-v", "--version":
		fmt.Printf("ddb version %s\n", version)
		return
	}

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ddb %s: %v\n", cmd, err)
		if errors.Is(err, errUnknownCommand) {
			printUsage(os.Stderr)
		}
		stop()
		os.Exit(1)
	}
}

var errUnknownCommand = errors.New("unknown command")

// run dispatches args[0] to its subcommand.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUnknownCommand
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w %q", errUnknownCommand, args[0])
	}
	err := cmd(ctx, args[1:], stdout)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `ddb - DynamoDB table tools

Usage:
  ddb <command> [flags]

Commands:
  schema  Load, validate and print the table schema
  get     Read one item by key
  query   Query a partition, printing pages as JSON lines
  scan    Scan a table, printing pages as JSON lines
  doctor  Check that the AWS identity may use the table

Examples:
  # Validate every ddb.yaml in the repository:
  ddb schema --all

  # Read from a local BadgerDB store:
  ddb get --db ./data --table sessions --pk SESSION#1 --sk SESSION#1

  # Query DynamoDB, two items per page:
  ddb query --region eu-west-1 --table sessions --pk USER#1 --sk-prefix SESSION# --limit 2

Configuration (optional):
  Create ddb.cli.yaml for defaults:

    schema: ./ddb.yaml   # schema file
    region: eu-west-1    # AWS region
    profile: dev         # shared config profile
    endpoint: ""         # DynamoDB endpoint override
    dataDir: ./data      # BadgerDB directory, implies --db

Run 'ddb <command> --help' for more information on a command.`)
}
