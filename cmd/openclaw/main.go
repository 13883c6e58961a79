// Package main is the maintenance CLI for the OpenClaw state store.
//
// Usage:
//
//	openclaw-state get <key>           — print a document
//	openclaw-state set <key> <json>    — write a document
//	openclaw-state delete <key>        — remove a document
//	openclaw-state status              — show resolved backend and state dir
//	openclaw-state migrate             — run the configured migration
//	openclaw-state flush               — wait for pending writes to commit
//	openclaw-state version             — print version
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openclaw/openclaw/internal/store"
)

const (
	version = "0.1.0"
	appName = "openclaw-state"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "get":
		runGet(args)
	case "set":
		runSet(args)
	case "delete":
		runDelete(args)
	case "status":
		runStatus(args)
	case "migrate":
		runMigrate(args)
	case "flush":
		runFlush(args)
	case "version":
		fmt.Printf("%s v%s\n", appName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — OpenClaw state store maintenance

Usage:
  %s <command> [options]

Commands:
  get <key>          Print the document stored at key
  set <key> <json>   Write a document (use --text for raw strings)
  delete <key>       Remove the document at key
  status             Show the resolved backend and state directory
  migrate            Run the migration the configuration implies
  flush              Wait until all pending writes are durable
  version            Print version

Environment variables:
  OPENCLAW_DATASTORE     Backend: fs|filesystem|db|database (default: fs)
  OPENCLAW_STATE_DB_URL  Postgres URL, required for the database backend
  OPENCLAW_STATE_DIR     State directory root (default: ~/.openclaw)

`, appName, version, appName)
}

// openStore resolves the backend, runs startup migration, and preloads.
func openStore(ctx context.Context) store.Store {
	s, err := store.Init(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return s
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
