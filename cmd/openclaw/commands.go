package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/openclaw/openclaw/internal/store"
)

// runGet prints the document stored at a key.
func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	asText := fs.Bool("text", false, "print the value as raw text")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s get [--text] <key>

Description:
  Print the document stored at key. Keys are call-site paths; paths under
  your home directory may be given home-relative (".openclaw/cron/jobs.json").

`, appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	s := openStore(ctx)
	defer store.CloseActive()

	key := fs.Arg(0)
	if *asText {
		text, err := s.ReadText(ctx, key)
		if err != nil {
			fatal(err)
		}
		fmt.Println(text)
		return
	}

	doc, err := s.ReadJSON(ctx, key)
	if err != nil {
		fatal(err)
	}
	if doc == nil {
		fmt.Fprintln(os.Stderr, "(absent)")
		os.Exit(2)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

// runSet writes a document at a key.
func runSet(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	asText := fs.Bool("text", false, "store the value as raw text")
	withBackup := fs.Bool("backup", false, "also copy the written document to a .bak sidecar")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s set [--text] [--backup] <key> <value>

Description:
  Write a document at key. The value must be valid JSON unless --text is
  given. The write is flushed before the command exits.

`, appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	s := openStore(ctx)
	defer store.CloseActive()

	key, value := fs.Arg(0), fs.Arg(1)
	var err error
	switch {
	case *asText:
		err = s.WriteText(ctx, key, value)
	default:
		var doc any
		if err := json.Unmarshal([]byte(value), &doc); err != nil {
			fatal(fmt.Errorf("value is not valid JSON: %w", err))
		}
		if *withBackup {
			err = s.WriteJSONWithBackup(ctx, key, doc)
		} else {
			err = s.WriteJSON(ctx, key, doc)
		}
	}
	if err != nil {
		fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		fatal(err)
	}
}

// runDelete removes the document at a key.
func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s delete <key>\n", appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	s := openStore(ctx)
	defer store.CloseActive()

	if err := s.Delete(ctx, fs.Arg(0)); err != nil {
		fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		fatal(err)
	}
}

// runFlush drains the durability barrier: it blocks until every pending
// write committed and surfaces any deferred failures.
func runFlush(args []string) {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s flush

Description:
  Wait until every write and delete issued before this point is durable.
  Deferred background-write failures are reported here.

`, appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	s := openStore(ctx)
	defer store.CloseActive()

	if err := s.Flush(ctx); err != nil {
		fatal(err)
	}
}

// StatusResult is the status command's JSON output shape.
type StatusResult struct {
	Backend      string `json:"backend"`
	StateDir     string `json:"state_dir"`
	DBConfigured bool   `json:"db_configured"`
	CachedKeys   int    `json:"cached_keys,omitempty"`
}

// runStatus shows the resolved configuration.
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "output as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s status [--json]\n", appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := store.FromEnv()
	if err != nil {
		fatal(err)
	}

	result := StatusResult{
		Backend:      string(cfg.Kind),
		StateDir:     cfg.StateDir,
		DBConfigured: cfg.DBURL != "",
	}
	if cfg.Kind == store.KindDatabase {
		ctx := context.Background()
		s := openStore(ctx)
		defer store.CloseActive()
		if db, ok := s.(*store.DB); ok {
			result.CachedKeys = len(db.CachedKeys())
		}
	}

	if *asJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("Backend:    %s\n", result.Backend)
	fmt.Printf("State dir:  %s\n", result.StateDir)
	fmt.Printf("DB config:  %v\n", result.DBConfigured)
	if cfg.Kind == store.KindDatabase {
		fmt.Printf("Cached:     %d keys\n", result.CachedKeys)
	}
}

// runMigrate runs the migration the configuration implies and reports the
// resulting backend. Init is idempotent, so re-running is always safe.
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s migrate

Description:
  Run the startup migration for the configured direction: import state
  files into the database when the database backend is selected, or
  restore database rows to disk when downgrading to the filesystem
  backend with a database URL still configured.

`, appName)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	openStore(ctx)
	defer store.CloseActive()

	cfg, err := store.FromEnv()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("migration complete, backend: %s\n", cfg.Kind)
}
