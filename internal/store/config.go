package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/openclaw/openclaw/internal/statekey"
)

// Environment variables consumed by the store.
const (
	// EnvDatastore selects the backend: "fs"/"filesystem" or
	// "database"/"db". Unset means filesystem, even when a database URL
	// is present; the backend never switches silently.
	EnvDatastore = "OPENCLAW_DATASTORE"

	// EnvDBURL is the Postgres connection string. Required when the
	// database backend is selected.
	EnvDBURL = "OPENCLAW_STATE_DB_URL"

	// EnvStateDir overrides the state directory root (default
	// ~/.openclaw).
	EnvStateDir = "OPENCLAW_STATE_DIR"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindDatabase   Kind = "database"
)

// Config is the resolved datastore configuration.
type Config struct {
	Kind     Kind
	DBURL    string
	Home     string
	StateDir string
}

// FromEnv resolves the configuration from the process environment.
// Resolution failures are fatal per the error contract: the process must
// not start on a backend the operator did not choose.
func FromEnv() (Config, error) {
	kind, err := resolveKind(os.Getenv(EnvDatastore))
	if err != nil {
		return Config{}, err
	}

	dbURL := os.Getenv(EnvDBURL)
	if kind == KindDatabase && dbURL == "" {
		return Config{}, fmt.Errorf("%w: %s=database requires %s", ErrInvalidConfig, EnvDatastore, EnvDBURL)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	stateDir := os.Getenv(EnvStateDir)
	if stateDir == "" {
		stateDir = statekey.DefaultDir(home)
	}

	return Config{
		Kind:     kind,
		DBURL:    dbURL,
		Home:     home,
		StateDir: stateDir,
	}, nil
}

// resolveKind maps the raw env value to a backend kind. Values are
// case-insensitive and trimmed; anything unrecognized is a configuration
// error rather than a fallback.
func resolveKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return KindFilesystem, nil
	case "fs", "filesystem":
		return KindFilesystem, nil
	case "db", "database":
		return KindDatabase, nil
	default:
		return "", fmt.Errorf("%w: unknown %s value %q", ErrInvalidConfig, EnvDatastore, raw)
	}
}
