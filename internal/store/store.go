// Package store implements the pluggable key-value state store.
//
// Small JSON documents (auth profiles, sandbox registries, cron jobs,
// pairing handshakes, telegram offsets, restart sentinels) persist behind
// one contract with two interchangeable backends: the filesystem backend
// keeps one document per file under the state directory, the database
// backend keeps a single Postgres kv table served through a write-through
// in-memory cache.
//
// Keys are call-site paths. Paths under the user's home directory are
// stored in home-relative form so state survives a move between hosts;
// see the statekey package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openclaw/openclaw/internal/fsjson"
)

// ErrCorrupt matches documents that exist but do not parse on a strict
// path. Absence is never an error; corruption always is.
var ErrCorrupt = fsjson.ErrCorrupt

// ErrInvalidConfig is returned when the datastore configuration cannot be
// resolved: an unknown backend value, or the database backend selected
// without a connection URL. The process must not start in that state.
var ErrInvalidConfig = errors.New("invalid datastore configuration")

// UpdateResult is what an updater returns: whether anything changed, and
// the document to persist when it did.
type UpdateResult struct {
	Changed bool
	Result  any
}

// UpdateFunc transforms the current document (nil when the key is absent)
// into an UpdateResult. It runs exactly once per successful update, under
// the key's lock, and must not touch external state.
type UpdateFunc func(current any) (UpdateResult, error)

// Store is the contract every backend implements. Reads return nil for
// absent keys. UpdateJSONWithLock is the sole atomic read-modify-write
// primitive; Flush is the durability barrier for backends with deferred
// writes.
type Store interface {
	// ReadJSON returns the document at key, or nil when absent.
	ReadJSON(ctx context.Context, key string) (any, error)

	// ReadJSON5 is ReadJSON with a lenient-parse fallback for
	// human-editable files. Backends that only store strict JSON treat it
	// as ReadJSON.
	ReadJSON5(ctx context.Context, key string) (any, error)

	// ReadText returns the raw text at key, or "" when absent.
	ReadText(ctx context.Context, key string) (string, error)

	// ReadJSONWithFallback distinguishes absent from present: it returns
	// (fallback, false) when the key is absent and (value, true) otherwise.
	ReadJSONWithFallback(ctx context.Context, key string, fallback any) (any, bool, error)

	// WriteJSON persists the document at key.
	WriteJSON(ctx context.Context, key string, doc any) error

	// WriteJSONWithBackup is WriteJSON plus a best-effort sidecar copy of
	// the last successful write, where the backend supports sidecars.
	WriteJSONWithBackup(ctx context.Context, key string, doc any) error

	// WriteText persists a raw string at key.
	WriteText(ctx context.Context, key, content string) error

	// UpdateJSONWithLock runs fn on a snapshot no concurrent update can
	// interleave against, and persists the result atomically when fn
	// reports a change. Mutual exclusion is scoped to the single key and
	// holds across processes.
	UpdateJSONWithLock(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes the document at key. Absent keys are not an error.
	Delete(ctx context.Context, key string) error

	// Flush blocks until every write and delete issued before it is
	// durable, and reports deferred failures collected since the last
	// Flush.
	Flush(ctx context.Context) error

	// Close flushes and releases backend resources.
	Close() error
}

// textMarkerField wraps plain strings stored through WriteText so the
// database backend can keep everything as JSON documents.
const textMarkerField = "__text"

func wrapText(s string) any {
	return map[string]any{textMarkerField: s}
}

// unwrapText extracts a string stored through WriteText. It also accepts
// a bare string document for callers that wrote one directly.
func unwrapText(doc any) (string, bool) {
	switch v := doc.(type) {
	case string:
		return v, true
	case map[string]any:
		if s, ok := v[textMarkerField].(string); ok {
			return s, true
		}
	}
	return "", false
}

// cloneDoc deep-clones a JSON document through a marshal round trip, so a
// value handed out of the cache (or taken into it) shares no structure
// with the caller's copy.
func cloneDoc(doc any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}
