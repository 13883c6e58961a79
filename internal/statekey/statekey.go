// Package statekey maps call-site paths to portable storage keys and back.
//
// Call sites address state by absolute filesystem path. A storage key is
// the portable form of that address: paths under the user's home directory
// become home-relative keys (".openclaw/credentials/auth.json"), paths
// outside home stay absolute. Relative keys re-anchor under whatever home
// the restoring host has; absolute keys are used verbatim.
package statekey

import (
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultDirName is the state directory under the user's home.
const DefaultDirName = ".openclaw"

// Normalize maps a call-site path to its storage key. Paths under home are
// stripped to home-relative form; everything else passes through unchanged.
// Both "/" and "\" count as the home boundary separator so keys produced on
// one OS family normalize the same way on the other.
func Normalize(key, home string) string {
	if home == "" {
		return key
	}
	if key == home {
		return ""
	}
	rest, ok := strings.CutPrefix(key, home)
	if !ok || rest == "" {
		return key
	}
	if rest[0] == '/' || rest[0] == '\\' {
		return rest[1:]
	}
	return key
}

// Materialize maps a storage key back to a filesystem path on this host.
// Absolute keys are returned verbatim; relative keys are anchored under home.
func Materialize(storageKey, home string) string {
	if IsAbs(storageKey) {
		return storageKey
	}
	return filepath.Join(home, filepath.FromSlash(storageKey))
}

// IsAbs reports whether the storage key is an absolute path on either
// supported OS family.
func IsAbs(key string) bool {
	return filepath.IsAbs(key) || windowsAbs(key) || strings.HasPrefix(key, "/")
}

// ForeignAbs reports whether the key is absolute for an OS family other
// than the host's. Such keys cannot be materialized here; restore paths
// must reject them instead of guessing a location.
func ForeignAbs(key string) bool {
	if !IsAbs(key) {
		return false
	}
	if runtime.GOOS == "windows" {
		return !filepath.IsAbs(key) && strings.HasPrefix(key, "/")
	}
	return windowsAbs(key)
}

// windowsAbs matches drive-letter ("C:\", "C:/") and UNC ("\\host\share")
// shapes regardless of the host OS.
func windowsAbs(key string) bool {
	if strings.HasPrefix(key, `\\`) {
		return true
	}
	if len(key) >= 3 && key[1] == ':' && (key[2] == '\\' || key[2] == '/') {
		c := key[0]
		return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
	}
	return false
}

// DefaultDir returns the default state directory root for a home directory.
func DefaultDir(home string) string {
	return filepath.Join(home, DefaultDirName)
}
