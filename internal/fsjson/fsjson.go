// Package fsjson reads and writes single JSON documents as files.
//
// Writes are atomic: the document lands in a temporary sibling first and is
// renamed over the target, so readers never observe a torn file. Loads
// distinguish an absent file (nil, nil) from a corrupt one (CorruptError).
package fsjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/titanous/json5"
)

// DirMode is used for every directory the store creates. State can hold
// credentials, so nothing is group- or world-readable.
const DirMode = 0o700

// FileMode is used for every document the store writes.
const FileMode = 0o600

// ErrCorrupt is the sentinel matched by errors.Is for documents that exist
// but do not parse.
var ErrCorrupt = errors.New("corrupt document")

// CorruptError reports a document that exists but does not parse. It
// matches ErrCorrupt under errors.Is and unwraps to the parse error.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCorrupt) succeed without exposing the sentinel
// in the chain.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Load parses the file at path as strict JSON. Returns (nil, nil) when the
// file does not exist and a CorruptError when it exists but does not parse.
func Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return doc, nil
}

// LoadLenient parses the file as strict JSON and falls back to JSON5 when
// that fails. Only human-editable files should go through this path; the
// store's update path stays strict. The CorruptError carries the original
// strict-parse failure.
func LoadLenient(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	strictErr := json.Unmarshal(data, &doc)
	if strictErr == nil {
		return doc, nil
	}
	if err := json5.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	return nil, &CorruptError{Path: path, Err: strictErr}
}

// Save writes the document atomically: marshal, write to a temporary
// sibling named after this process, rename over the target. The parent
// directory is created if missing.
func Save(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// Temp name carries pid and random bytes so concurrent writers from
	// any process never collide.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.%.8s.tmp",
		filepath.Base(path), os.Getpid(), uuid.NewString()))
	if err := os.WriteFile(tmp, data, FileMode); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename over %s: %w", path, err)
	}
	return nil
}

// SaveWithBackup performs Save, then copies the result to <path>.bak.
// The backup copy is best effort; its failure is not reported.
func SaveWithBackup(path string, doc any) error {
	if err := Save(path, doc); err != nil {
		return err
	}
	copyFile(path, path+".bak")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
