package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openclaw/openclaw/internal/statekey"
)

// restartSentinelKey lives under the state directory like any other
// document; relative so it follows the backend across migrations.
const restartSentinelKey = statekey.DefaultDirName + "/restart-sentinel.json"

// RestartSentinel records why a restart was requested, written durably
// immediately before the restart signal is issued.
type RestartSentinel struct {
	Reason string    `json:"reason"`
	PID    int       `json:"pid"`
	At     time.Time `json:"at"`
}

// WriteRestartSentinel persists the sentinel and flushes, so the document
// is durable before the caller sends the restart signal. This is the
// canonical use of the durability barrier.
func WriteRestartSentinel(ctx context.Context, s Store, reason string) error {
	sentinel := RestartSentinel{
		Reason: reason,
		PID:    os.Getpid(),
		At:     time.Now().UTC(),
	}
	doc, err := toDoc(sentinel)
	if err != nil {
		return err
	}
	if err := s.WriteJSON(ctx, restartSentinelKey, doc); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// TakeRestartSentinel reads and clears the sentinel on boot. Returns nil
// when no restart was pending.
func TakeRestartSentinel(ctx context.Context, s Store) (*RestartSentinel, error) {
	doc, err := s.ReadJSON(ctx, restartSentinelKey)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	var sentinel RestartSentinel
	if err := fromDoc(doc, &sentinel); err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, restartSentinelKey); err != nil {
		return nil, err
	}
	return &sentinel, nil
}

// toDoc converts a typed value into the store's document shape.
func toDoc(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// fromDoc converts a document back into a typed value.
func fromDoc(doc, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
