package main

// =============================================================================
// End-to-End Integration Tests
//
// These tests drive the store through its public lifecycle the way the
// daemon does: resolve config, init, serve call-site traffic, restart.
// The filesystem backend runs unconditionally; database flows are covered
// by the env-gated suites in internal/store.
// =============================================================================

import (
	"context"
	"sync"
	"testing"

	"github.com/openclaw/openclaw/internal/store"
)

func initFSStore(t *testing.T, home string) store.Store {
	t.Helper()
	prev := store.Set(nil)
	t.Cleanup(func() { store.Set(prev) })

	cfg := store.Config{
		Kind:     store.KindFilesystem,
		Home:     home,
		StateDir: home + "/.openclaw",
	}
	s, err := store.InitWithConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.CloseActive() })
	return s
}

func TestE2E_LifecycleAcrossRestart(t *testing.T) {
	home := t.TempDir()
	ctx := context.Background()

	s := initFSStore(t, home)

	// Call sites write their documents.
	if err := s.WriteJSON(ctx, ".openclaw/credentials/auth.json",
		map[string]any{"token": "tok-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteText(ctx, ".openclaw/telegram/offset", "8812"); err != nil {
		t.Fatal(err)
	}

	// A registry mutates under the lock.
	err := s.UpdateJSONWithLock(ctx, ".openclaw/sandbox/registry.json",
		func(current any) (store.UpdateResult, error) {
			if current != nil {
				t.Fatalf("fresh registry should be absent, got %v", current)
			}
			return store.UpdateResult{
				Changed: true,
				Result:  map[string]any{"entries": []any{}},
			}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	// Restart sentinel written durably before the process restarts.
	if err := store.WriteRestartSentinel(ctx, s, "upgrade"); err != nil {
		t.Fatal(err)
	}
	if err := store.CloseActive(); err != nil {
		t.Fatal(err)
	}

	// "Restart": a fresh init over the same home.
	s2 := initFSStore(t, home)

	sentinel, err := store.TakeRestartSentinel(ctx, s2)
	if err != nil {
		t.Fatal(err)
	}
	if sentinel == nil || sentinel.Reason != "upgrade" {
		t.Fatalf("sentinel = %+v", sentinel)
	}

	doc, err := s2.ReadJSON(ctx, ".openclaw/credentials/auth.json")
	if err != nil {
		t.Fatal(err)
	}
	if doc.(map[string]any)["token"] != "tok-1" {
		t.Fatalf("auth doc = %v", doc)
	}

	offset, err := s2.ReadText(ctx, ".openclaw/telegram/offset")
	if err != nil {
		t.Fatal(err)
	}
	if offset != "8812" {
		t.Fatalf("offset = %q", offset)
	}
}

func TestE2E_ConcurrentCallSites(t *testing.T) {
	home := t.TempDir()
	ctx := context.Background()
	s := initFSStore(t, home)

	// Cron store and pairing store update in parallel; cross-key
	// independence means neither blocks the other.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := s.UpdateJSONWithLock(ctx, ".openclaw/cron/jobs.json",
				func(current any) (store.UpdateResult, error) {
					n, _ := current.(float64)
					return store.UpdateResult{Changed: true, Result: n + 1}, nil
				})
			if err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			err := s.UpdateJSONWithLock(ctx, ".openclaw/pairing/requests.json",
				func(current any) (store.UpdateResult, error) {
					n, _ := current.(float64)
					return store.UpdateResult{Changed: true, Result: n + 1}, nil
				})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for _, key := range []string{".openclaw/cron/jobs.json", ".openclaw/pairing/requests.json"} {
		got, err := s.ReadJSON(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if got != float64(5) {
			t.Fatalf("%s = %v, want 5", key, got)
		}
	}
}
