package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocCache_CloneOnInsert(t *testing.T) {
	c := newDocCache()

	doc := map[string]any{"v": float64(1)}
	_, _, _, err := c.put("k", doc)
	require.NoError(t, err)

	// Mutating the caller's copy must not reach the cache.
	doc["v"] = float64(99)

	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"v": float64(1)}, got)
}

func TestDocCache_CloneOnRead(t *testing.T) {
	c := newDocCache()
	_, _, _, err := c.put("k", map[string]any{"v": float64(1)})
	require.NoError(t, err)

	got, _ := c.get("k")
	got.(map[string]any)["v"] = float64(99)

	again, _ := c.get("k")
	assert.Equal(t, map[string]any{"v": float64(1)}, again)
}

func TestDocCache_RevertApplies(t *testing.T) {
	c := newDocCache()
	_, _, _, err := c.put("k", "old")
	require.NoError(t, err)

	gen, prev, hadPrev, err := c.put("k", "new")
	require.NoError(t, err)

	// The write failed and nothing newer happened: revert applies.
	assert.True(t, c.revert("k", gen, prev, hadPrev))
	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "old", got)
}

func TestDocCache_RevertSuperseded(t *testing.T) {
	c := newDocCache()
	gen, prev, hadPrev, err := c.put("k", "first")
	require.NoError(t, err)

	// A later mutation for the same key supersedes the failed write.
	_, _, _, err = c.put("k", "second")
	require.NoError(t, err)

	assert.False(t, c.revert("k", gen, prev, hadPrev))
	got, _ := c.get("k")
	assert.Equal(t, "second", got, "newer value must be kept")
}

func TestDocCache_RevertToAbsent(t *testing.T) {
	c := newDocCache()
	gen, prev, hadPrev, err := c.put("k", "only")
	require.NoError(t, err)
	assert.False(t, hadPrev)

	assert.True(t, c.revert("k", gen, prev, hadPrev))
	_, ok := c.get("k")
	assert.False(t, ok, "slot must be empty after reverting a first write")
}

func TestDocCache_RemoveRevert(t *testing.T) {
	c := newDocCache()
	_, _, _, err := c.put("k", "v")
	require.NoError(t, err)

	gen, prev, hadPrev := c.remove("k")
	_, ok := c.get("k")
	assert.False(t, ok)

	// Failed delete restores the value while the slot is still empty.
	assert.True(t, c.revert("k", gen, prev, hadPrev))
	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestDocCache_RemoveRevertSuperseded(t *testing.T) {
	c := newDocCache()
	_, _, _, err := c.put("k", "v")
	require.NoError(t, err)

	gen, prev, hadPrev := c.remove("k")

	// A write lands after the delete was issued.
	_, _, _, err = c.put("k", "newer")
	require.NoError(t, err)

	assert.False(t, c.revert("k", gen, prev, hadPrev))
	got, _ := c.get("k")
	assert.Equal(t, "newer", got)
}

func TestDocCache_ReplaceAll(t *testing.T) {
	c := newDocCache()
	_, _, _, err := c.put("stale", "x")
	require.NoError(t, err)

	c.replaceAll(map[string]any{"a": "1", "b": "2"})

	assert.Equal(t, 2, c.len())
	_, ok := c.get("stale")
	assert.False(t, ok)
	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "1", got)
}

func TestDocCache_ReplaceAllSupersedesDroppedKeys(t *testing.T) {
	c := newDocCache()
	gen, prev, hadPrev, err := c.put("gone", "pending")
	require.NoError(t, err)

	// The authoritative row set no longer holds the key (deleted
	// out-of-band); a late compensation for the failed write must not
	// resurrect it.
	c.replaceAll(map[string]any{"other": "v"})

	assert.False(t, c.revert("gone", gen, prev, hadPrev))
	_, ok := c.get("gone")
	assert.False(t, ok, "dropped key must stay absent after a late revert")
}

func TestDocCache_Keys(t *testing.T) {
	c := newDocCache()
	c.put("a", 1)
	c.put("b", 2)

	keys := c.keys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}
