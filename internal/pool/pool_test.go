package pool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func threeEntryPool() map[string][]map[string]any {
	return map[string][]map[string]any{
		"claude-custom": {
			{"uuid": "a", "claude_api_key": "key-a"},
			{"uuid": "b", "claude_api_key": "key-b"},
			{"uuid": "c", "claude_api_key": "key-c"},
		},
	}
}

func selectUUID(t *testing.T, m *Manager, provider string) string {
	t.Helper()
	uuid, _, err := m.Select(provider)
	require.NoError(t, err)
	return uuid
}

func TestSelectRoundRobin(t *testing.T) {
	m := New(threeEntryPool(), "")

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, selectUUID(t, m, "claude-custom"))
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestSelectSkipsUnhealthy(t *testing.T) {
	m := New(threeEntryPool(), "")

	// Three consecutive errors take b out of rotation.
	for i := 0; i < 3; i++ {
		m.MarkUnhealthy("claude-custom", "b")
	}

	require.Equal(t, "a", selectUUID(t, m, "claude-custom"))
	require.Equal(t, "c", selectUUID(t, m, "claude-custom"))
	require.Equal(t, "a", selectUUID(t, m, "claude-custom"))
	require.Equal(t, "c", selectUUID(t, m, "claude-custom"))

	// Once healthy again, b rejoins the rotation.
	m.MarkHealthy("claude-custom", "b")
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[selectUUID(t, m, "claude-custom")] = true
	}
	require.True(t, seen["b"])
}

func TestSelectBelowThresholdStaysHealthy(t *testing.T) {
	m := New(threeEntryPool(), "")

	m.MarkUnhealthy("claude-custom", "b")
	m.MarkUnhealthy("claude-custom", "b")

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[selectUUID(t, m, "claude-custom")] = true
	}
	require.True(t, seen["b"])
}

func TestSelectNoneAvailable(t *testing.T) {
	m := New(threeEntryPool(), "")
	for _, uuid := range []string{"a", "b", "c"} {
		for i := 0; i < maxErrorCount; i++ {
			m.MarkUnhealthy("claude-custom", uuid)
		}
	}
	_, _, err := m.Select("claude-custom")
	require.ErrorIs(t, err, ErrNoneAvailable)

	_, _, err = m.Select("no-such-provider")
	require.ErrorIs(t, err, ErrNoneAvailable)
}

func TestSelectReturnsEntryConfig(t *testing.T) {
	m := New(threeEntryPool(), "")
	uuid, config, err := m.Select("claude-custom")
	require.NoError(t, err)
	require.Equal(t, "a", uuid)
	require.Equal(t, "key-a", gjson.GetBytes(config, "claude_api_key").String())
}

func TestStateWriteBackAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.json")

	raw, err := json.MarshalIndent(threeEntryPool(), "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, "a", selectUUID(t, m, "claude-custom"))
	for i := 0; i < maxErrorCount; i++ {
		m.MarkUnhealthy("claude-custom", "b")
	}

	// A fresh manager restores the persisted status fields.
	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a", selectUUID(t, reloaded, "claude-custom"))
	require.Equal(t, "c", selectUUID(t, reloaded, "claude-custom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := gjson.GetBytes(data, "claude-custom").Array()
	require.Len(t, entries, 3)
	for _, e := range entries {
		if e.Get("uuid").String() == "b" {
			require.False(t, e.Get("is_healthy").Bool())
			require.Equal(t, int64(maxErrorCount), e.Get("error_count").Int())
		}
		if e.Get("uuid").String() == "a" {
			require.True(t, e.Get("last_used").Exists())
		}
	}
}

func TestHasAndProviders(t *testing.T) {
	m := New(threeEntryPool(), "")
	require.True(t, m.Has("claude-custom"))
	require.False(t, m.Has("gemini-cli-oauth"))
	require.Equal(t, []string{"claude-custom"}, m.Providers())
}
