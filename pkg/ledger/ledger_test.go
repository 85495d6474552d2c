package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(DefaultTTL, time.Hour)
	t.Cleanup(l.Close)
	return l
}

func TestRecordAndGet(t *testing.T) {
	l := newTestLedger(t)
	l.Create("req-1")

	l.Record("req-1", "call-1", "search_web", map[string]any{"query": "go"}, map[string]any{"hits": 3})

	entry, ok := l.Get("req-1", "call-1")
	require.True(t, ok)
	assert.Equal(t, "search_web", entry.ToolName)
	assert.Equal(t, map[string]any{"query": "go"}, entry.Args)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecordUnknownSessionIsDropped(t *testing.T) {
	l := newTestLedger(t)

	// No session created; the write must not panic and must not be readable.
	l.Record("missing", "call-1", "search_web", nil, "result")

	_, ok := l.Get("missing", "call-1")
	assert.False(t, ok)
}

func TestEnsurePreservesEntries(t *testing.T) {
	l := newTestLedger(t)
	l.Create("req-1")
	l.Record("req-1", "call-1", "fetch", nil, "a")

	l.Ensure("req-1")

	_, ok := l.Get("req-1", "call-1")
	assert.True(t, ok)

	l.Ensure("req-2")
	l.Record("req-2", "call-2", "fetch", nil, "b")
	_, ok = l.Get("req-2", "call-2")
	assert.True(t, ok)
}

func TestCreateResetsSession(t *testing.T) {
	l := newTestLedger(t)
	l.Create("req-1")
	l.Record("req-1", "call-1", "fetch", nil, "a")

	l.Create("req-1")

	_, ok := l.Get("req-1", "call-1")
	assert.False(t, ok)
}

func TestSessionReturnsEntriesInOrder(t *testing.T) {
	l := newTestLedger(t)
	l.Create("req-1")
	l.Record("req-1", "call-1", "fetch", nil, "a")
	l.Record("req-1", "call-2", "fetch", nil, "b")
	l.Record("req-1", "call-3", "fetch", nil, "c")

	entries, ok := l.Session("req-1")
	require.True(t, ok)
	require.Len(t, entries, 3)
	assert.Equal(t, "call-1", entries[0].ToolCallID)
	assert.Equal(t, "call-3", entries[2].ToolCallID)
}

func TestEndRemovesSession(t *testing.T) {
	l := newTestLedger(t)
	l.Create("req-1")
	l.Record("req-1", "call-1", "fetch", nil, "a")

	l.End("req-1")

	_, ok := l.Session("req-1")
	assert.False(t, ok)
}

func TestExpireRemovesIdleSessions(t *testing.T) {
	l := newTestLedger(t)
	l.Create("stale")
	l.Create("fresh")
	l.Record("fresh", "call-1", "fetch", nil, "a")

	l.mu.Lock()
	l.sessions["stale"].lastAccess = time.Now().Add(-10 * time.Minute)
	l.mu.Unlock()

	l.expire(time.Now())

	_, staleOK := l.Session("stale")
	_, freshOK := l.Session("fresh")
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
