package artifacttool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/storage"
)

func setup(t *testing.T) (Options, *storage.MemoryStore, *graphsession.Log) {
	t.Helper()
	l := ledger.New(ledger.DefaultTTL, time.Hour)
	t.Cleanup(l.Close)
	l.Create("req-1")

	store := storage.NewMemoryStore()
	events := graphsession.New()

	opts := Options{
		AgentID:         "qa",
		TaskID:          "task-1",
		ContextID:       "ctx-1",
		StreamRequestID: "req-1",
		Ledger:          l,
		Store:           store,
		Events:          events,
	}
	return opts, store, events
}

func recordSearchResult(opts Options) {
	opts.Ledger.Record("req-1", "call-1", "search_web", nil, map[string]any{
		"content": []any{
			map[string]any{
				"text": map[string]any{
					"content": `[{"title":"Web Sources","url":"https://x"}]`,
				},
			},
		},
	})
}

func TestSaveToolResult(t *testing.T) {
	opts, store, events := setup(t)
	recordSearchResult(opts)

	save := NewSaveToolResult(opts)
	result, err := save.Call(context.Background(), map[string]any{
		"toolCallId":   "call-1",
		"baseSelector": "content[0].text.content",
		"propSelectors": map[string]any{
			"title": "title",
			"url":   "url",
		},
		"artifactType": "Source",
	})
	require.NoError(t, err)

	res := result.(map[string]any)
	assert.Equal(t, true, res["saved"])
	artifacts := res["artifacts"].([]map[string]any)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "task-1", artifacts[0]["taskId"])

	stored, err := store.GetLedgerArtifacts(context.Background(), storage.ArtifactQuery{TaskID: "task-1"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].PendingGeneration)
	assert.Equal(t, "Web Sources", stored[0].Summary["title"])
	assert.Equal(t, "ctx-1", stored[0].ContextID)

	saves := events.EventsOfType("req-1", graphsession.EventArtifactSaved)
	require.Len(t, saves, 1)
	assert.Equal(t, true, saves[0].Data["pendingGeneration"])
}

func TestSaveToolResultUnknownCall(t *testing.T) {
	opts, _, _ := setup(t)

	save := NewSaveToolResult(opts)
	result, err := save.Call(context.Background(), map[string]any{
		"toolCallId":   "missing",
		"baseSelector": "items",
	})
	require.NoError(t, err)

	res := result.(map[string]any)
	assert.Equal(t, false, res["saved"])
	assert.Equal(t, "Tool result not found", res["error"])
}

func TestSaveToolResultSelectorFailureReturnsDiagnostics(t *testing.T) {
	opts, store, _ := setup(t)
	recordSearchResult(opts)

	save := NewSaveToolResult(opts)
	result, err := save.Call(context.Background(), map[string]any{
		"toolCallId":   "call-1",
		"baseSelector": "items",
	})
	require.NoError(t, err)

	res := result.(map[string]any)
	assert.Equal(t, false, res["saved"])
	msg := res["error"].(string)
	assert.Contains(t, msg, "DETECTED ISSUES")
	assert.Contains(t, msg, "AVAILABLE TOP-LEVEL KEYS")

	stored, _ := store.GetLedgerArtifacts(context.Background(), storage.ArtifactQuery{TaskID: "task-1"})
	assert.Empty(t, stored)
}

func TestGetReferenceArtifact(t *testing.T) {
	opts, store, _ := setup(t)
	require.NoError(t, store.AddLedgerArtifacts(context.Background(), []*storage.LedgerArtifact{{
		ArtifactID: "art-1",
		TaskID:     "task-1",
		Name:       "Web Sources",
		Type:       "Source",
		Full:       map[string]any{"title": "Web Sources", "url": "https://x"},
	}}))

	get := NewGetReferenceArtifact(opts)
	result, err := get.Call(context.Background(), map[string]any{
		"artifactId": "art-1",
		"taskId":     "task-1",
	})
	require.NoError(t, err)

	res := result.(map[string]any)
	assert.Equal(t, "Web Sources", res["name"])
	assert.Equal(t, map[string]any{"title": "Web Sources", "url": "https://x"}, res["full"])

	missing, err := get.Call(context.Background(), map[string]any{
		"artifactId": "nope",
		"taskId":     "task-1",
	})
	require.NoError(t, err)
	assert.Contains(t, missing.(map[string]any)["error"], "artifact not found")
}
