package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/storage"
)

func seedConversation(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	msgs := []*storage.ConversationMessage{
		{ID: "m1", ConversationID: "conv", Role: a2a.MessageRoleUser, Parts: []a2a.Part{a2a.TextPart("first question")}, Visibility: storage.VisibilityExternal},
		{ID: "m2", ConversationID: "conv", Role: a2a.MessageRoleAgent, Parts: []a2a.Part{a2a.TextPart("first answer")}, Visibility: storage.VisibilityExternal},
		{ID: "m3", ConversationID: "conv", Role: a2a.MessageRoleAgent, Parts: []a2a.Part{a2a.TextPart("delegation traffic")}, Visibility: storage.VisibilityInternal, MessageType: storage.MessageTypeA2ARequest},
		{ID: "m4", ConversationID: "conv", Role: a2a.MessageRoleUser, Parts: []a2a.Part{a2a.TextPart("second question")}, Visibility: storage.VisibilityExternal},
	}
	for _, m := range msgs {
		require.NoError(t, store.CreateMessage(ctx, m))
	}
}

func TestLoadModeNone(t *testing.T) {
	store := storage.NewMemoryStore()
	seedConversation(t, store)
	svc := NewService(store)

	msgs, err := svc.Load(context.Background(), Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{Mode: storage.HistoryModeNone})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = svc.Load(context.Background(), Scope{ConversationID: "conv"}, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLoadModeScopedExcludesInternal(t *testing.T) {
	store := storage.NewMemoryStore()
	seedConversation(t, store)
	svc := NewService(store)

	msgs, err := svc.Load(context.Background(), Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{Mode: storage.HistoryModeScoped})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.NotEqual(t, "m3", m.MessageID)
	}
	assert.Equal(t, a2a.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, "first question", msgs[0].Text())
}

func TestLoadModeScopedFiltersByAgentAndTask(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	msgs := []*storage.ConversationMessage{
		{ID: "m1", ConversationID: "conv", Role: a2a.MessageRoleUser, Parts: []a2a.Part{a2a.TextPart("for support")}, Visibility: storage.VisibilityExternal, ToAgentID: "support", TaskID: "task-1"},
		{ID: "m2", ConversationID: "conv", Role: a2a.MessageRoleAgent, Parts: []a2a.Part{a2a.TextPart("support answer")}, Visibility: storage.VisibilityExternal, FromAgentID: "support", TaskID: "task-1"},
		{ID: "m3", ConversationID: "conv", Role: a2a.MessageRoleUser, Parts: []a2a.Part{a2a.TextPart("for billing")}, Visibility: storage.VisibilityExternal, ToAgentID: "billing", TaskID: "task-2"},
		{ID: "m4", ConversationID: "conv", Role: a2a.MessageRoleAgent, Parts: []a2a.Part{a2a.TextPart("billing answer")}, Visibility: storage.VisibilityExternal, FromAgentID: "billing", TaskID: "task-2"},
	}
	for _, m := range msgs {
		require.NoError(t, store.CreateMessage(ctx, m))
	}
	svc := NewService(store)

	got, err := svc.Load(ctx, Scope{ConversationID: "conv", AgentID: "support", TaskID: "task-1"},
		&storage.ConversationHistoryConfig{Mode: storage.HistoryModeScoped})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "m2", got[1].MessageID)

	// Full mode ignores the agent/task scope.
	got, err = svc.Load(ctx, Scope{ConversationID: "conv", AgentID: "support", TaskID: "task-1"},
		&storage.ConversationHistoryConfig{Mode: storage.HistoryModeFull})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestLoadModeFullIncludesInternal(t *testing.T) {
	store := storage.NewMemoryStore()
	seedConversation(t, store)
	svc := NewService(store)

	msgs, err := svc.Load(context.Background(), Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{Mode: storage.HistoryModeFull})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "m3", msgs[2].MessageID)
}

func TestLoadMessageLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	seedConversation(t, store)
	svc := NewService(store)

	msgs, err := svc.Load(context.Background(), Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{
		Mode:  storage.HistoryModeScoped,
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "second question", msgs[0].Text())
}

func TestLoadTokenBudgetKeepsNewest(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	require.NoError(t, store.CreateMessage(ctx, &storage.ConversationMessage{
		ID: "old", ConversationID: "conv", Role: a2a.MessageRoleUser,
		Parts: []a2a.Part{a2a.TextPart(long)}, Visibility: storage.VisibilityExternal,
	}))
	require.NoError(t, store.CreateMessage(ctx, &storage.ConversationMessage{
		ID: "new", ConversationID: "conv", Role: a2a.MessageRoleAgent,
		Parts: []a2a.Part{a2a.TextPart("short reply")}, Visibility: storage.VisibilityExternal,
	}))
	svc := NewService(store)

	msgs, err := svc.Load(ctx, Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{
		Mode:      storage.HistoryModeScoped,
		MaxTokens: 20,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].MessageID)
}

func TestLoadOversizedNewestIsKept(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateMessage(ctx, &storage.ConversationMessage{
		ID: "huge", ConversationID: "conv", Role: a2a.MessageRoleUser,
		Parts:      []a2a.Part{a2a.TextPart(strings.Repeat("word ", 500))},
		Visibility: storage.VisibilityExternal,
	}))
	svc := NewService(store)

	msgs, err := svc.Load(ctx, Scope{ConversationID: "conv"}, &storage.ConversationHistoryConfig{
		Mode:      storage.HistoryModeScoped,
		MaxTokens: 10,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestCounterFallbackEstimate(t *testing.T) {
	c := &Counter{}
	assert.Equal(t, 5, c.Count(strings.Repeat("a", 20)))
}
