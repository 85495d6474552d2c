package task

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/executor"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool"
)

type scriptedLLM struct {
	responses []*model.Response
	calls     int
}

func (f *scriptedLLM) Name() string { return "scripted" }

func (f *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }

func (f *scriptedLLM) Close() error { return nil }

var _ model.LLM = (*scriptedLLM)(nil)

func (f *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if f.calls >= len(f.responses) {
			yield(nil, assert.AnError)
			return
		}
		resp := f.responses[f.calls]
		f.calls++
		yield(resp, nil)
	}
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{a2a.TextPart(text)}, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
	}
}

func toolCallResponse(id, name string, args map[string]any) *model.Response {
	return &model.Response{
		Content:      &model.Content{Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
	}
}

func newHandler(t *testing.T, store *storage.MemoryStore, responses ...*model.Response) (*Handler, *graphsession.Log) {
	t.Helper()
	led := ledger.New(time.Minute, time.Minute)
	t.Cleanup(led.Close)
	sessions := graphsession.New()
	llm := &scriptedLLM{responses: responses}
	exec := executor.New(executor.Options{
		Store:        store,
		Ledger:       led,
		Sessions:     sessions,
		NewModel:     func(cfg *storage.ModelConfig) (model.LLM, error) { return llm, nil },
		SyncFinalize: true,
	})
	return NewHandler(Options{Store: store, Executor: exec, Sessions: sessions, GraphID: "g1"}), sessions
}

func seedGraph(store *storage.MemoryStore) {
	store.AddGraph(&storage.Graph{ID: "g1", Name: "Support graph", DefaultAgentID: "support"})
	store.AddAgent(&storage.Agent{
		ID:      "support",
		GraphID: "g1",
		Name:    "Support",
		Models:  &storage.AgentModels{Base: &storage.ModelConfig{Model: "scripted"}},
	})
}

func ingressTask(text string) *a2a.Task {
	return &a2a.Task{
		ID:        "task_conv-1_abc",
		ContextID: "conv-1",
		Input:     a2a.NewUserMessage("m1", text),
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted},
	}
}

func TestHandleRunsTurnAndPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, _ := newHandler(t, store, textResponse("hi back"))

	result, err := h.Handle(context.Background(), "support", ingressTask("hello"), TurnOptions{})
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "hi back", result.Artifacts[0].Parts[0].Text)

	record, err := store.GetTask(context.Background(), "task_conv-1_abc")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, record.State)
	assert.Equal(t, "conv-1", record.ContextID)

	// User message first, agent reply second, both on the external channel.
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, a2a.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Parts[0].Text)
	assert.Equal(t, a2a.MessageRoleAgent, msgs[1].Role)
	assert.Equal(t, "hi back", msgs[1].Parts[0].Text)
	for _, m := range msgs {
		assert.Equal(t, storage.VisibilityExternal, m.Visibility)
		assert.Equal(t, "conv-1", m.ConversationID)
	}
}

func TestHandleRejectsEmptyInput(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, _ := newHandler(t, store)

	task := ingressTask("   ")
	result, err := h.Handle(context.Background(), "support", task, TurnOptions{})
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
	assert.Equal(t, "No text content found in task input", result.Status.Message.Text())

	record, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, record.State)
	assert.Empty(t, store.Messages())
}

func TestHandleUnknownAgentFails(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, _ := newHandler(t, store)

	task := ingressTask("hello")
	result, err := h.Handle(context.Background(), "nobody", task, TurnOptions{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "Agent not found: nobody")

	// The task record still lands in storage as failed.
	record, recErr := store.GetTask(context.Background(), task.ID)
	require.NoError(t, recErr)
	assert.Equal(t, a2a.TaskStateFailed, record.State)
}

func TestHandleFollowsTransfer(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	store.AddAgent(&storage.Agent{
		ID:      "refund",
		GraphID: "g1",
		Name:    "Refunds",
		Models:  &storage.AgentModels{Base: &storage.ModelConfig{Model: "scripted"}},
	})
	store.AddRelation("g1", storage.AgentRelation{
		Type:          storage.RelationTransfer,
		SourceAgentID: "support",
		TargetAgentID: "refund",
	})

	h, _ := newHandler(t, store,
		toolCallResponse("c1", "transfer_to_refund", map[string]any{"reason": "billing"}),
		textResponse("refund issued"),
	)

	result, err := h.Handle(context.Background(), "support", ingressTask("money back please"), TurnOptions{})
	require.NoError(t, err)

	// The caller sees the transfer target's answer, under a fresh task in
	// the same conversation.
	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "refund issued", result.Artifacts[0].Parts[0].Text)
	assert.NotEqual(t, "task_conv-1_abc", result.ID)
	assert.Equal(t, "conv-1", result.ContextID)

	record, err := store.GetTask(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, record.State)
}

func TestHandleDelegationNeverStreamsOrPersistsChat(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, _ := newHandler(t, store, textResponse("delegate answer"))

	task := ingressTask("check this")
	task.Metadata = map[string]any{
		a2a.MetaConversationID: "conv-1",
		a2a.MetaIsDelegation:   true,
	}

	var streamed []a2a.Part
	result, err := h.Handle(context.Background(), "support", task, TurnOptions{
		OnPart: func(p a2a.Part) { streamed = append(streamed, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	assert.Empty(t, streamed)
	// Delegation traffic is recorded by the dispatcher, not here.
	assert.Empty(t, store.Messages())
}

func TestHandleEndsEventLogAfterTurn(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, sessions := newHandler(t, store, textResponse("hi back"))

	task := ingressTask("hello")
	task.Metadata = map[string]any{a2a.MetaStreamRequestID: "req-end"}

	_, err := h.Handle(context.Background(), "support", task, TurnOptions{})
	require.NoError(t, err)
	assert.Empty(t, sessions.Events("req-end"))
}

func TestHandleKeepsEventLogForDelegatedTurns(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	h, sessions := newHandler(t, store, textResponse("delegate answer"))

	task := ingressTask("check this")
	task.Metadata = map[string]any{
		a2a.MetaConversationID:  "conv-1",
		a2a.MetaStreamRequestID: "req-shared",
		a2a.MetaIsDelegation:    true,
	}

	_, err := h.Handle(context.Background(), "support", task, TurnOptions{})
	require.NoError(t, err)

	// The delegate's activity must survive for the caller's turn; only the
	// entry turn ends the log.
	assert.NotEmpty(t, sessions.Events("req-shared"))
}

func TestHydrateRelations(t *testing.T) {
	store := storage.NewMemoryStore()
	seedGraph(store)
	store.AddAgent(&storage.Agent{ID: "refund", GraphID: "g1", Name: "Refunds", Description: "handles refunds"})
	store.AddAgent(&storage.Agent{ID: "qa", GraphID: "g1", Name: "QA"})
	store.AddExternalAgent(&storage.ExternalAgent{ID: "ext-1", Name: "Billing", BaseURL: "http://billing"})
	store.AddRelation("g1", storage.AgentRelation{Type: storage.RelationTransfer, SourceAgentID: "support", TargetAgentID: "refund"})
	store.AddRelation("g1", storage.AgentRelation{Type: storage.RelationDelegate, SourceAgentID: "support", TargetAgentID: "qa"})
	store.AddRelation("g1", storage.AgentRelation{Type: storage.RelationDelegate, SourceAgentID: "support", ExternalAgentID: "ext-1"})
	// The transfer target has relations of its own; they surface in its
	// description one level deep.
	store.AddRelation("g1", storage.AgentRelation{Type: storage.RelationDelegate, SourceAgentID: "refund", TargetAgentID: "qa"})
	// Dangling edge: target was removed. Hydration skips it.
	store.AddRelation("g1", storage.AgentRelation{Type: storage.RelationDelegate, SourceAgentID: "support", TargetAgentID: "gone"})

	h, _ := newHandler(t, store)
	agent, err := h.hydrate(context.Background(), "support")
	require.NoError(t, err)

	require.Len(t, agent.Transfers, 1)
	assert.Equal(t, "refund", agent.Transfers[0].ID)
	assert.Equal(t, "handles refunds (can delegate to qa)", agent.Transfers[0].Description)
	require.Len(t, agent.Delegates, 1)
	assert.Equal(t, "qa", agent.Delegates[0].ID)
	assert.Empty(t, agent.Delegates[0].Description)
	require.Len(t, agent.ExternalDelegates, 1)
	assert.Equal(t, "Billing", agent.ExternalDelegates[0].Name)
}

func TestResolveContextID(t *testing.T) {
	tests := []struct {
		name string
		task *a2a.Task
		want string
	}{
		{
			name: "metadata wins",
			task: &a2a.Task{
				ID:        "task_other_x",
				ContextID: "ctx-field",
				Metadata:  map[string]any{a2a.MetaConversationID: "conv-meta"},
			},
			want: "conv-meta",
		},
		{
			name: "input metadata",
			task: &a2a.Task{
				ID:    "t1",
				Input: &a2a.Message{Metadata: map[string]any{a2a.MetaConversationID: "conv-input"}},
			},
			want: "conv-input",
		},
		{
			name: "task context field",
			task: &a2a.Task{ID: "t1", ContextID: "ctx-field"},
			want: "ctx-field",
		},
		{
			name: "structured task id",
			task: &a2a.Task{ID: "task_conv_with_parts_abc123"},
			want: "conv_with_parts",
		},
		{
			name: "fallback",
			task: &a2a.Task{ID: "opaque-id"},
			want: "default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveContextID(tt.task))
		})
	}
}

func TestInputTextJoinsParts(t *testing.T) {
	task := &a2a.Task{Input: &a2a.Message{Parts: []a2a.Part{
		a2a.TextPart("first"),
		a2a.TextPart("  "),
		a2a.DataPart(map[string]any{"k": "v"}),
		a2a.TextPart("second"),
	}}}
	assert.Equal(t, "first second", inputText(task))
}
