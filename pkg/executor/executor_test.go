package executor

import (
	"context"
	"encoding/json"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool"
	"github.com/weavely/weave/pkg/tool/delegatetool"
)

// scriptedLLM plays back a fixed sequence of responses across all phases of
// a turn.
type scriptedLLM struct {
	responses []*model.Response
	calls     int
	requests  []*model.Request
}

func (f *scriptedLLM) Name() string { return "scripted" }

func (f *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }

func (f *scriptedLLM) Close() error { return nil }

var _ model.LLM = (*scriptedLLM)(nil)

func (f *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		f.requests = append(f.requests, req)
		if f.calls >= len(f.responses) {
			yield(nil, assert.AnError)
			return
		}
		final := f.responses[f.calls]
		f.calls++

		if stream {
			if text := final.TextContent(); text != "" {
				if !yield(&model.Response{
					Content: &model.Content{Parts: []a2a.Part{a2a.TextPart(text)}, Role: a2a.MessageRoleAgent},
					Partial: true,
				}, nil) {
					return
				}
			}
		}
		yield(final, nil)
	}
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:      &model.Content{Parts: []a2a.Part{a2a.TextPart(text)}, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{TotalTokens: 10},
	}
}

func toolCallResponse(text, id, name string, args map[string]any) *model.Response {
	var parts []a2a.Part
	if text != "" {
		parts = append(parts, a2a.TextPart(text))
	}
	return &model.Response{
		Content:      &model.Content{Parts: parts, Role: a2a.MessageRoleAgent},
		TurnComplete: true,
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
	}
}

type fixture struct {
	store    *storage.MemoryStore
	ledger   *ledger.Ledger
	sessions *graphsession.Log
	llm      *scriptedLLM
	exec     *Executor
}

func newFixture(t *testing.T, responses ...*model.Response) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryStore(),
		ledger:   ledger.New(time.Minute, time.Minute),
		sessions: graphsession.New(),
		llm:      &scriptedLLM{responses: responses},
	}
	t.Cleanup(f.ledger.Close)
	f.exec = New(Options{
		Store:        f.store,
		Ledger:       f.ledger,
		Sessions:     f.sessions,
		NewModel:     func(cfg *storage.ModelConfig) (model.LLM, error) { return f.llm, nil },
		SyncFinalize: true,
	})
	return f
}

func testAgent(mutate ...func(*Agent)) *Agent {
	a := &Agent{
		Config: &storage.Agent{
			ID:      "support",
			GraphID: "g1",
			Name:    "Support",
			Models:  &storage.AgentModels{Base: &storage.ModelConfig{Model: "scripted"}},
		},
		Graph: &storage.Graph{ID: "g1", Name: "Support graph"},
	}
	for _, m := range mutate {
		m(a)
	}
	return a
}

func testTask(text string) *a2a.Task {
	return &a2a.Task{
		ID:        "task_conv-1_abc",
		ContextID: "conv-1",
		Input:     a2a.NewUserMessage("m1", text),
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted},
	}
}

func TestExecutePureText(t *testing.T) {
	f := newFixture(t, textResponse("hello there"))

	result := f.exec.Execute(context.Background(), Request{
		Agent:           testAgent(),
		Task:            testTask("hello"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
	})

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	require.Len(t, result.Artifacts[0].Parts, 1)
	assert.Equal(t, "hello there", result.Artifacts[0].Parts[0].Text)

	// No data components, so phase 2 never ran.
	assert.Equal(t, 1, f.llm.calls)
}

func TestExecuteTransfer(t *testing.T) {
	f := newFixture(t, toolCallResponse("", "c1", "transfer_to_refund-agent", map[string]any{
		"reason": "billing dispute",
	}))

	agent := testAgent(func(a *Agent) {
		a.Transfers = []Related{{ID: "refund-agent", Name: "Refunds"}}
	})
	task := testTask("I want my money back")

	result := f.exec.Execute(context.Background(), Request{
		Agent:           agent,
		Task:            task,
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
	})

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	require.Len(t, result.Artifacts[0].Parts, 1)
	data := result.Artifacts[0].Parts[0].Data
	assert.Equal(t, "transfer", data["type"])
	assert.Equal(t, "refund-agent", data["target"])
	assert.Equal(t, task.ID, data["task_id"])
	assert.Equal(t, "billing dispute", data["reason"])
	assert.Equal(t, "I want my money back", data["original_message"])

	require.Len(t, f.sessions.EventsOfType("req-1", graphsession.EventTransfer), 1)
	assert.Equal(t, 1, f.llm.calls)
}

func TestExecutePhase2(t *testing.T) {
	structured, err := json.Marshal(map[string]any{
		"dataComponents": []any{
			map[string]any{
				"name":  "Answer",
				"props": map[string]any{"text": "all good"},
			},
		},
	})
	require.NoError(t, err)

	f := newFixture(t,
		toolCallResponse("gathered everything", "c1", "thinking_complete", nil),
		textResponse(string(structured)),
	)

	agent := testAgent(func(a *Agent) {
		a.DataComponents = []*storage.DataComponent{{
			ID:   "dc1",
			Name: "Answer",
			Props: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
			},
		}}
	})

	result := f.exec.Execute(context.Background(), Request{
		Agent:           agent,
		Task:            testTask("status?"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
	})

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	parts := result.Artifacts[0].Parts
	require.Len(t, parts, 1)
	assert.Equal(t, a2a.PartKindData, parts[0].Kind)
	assert.Equal(t, "Answer", parts[0].Data["name"])

	// Phase 1 must require tool use; phase 2 carries the schema.
	require.Len(t, f.llm.requests, 2)
	assert.Equal(t, model.ToolChoiceRequired, f.llm.requests[0].ToolChoice)
	require.NotNil(t, f.llm.requests[1].Config)
	assert.NotNil(t, f.llm.requests[1].Config.ResponseSchema)

	// The phase-2 prompt carries the reasoning transcript.
	last := f.llm.requests[1].Messages[len(f.llm.requests[1].Messages)-1]
	assert.Contains(t, last.Text(), "gathered everything")
}

func TestExecuteStepCapReturnsPhase1Text(t *testing.T) {
	responses := make([]*model.Response, 3)
	for i := range responses {
		responses[i] = toolCallResponse("still researching", "c", "unknown_probe", nil)
	}
	f := newFixture(t, responses...)

	steps := 3
	agent := testAgent(func(a *Agent) {
		a.Config.StopWhen = &storage.StopWhen{StepCountIs: &steps}
		a.DataComponents = []*storage.DataComponent{{ID: "dc1", Name: "Answer"}}
	})

	result := f.exec.Execute(context.Background(), Request{
		Agent:           agent,
		Task:            testTask("go"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
	})

	// Cap exhausted without thinking_complete: the phase-1 text is the
	// answer and phase 2 never runs.
	assert.Equal(t, 3, f.llm.calls)
	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, result.Artifacts, 1)
	require.Len(t, result.Artifacts[0].Parts, 1)
	assert.Equal(t, "still researching", result.Artifacts[0].Parts[0].Text)
}

func TestExecuteFailureReturnsFailedTask(t *testing.T) {
	f := newFixture(t) // no scripted responses: first model call errors

	result := f.exec.Execute(context.Background(), Request{
		Agent:           testAgent(),
		Task:            testTask("hello"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
	})

	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
	require.NotNil(t, result.Status.Message)
	assert.NotEmpty(t, result.Status.Message.Text())
	assert.Empty(t, result.Artifacts)
}

type fakeRouter struct {
	requests []delegatetool.Request
	result   string
}

func (r *fakeRouter) Delegate(ctx context.Context, req delegatetool.Request) (*delegatetool.Response, error) {
	r.requests = append(r.requests, req)
	return &delegatetool.Response{TaskID: "task_conv-1_delegate", Result: r.result}, nil
}

func TestExecuteDelegationRecordsLedger(t *testing.T) {
	f := newFixture(t,
		toolCallResponse("", "call-42", "delegate_to_qa", map[string]any{"message": "verify the fix"}),
		textResponse("QA confirmed the fix"),
	)

	router := &fakeRouter{result: "fix verified on staging"}
	agent := testAgent(func(a *Agent) {
		a.Delegates = []Related{{ID: "qa", Name: "QA"}}
	})

	result := f.exec.Execute(context.Background(), Request{
		Agent:           agent,
		Task:            testTask("is the fix live?"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
		Router:          router,
	})

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.Len(t, router.requests, 1)
	assert.Equal(t, "qa", router.requests[0].TargetAgentID)
	assert.Equal(t, "verify the fix", router.requests[0].Message)

	// The delegate's reply is citable: it sits in the caller's ledger
	// under the delegate tool-call id.
	entry, ok := f.ledger.Get("req-1", "call-42")
	require.True(t, ok)
	payload, ok := entry.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fix verified on staging", payload["result"])
}

func TestExecuteStreamsTextParts(t *testing.T) {
	f := newFixture(t, textResponse("streamed hello"))

	var streamed []a2a.Part
	result := f.exec.Execute(context.Background(), Request{
		Agent:           testAgent(),
		Task:            testTask("hi"),
		ConversationID:  "conv-1",
		StreamRequestID: "req-1",
		OnPart:          func(p a2a.Part) { streamed = append(streamed, p) },
	})

	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	require.NotEmpty(t, streamed)
	var text string
	for _, p := range streamed {
		text += p.Text
	}
	assert.Equal(t, "streamed hello", text)
}

func TestResponseSchemaAcceptsUnionMembers(t *testing.T) {
	schema := ResponseSchema(
		[]*storage.DataComponent{{Name: "Answer", Props: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		}}},
		[]*storage.ArtifactComponent{{Name: "Document"}},
	)

	valid := []map[string]any{
		{"dataComponents": []any{map[string]any{"name": "Answer", "props": map[string]any{"text": "x"}}}},
		{"dataComponents": []any{map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "a", "task_id": "t"}}}},
		{"dataComponents": []any{map[string]any{"name": "ArtifactCreate_Document", "props": map[string]any{"tool_call_id": "c", "base_selector": "items"}}}},
	}
	for _, doc := range valid {
		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		_, err = model.ParseObject(string(raw), schema)
		assert.NoError(t, err)
	}

	// A reference without ids must be rejected.
	raw, err := json.Marshal(map[string]any{
		"dataComponents": []any{map[string]any{"name": "Artifact", "props": map[string]any{"artifact_id": "a"}}},
	})
	require.NoError(t, err)
	_, err = model.ParseObject(string(raw), schema)
	assert.Error(t, err)
}
