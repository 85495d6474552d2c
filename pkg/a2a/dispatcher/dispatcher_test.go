package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool/delegatetool"
)

func completedTask(id, text string) *a2a.Task {
	return &a2a.Task{
		ID:     id,
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted, Timestamp: time.Now()},
		Artifacts: []a2a.Artifact{
			{ArtifactID: "art", Parts: []a2a.Part{a2a.TextPart(text)}},
		},
	}
}

func TestDelegateInternal(t *testing.T) {
	store := storage.NewMemoryStore()
	sessions := graphsession.New()

	var handledAgent string
	var handledTask *a2a.Task
	d := New(Options{
		Store:    store,
		Sessions: sessions,
		Local: LocalFunc(func(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error) {
			handledAgent = agentID
			handledTask = task
			return completedTask(task.ID, "delegate answer"), nil
		}),
	})

	router := d.ForTurn(TurnContext{
		GraphID:         "support",
		ConversationID:  "conv-1",
		ThreadID:        "thread-7",
		StreamRequestID: "req-1",
	})
	resp, err := router.Delegate(context.Background(), delegatetool.Request{
		FromAgentID:   "router",
		TargetAgentID: "qa",
		Message:       "check the order",
	})
	require.NoError(t, err)
	assert.Equal(t, "delegate answer", resp.Result)

	assert.Equal(t, "qa", handledAgent)
	require.NotNil(t, handledTask)
	assert.Equal(t, "conv-1", handledTask.ContextID)
	assert.True(t, a2a.MetaBool(handledTask.Metadata, a2a.MetaIsDelegation))
	assert.Equal(t, "req-1", a2a.MetaString(handledTask.Metadata, a2a.MetaStreamRequestID))
	assert.Equal(t, "thread-7", a2a.MetaString(handledTask.Metadata, a2a.MetaThreadID))
	assert.Equal(t, "router", a2a.MetaString(handledTask.Metadata, a2a.MetaFromAgentID))

	// Exactly one request and one response, sharing a delegation id,
	// invisible to the end user.
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.MessageTypeA2ARequest, msgs[0].MessageType)
	assert.Equal(t, storage.MessageTypeA2AResponse, msgs[1].MessageType)
	assert.Equal(t, storage.VisibilityInternal, msgs[0].Visibility)
	assert.Equal(t, storage.VisibilityInternal, msgs[1].Visibility)
	delegationID := a2a.MetaString(msgs[0].Metadata, a2a.MetaDelegationID)
	assert.NotEmpty(t, delegationID)
	assert.Equal(t, delegationID, a2a.MetaString(msgs[1].Metadata, a2a.MetaDelegationID))

	sent := sessions.EventsOfType("req-1", graphsession.EventDelegationSent)
	returned := sessions.EventsOfType("req-1", graphsession.EventDelegationReturned)
	require.Len(t, sent, 1)
	require.Len(t, returned, 1)
	assert.Equal(t, delegationID, sent[0].Data["delegationId"])
	assert.Equal(t, delegationID, returned[0].Data["delegationId"])
}

func TestDelegateExternal(t *testing.T) {
	var seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		var body struct {
			Message *a2a.Message `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Message)
		assert.Equal(t, "summarize billing", body.Message.Text())
		_ = json.NewEncoder(w).Encode(completedTask(body.Message.TaskID, "billing summary"))
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	store.AddExternalAgent(&storage.ExternalAgent{
		ID:                    "billing-ext",
		Name:                  "Billing",
		BaseURL:               srv.URL,
		CredentialReferenceID: "cred-1",
	})
	store.AddCredentialReference(&storage.CredentialReference{
		ID:                "cred-1",
		Type:              "memory",
		CredentialStoreID: "vault",
		RetrievalParams:   map[string]string{"key": "token", "prefix": "Bearer "},
	})

	creds := credential.NewStoreResolver()
	creds.AddStore("vault", map[string]string{"token": "xyz"})

	d := New(Options{Store: store, Credentials: creds, Sessions: graphsession.New()})
	router := d.ForTurn(TurnContext{ConversationID: "conv-2", StreamRequestID: "req-2"})

	resp, err := router.Delegate(context.Background(), delegatetool.Request{
		FromAgentID:     "router",
		ExternalAgentID: "billing-ext",
		Message:         "summarize billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "billing summary", resp.Result)
	assert.Equal(t, "Bearer xyz", seenAuth)

	// External traffic is user-visible.
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.VisibilityExternal, msgs[0].Visibility)
	assert.Equal(t, storage.VisibilityExternal, msgs[1].Visibility)
}

func TestDelegateFailureHasNoSecondResponse(t *testing.T) {
	store := storage.NewMemoryStore()
	sessions := graphsession.New()
	d := New(Options{
		Store:    store,
		Sessions: sessions,
		Local: LocalFunc(func(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error) {
			return nil, assert.AnError
		}),
	})

	router := d.ForTurn(TurnContext{ConversationID: "conv-3", StreamRequestID: "req-3"})
	_, err := router.Delegate(context.Background(), delegatetool.Request{
		FromAgentID:   "router",
		TargetAgentID: "qa",
		Message:       "boom",
	})
	require.Error(t, err)

	// Request persisted, no response.
	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, storage.MessageTypeA2ARequest, msgs[0].MessageType)
	assert.Empty(t, sessions.EventsOfType("req-3", graphsession.EventDelegationReturned))
}

func TestDelegateRequiresTarget(t *testing.T) {
	d := New(Options{Store: storage.NewMemoryStore(), Sessions: graphsession.New()})
	router := d.ForTurn(TurnContext{ConversationID: "c", StreamRequestID: "r"})
	_, err := router.Delegate(context.Background(), delegatetool.Request{Message: "hi"})
	require.Error(t, err)
}
