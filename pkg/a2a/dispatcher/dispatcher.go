// Copyright 2025 Weavely, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatcher routes delegations to internal or external agents.
//
// Internal targets run in-process and share the caller's tool-session
// ledger and event log. External targets are called over the A2A HTTP
// client with credential headers resolved at send time. Either way the
// request is persisted before the network send and the response after
// receipt, sharing a delegation id, so the conversation record stays
// causally ordered even if the process dies mid-delegation.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/observability"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool/delegatetool"
)

// Local executes a task against an agent in this process. Implemented by
// the task handler; injected to break the package cycle.
type Local interface {
	HandleTask(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error)
}

// LocalFunc adapts a function to Local.
type LocalFunc func(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error)

func (f LocalFunc) HandleTask(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error) {
	return f(ctx, agentID, task)
}

// Options configure a Dispatcher.
type Options struct {
	Store       storage.Store
	Credentials credential.Resolver
	Sessions    *graphsession.Log
	Local       Local

	// ClientFor overrides A2A client construction; tests point it at a
	// local server. Nil uses the default HTTP client.
	ClientFor func(url string, headers map[string]string) *a2a.Client
}

// Dispatcher is the process-wide delegation router. Bind it to a turn with
// ForTurn to get a delegatetool.Router.
type Dispatcher struct {
	store       storage.Store
	credentials credential.Resolver
	sessions    *graphsession.Log
	local       Local
	clientFor   func(url string, headers map[string]string) *a2a.Client
	logger      *slog.Logger
}

func New(opts Options) *Dispatcher {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = graphsession.Default()
	}
	clientFor := opts.ClientFor
	if clientFor == nil {
		clientFor = func(url string, headers map[string]string) *a2a.Client {
			return a2a.NewClient(url, a2a.WithHeaders(headers))
		}
	}
	return &Dispatcher{
		store:       opts.Store,
		credentials: opts.Credentials,
		sessions:    sessions,
		local:       opts.Local,
		clientFor:   clientFor,
		logger:      logger.GetLogger(),
	}
}

// TurnContext carries the caller's identifiers into each delegation.
type TurnContext struct {
	GraphID         string
	ConversationID  string
	ThreadID        string
	StreamRequestID string
}

// ForTurn binds the dispatcher to one executing turn.
func (d *Dispatcher) ForTurn(turn TurnContext) delegatetool.Router {
	return &turnRouter{d: d, turn: turn}
}

type turnRouter struct {
	d    *Dispatcher
	turn TurnContext
}

var _ delegatetool.Router = (*turnRouter)(nil)

func (r *turnRouter) Delegate(ctx context.Context, req delegatetool.Request) (*delegatetool.Response, error) {
	return r.d.delegate(ctx, r.turn, req)
}

func (d *Dispatcher) delegate(ctx context.Context, turn TurnContext, req delegatetool.Request) (*delegatetool.Response, error) {
	target := req.TargetAgentID
	external := target == ""
	if external {
		target = req.ExternalAgentID
	}
	if target == "" {
		return nil, fmt.Errorf("delegation has no target agent")
	}

	delegationID := "del_" + uuid.NewString()
	taskID := "task_" + turn.ConversationID + "_" + uuid.NewString()

	// Delegates share the caller's stream request id so their activity
	// lands in the same event log, but they never stream to the client.
	msg := &a2a.Message{
		MessageID: "msg_" + uuid.NewString(),
		ContextID: turn.ConversationID,
		TaskID:    taskID,
		Role:      a2a.MessageRoleUser,
		Parts:     []a2a.Part{a2a.TextPart(req.Message)},
		Metadata: map[string]any{
			a2a.MetaConversationID:  turn.ConversationID,
			a2a.MetaStreamRequestID: turn.StreamRequestID,
			a2a.MetaIsDelegation:    true,
			a2a.MetaDelegationID:    delegationID,
			a2a.MetaFromAgentID:     req.FromAgentID,
		},
	}
	if turn.ThreadID != "" {
		msg.Metadata[a2a.MetaThreadID] = turn.ThreadID
	}

	// In-graph traffic stays out of the user-visible history.
	visibility := storage.VisibilityInternal
	if external {
		visibility = storage.VisibilityExternal
	}

	if err := d.store.CreateMessage(ctx, &storage.ConversationMessage{
		ID:             msg.MessageID,
		ConversationID: turn.ConversationID,
		Role:           a2a.MessageRoleUser,
		Parts:          msg.Parts,
		Visibility:     visibility,
		MessageType:    storage.MessageTypeA2ARequest,
		FromAgentID:    req.FromAgentID,
		ToAgentID:      target,
		TaskID:         taskID,
		Metadata:       map[string]any{a2a.MetaDelegationID: delegationID},
	}); err != nil {
		return nil, fmt.Errorf("persisting delegation request: %w", err)
	}

	d.sessions.Append(turn.StreamRequestID, graphsession.EventDelegationSent, req.FromAgentID, map[string]any{
		"delegationId": delegationID,
		"target":       target,
		"taskId":       taskID,
		"message":      req.Message,
	})

	start := time.Now()
	var task *a2a.Task
	var err error
	if external {
		task, err = d.sendExternal(ctx, req.ExternalAgentID, msg)
	} else {
		task, err = d.sendInternal(ctx, req.TargetAgentID, taskID, msg)
	}
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordDelegation(ctx, target, time.Since(start), err)
	}
	if err != nil {
		d.logger.Error("Delegation failed",
			"delegation_id", delegationID,
			"target", target,
			"error", err)
		return nil, fmt.Errorf("delegation to %s failed: %w", target, err)
	}

	result := resultFromTask(task)
	parts := resultParts(task)

	if err := d.store.SaveA2AMessageResponse(ctx, &storage.ConversationMessage{
		ID:             "msg_" + uuid.NewString(),
		ConversationID: turn.ConversationID,
		Role:           a2a.MessageRoleAgent,
		Parts:          parts,
		Visibility:     visibility,
		MessageType:    storage.MessageTypeA2AResponse,
		FromAgentID:    target,
		ToAgentID:      req.FromAgentID,
		TaskID:         task.ID,
		Metadata:       map[string]any{a2a.MetaDelegationID: delegationID},
	}); err != nil {
		return nil, fmt.Errorf("persisting delegation response: %w", err)
	}

	d.sessions.Append(turn.StreamRequestID, graphsession.EventDelegationReturned, req.FromAgentID, map[string]any{
		"delegationId": delegationID,
		"target":       target,
		"taskId":       task.ID,
		"state":        string(task.Status.State),
	})

	if task.Status.State == a2a.TaskStateFailed {
		return nil, fmt.Errorf("delegate %s failed: %s", target, task.Status.Message.Text())
	}

	return &delegatetool.Response{TaskID: task.ID, Result: result}, nil
}

func (d *Dispatcher) sendInternal(ctx context.Context, agentID, taskID string, msg *a2a.Message) (*a2a.Task, error) {
	if d.local == nil {
		return nil, fmt.Errorf("no local handler configured for internal agent %s", agentID)
	}
	task := &a2a.Task{
		ID:        taskID,
		ContextID: msg.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Now()},
		Input:     msg,
		Metadata:  msg.Metadata,
	}
	return d.local.HandleTask(ctx, agentID, task)
}

func (d *Dispatcher) sendExternal(ctx context.Context, externalAgentID string, msg *a2a.Message) (*a2a.Task, error) {
	agent, err := d.store.GetExternalAgent(ctx, externalAgentID)
	if err != nil {
		return nil, fmt.Errorf("looking up external agent %s: %w", externalAgentID, err)
	}

	headers := map[string]string{}
	if agent.CredentialReferenceID != "" && d.credentials != nil {
		ref, err := d.store.GetCredentialReference(ctx, agent.CredentialReferenceID)
		if err != nil {
			return nil, fmt.Errorf("looking up credential for external agent %s: %w", externalAgentID, err)
		}
		resolved, err := d.credentials.ResolveHeaders(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving credential for external agent %s: %w", externalAgentID, err)
		}
		for k, v := range resolved {
			headers[k] = v
		}
	}

	return d.clientFor(agent.BaseURL, headers).SendMessage(ctx, msg)
}

// resultFromTask reduces the delegate's task to the value handed back to
// the calling model: concatenated artifact text when present, otherwise the
// artifacts' data parts, otherwise the status message.
func resultFromTask(task *a2a.Task) any {
	var text string
	var data []map[string]any
	for _, art := range task.Artifacts {
		for _, p := range art.Parts {
			switch p.Kind {
			case a2a.PartKindText:
				text += p.Text
			case a2a.PartKindData:
				data = append(data, p.Data)
			}
		}
	}
	if text != "" {
		return text
	}
	if len(data) > 0 {
		return data
	}
	return task.Status.Message.Text()
}

func resultParts(task *a2a.Task) []a2a.Part {
	var parts []a2a.Part
	for _, art := range task.Artifacts {
		parts = append(parts, art.Parts...)
	}
	if len(parts) == 0 && task.Status.Message != nil {
		parts = task.Status.Message.Parts
	}
	return parts
}
