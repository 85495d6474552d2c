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

// Package task adapts incoming A2A tasks into executor turns. The handler
// resolves the conversation scope, hydrates the target agent from storage,
// runs the turn, follows transfer results to the new agent, and records the
// task and conversation messages.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/a2a/dispatcher"
	"github.com/weavely/weave/pkg/executor"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool/delegatetool"
)

// maxTransferHops bounds transfer chasing so a relation cycle cannot spin
// the handler forever.
const maxTransferHops = 5

// Options configure a Handler.
type Options struct {
	Store      storage.Store
	Executor   *executor.Executor
	Dispatcher *dispatcher.Dispatcher
	Sessions   *graphsession.Log
	GraphID    string
}

// Handler turns A2A tasks into agent executions for one graph. It also
// serves as the dispatcher's local route, so internal delegations re-enter
// through the same path as ingress tasks.
type Handler struct {
	store      storage.Store
	executor   *executor.Executor
	dispatcher *dispatcher.Dispatcher
	sessions   *graphsession.Log
	graphID    string
	logger     *slog.Logger
}

var _ dispatcher.Local = (*Handler)(nil)

func NewHandler(opts Options) *Handler {
	if opts.Sessions == nil {
		opts.Sessions = graphsession.Default()
	}
	return &Handler{
		store:      opts.Store,
		executor:   opts.Executor,
		dispatcher: opts.Dispatcher,
		sessions:   opts.Sessions,
		graphID:    opts.GraphID,
		logger:     logger.GetLogger(),
	}
}

// TurnOptions carry the ingress-only concerns of a turn.
type TurnOptions struct {
	// Headers are the ingress request headers, available to context
	// resolution.
	Headers map[string]string

	// OnPart streams emitted parts to the client. Ignored for delegated
	// tasks, which never stream.
	OnPart func(part a2a.Part)
}

// HandleTask implements dispatcher.Local for internal delegations.
func (h *Handler) HandleTask(ctx context.Context, agentID string, task *a2a.Task) (*a2a.Task, error) {
	return h.handle(ctx, agentID, task, TurnOptions{}, 0)
}

// Handle runs one ingress task against the named agent.
func (h *Handler) Handle(ctx context.Context, agentID string, task *a2a.Task, opts TurnOptions) (*a2a.Task, error) {
	return h.handle(ctx, agentID, task, opts, 0)
}

func (h *Handler) handle(ctx context.Context, agentID string, task *a2a.Task, opts TurnOptions, hop int) (*a2a.Task, error) {
	delegation := a2a.MetaBool(task.Metadata, a2a.MetaIsDelegation)
	onPart := opts.OnPart
	if delegation {
		onPart = nil
	}

	text := inputText(task)
	if text == "" {
		h.logger.Warn("Rejecting task without text input", "task_id", task.ID, "agent_id", agentID)
		failed := failedTask(task, "No text content found in task input")
		h.recordTask(ctx, failed)
		return failed, nil
	}

	contextID := resolveContextID(task)
	streamRequestID := streamRequestIDOf(task)

	// The request's event log is complete once the entry turn returns.
	// Delegated and transferred turns share it, so only the entry frame
	// tears it down.
	if hop == 0 && !delegation {
		defer h.sessions.End(streamRequestID)
	}

	// Work on a scoped copy so downstream code can rely on the resolved
	// identifiers without mutating the caller's task.
	scoped := *task
	scoped.ContextID = contextID
	scoped.Metadata = cloneMeta(task.Metadata)
	scoped.Metadata[a2a.MetaConversationID] = contextID
	scoped.Metadata[a2a.MetaStreamRequestID] = streamRequestID

	h.recordTask(ctx, &a2a.Task{
		ID:        scoped.ID,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: time.Now()},
		Metadata:  scoped.Metadata,
	})

	agent, err := h.hydrate(ctx, agentID)
	if err != nil {
		h.logger.Error("Agent hydration failed", "agent_id", agentID, "graph_id", h.graphID, "error", err)
		h.recordTask(ctx, failedTask(&scoped, err.Error()))
		return nil, err
	}

	var router delegatetool.Router
	if h.dispatcher != nil && (len(agent.Delegates) > 0 || len(agent.ExternalDelegates) > 0) {
		router = h.dispatcher.ForTurn(dispatcher.TurnContext{
			GraphID:         h.graphID,
			ConversationID:  contextID,
			ThreadID:        a2a.MetaString(scoped.Metadata, a2a.MetaThreadID),
			StreamRequestID: streamRequestID,
		})
	}

	result := h.executor.Execute(ctx, executor.Request{
		Agent:           agent,
		Task:            &scoped,
		ConversationID:  contextID,
		StreamRequestID: streamRequestID,
		Headers:         opts.Headers,
		Router:          router,
		OnPart:          onPart,
	})

	if target := transferTarget(result); target != "" {
		if hop+1 >= maxTransferHops {
			h.logger.Warn("Transfer hop limit reached, returning transfer result",
				"task_id", scoped.ID, "target", target)
		} else {
			h.logger.Info("Following transfer", "task_id", scoped.ID, "from", agentID, "to", target)
			h.recordTask(ctx, result)
			return h.handle(ctx, target, retarget(&scoped), opts, hop+1)
		}
	}

	h.recordTask(ctx, result)
	if !delegation {
		h.persistTurn(ctx, agentID, &scoped, result)
	}
	return result, nil
}

// hydrate assembles the runtime agent: config, graph, one-level-deep
// relation summaries, tool servers, and components. Broken relation edges
// are logged and skipped rather than failing the whole turn.
func (h *Handler) hydrate(ctx context.Context, agentID string) (*executor.Agent, error) {
	cfg, err := h.store.GetAgentByID(ctx, h.graphID, agentID)
	if err != nil {
		return nil, err
	}

	var (
		graph              *storage.Graph
		tools              []*storage.ToolServer
		dataComponents     []*storage.DataComponent
		artifactComponents []*storage.ArtifactComponent
		relations          []storage.AgentRelation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if graph, err = h.store.GetGraphByID(gctx, h.graphID); err != nil {
			return fmt.Errorf("loading graph %s: %w", h.graphID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if tools, err = h.store.GetToolsForAgent(gctx, h.graphID, agentID); err != nil {
			return fmt.Errorf("loading tools for agent %s: %w", agentID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if dataComponents, err = h.store.GetDataComponentsForAgent(gctx, h.graphID, agentID); err != nil {
			return fmt.Errorf("loading data components for agent %s: %w", agentID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if artifactComponents, err = h.store.GetArtifactComponentsForAgent(gctx, h.graphID, agentID); err != nil {
			return fmt.Errorf("loading artifact components for agent %s: %w", agentID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if relations, err = h.store.GetRelatedAgentsForGraph(gctx, h.graphID, agentID); err != nil {
			return fmt.Errorf("loading relations for agent %s: %w", agentID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agent := &executor.Agent{
		Config:             cfg,
		Graph:              graph,
		ToolServers:        tools,
		DataComponents:     dataComponents,
		ArtifactComponents: artifactComponents,
	}

	for _, rel := range relations {
		if rel.ExternalAgentID != "" {
			ext, err := h.store.GetExternalAgent(ctx, rel.ExternalAgentID)
			if err != nil {
				h.logger.Warn("Skipping relation to unknown external agent",
					"agent_id", agentID, "external_agent_id", rel.ExternalAgentID, "error", err)
				continue
			}
			agent.ExternalDelegates = append(agent.ExternalDelegates, executor.Related{
				ID:          ext.ID,
				Name:        ext.Name,
				Description: ext.Description,
			})
			continue
		}

		target, err := h.store.GetAgentByID(ctx, h.graphID, rel.TargetAgentID)
		if err != nil {
			h.logger.Warn("Skipping relation to unknown agent",
				"agent_id", agentID, "target_agent_id", rel.TargetAgentID, "error", err)
			continue
		}
		desc := target.Description
		if summary := h.relationSummary(ctx, target.ID); summary != "" {
			desc = strings.TrimSpace(desc + " (" + summary + ")")
		}
		related := executor.Related{ID: target.ID, Name: target.Name, Description: desc}
		switch rel.Type {
		case storage.RelationTransfer:
			agent.Transfers = append(agent.Transfers, related)
		case storage.RelationDelegate:
			agent.Delegates = append(agent.Delegates, related)
		}
	}

	return agent, nil
}

// relationSummary describes an agent's own relations one level deep so the
// calling agent's model can weigh downstream routing when choosing a
// transfer or delegation target.
func (h *Handler) relationSummary(ctx context.Context, agentID string) string {
	rels, err := h.store.GetRelatedAgentsForGraph(ctx, h.graphID, agentID)
	if err != nil || len(rels) == 0 {
		return ""
	}
	var transfers, delegates []string
	for _, rel := range rels {
		if rel.ExternalAgentID != "" {
			delegates = append(delegates, rel.ExternalAgentID)
			continue
		}
		switch rel.Type {
		case storage.RelationTransfer:
			transfers = append(transfers, rel.TargetAgentID)
		case storage.RelationDelegate:
			delegates = append(delegates, rel.TargetAgentID)
		}
	}
	var clauses []string
	if len(transfers) > 0 {
		clauses = append(clauses, "can transfer to "+strings.Join(transfers, ", "))
	}
	if len(delegates) > 0 {
		clauses = append(clauses, "can delegate to "+strings.Join(delegates, ", "))
	}
	return strings.Join(clauses, "; ")
}

// persistTurn writes the user message and the agent's reply to the
// conversation. Both are written after the turn so history loading never
// replays the in-flight message back into its own prompt.
func (h *Handler) persistTurn(ctx context.Context, agentID string, task, result *a2a.Task) {
	if task.Input != nil {
		if err := h.store.CreateMessage(ctx, &storage.ConversationMessage{
			ID:             "msg_" + uuid.NewString(),
			ConversationID: task.ContextID,
			Role:           a2a.MessageRoleUser,
			Parts:          task.Input.Parts,
			Visibility:     storage.VisibilityExternal,
			MessageType:    storage.MessageTypeChat,
			ToAgentID:      agentID,
			TaskID:         task.ID,
		}); err != nil {
			h.logger.Error("Persisting user message failed", "task_id", task.ID, "error", err)
		}
	}

	parts := responseParts(result)
	if len(parts) == 0 {
		return
	}
	if err := h.store.CreateMessage(ctx, &storage.ConversationMessage{
		ID:             "msg_" + uuid.NewString(),
		ConversationID: task.ContextID,
		Role:           a2a.MessageRoleAgent,
		Parts:          parts,
		Visibility:     storage.VisibilityExternal,
		MessageType:    storage.MessageTypeChat,
		FromAgentID:    agentID,
		TaskID:         task.ID,
	}); err != nil {
		h.logger.Error("Persisting agent response failed", "task_id", task.ID, "error", err)
	}
}

func (h *Handler) recordTask(ctx context.Context, task *a2a.Task) {
	if err := h.store.UpsertTask(ctx, &storage.TaskRecord{
		ID:        task.ID,
		ContextID: task.ContextID,
		State:     task.Status.State,
		Metadata:  task.Metadata,
		CreatedAt: time.Now(),
	}); err != nil {
		h.logger.Error("Recording task state failed", "task_id", task.ID, "error", err)
	}
}

// resolveContextID finds the conversation a task belongs to: explicit
// metadata first, then the task's own context, then the structured task id
// `task_<ctx>_<suffix>`, then the shared default scope.
func resolveContextID(task *a2a.Task) string {
	if id := a2a.MetaString(task.Metadata, a2a.MetaConversationID); id != "" {
		return id
	}
	if task.Input != nil {
		if id := a2a.MetaString(task.Input.Metadata, a2a.MetaConversationID); id != "" {
			return id
		}
	}
	if task.ContextID != "" {
		return task.ContextID
	}
	if rest, ok := strings.CutPrefix(task.ID, "task_"); ok {
		if i := strings.LastIndex(rest, "_"); i > 0 {
			return rest[:i]
		}
	}
	return "default"
}

func streamRequestIDOf(task *a2a.Task) string {
	if id := a2a.MetaString(task.Metadata, a2a.MetaStreamRequestID); id != "" {
		return id
	}
	if task.Input != nil {
		if id := a2a.MetaString(task.Input.Metadata, a2a.MetaStreamRequestID); id != "" {
			return id
		}
	}
	return "req_" + uuid.NewString()
}

// inputText joins the task's text parts with single spaces, skipping
// whitespace-only parts.
func inputText(task *a2a.Task) string {
	if task.Input == nil {
		return ""
	}
	var texts []string
	for _, p := range task.Input.Parts {
		if p.Kind == a2a.PartKindText && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// transferTarget extracts the target agent id when the result is a transfer
// artifact, empty otherwise.
func transferTarget(result *a2a.Task) string {
	if result == nil || result.Status.State != a2a.TaskStateCompleted || len(result.Artifacts) != 1 {
		return ""
	}
	parts := result.Artifacts[0].Parts
	if len(parts) != 1 || parts[0].Kind != a2a.PartKindData {
		return ""
	}
	data := parts[0].Data
	if t, _ := data["type"].(string); t != "transfer" {
		return ""
	}
	target, _ := data["target"].(string)
	return target
}

// retarget builds the follow-on task for a transfer: a fresh id in the same
// conversation, carrying the original input and metadata.
func retarget(task *a2a.Task) *a2a.Task {
	return &a2a.Task{
		ID:        "task_" + task.ContextID + "_" + uuid.NewString(),
		ContextID: task.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Now()},
		Input:     task.Input,
		Metadata:  cloneMeta(task.Metadata),
	}
}

func responseParts(result *a2a.Task) []a2a.Part {
	var parts []a2a.Part
	for _, art := range result.Artifacts {
		parts = append(parts, art.Parts...)
	}
	if len(parts) == 0 && result.Status.Message != nil {
		parts = result.Status.Message.Parts
	}
	return parts
}

func failedTask(task *a2a.Task, message string) *a2a.Task {
	return &a2a.Task{
		ID:        task.ID,
		ContextID: task.ContextID,
		Status: a2a.TaskStatus{
			State: a2a.TaskStateFailed,
			Message: &a2a.Message{
				MessageID: "msg_" + uuid.NewString(),
				Role:      a2a.MessageRoleAgent,
				Parts:     []a2a.Part{a2a.TextPart(message)},
			},
			Timestamp: time.Now(),
		},
		Metadata: task.Metadata,
	}
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
