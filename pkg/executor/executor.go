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

// Package executor runs one agent turn as a small state machine:
//
//	INIT → LOAD → PHASE_1 → { TRANSFER | PHASE_2 | DONE } → FORMAT → END
//
// Phase 1 is the planning loop: the model calls tools, saves artifacts, and
// either transfers the conversation, signals thinking_complete, or produces
// a plain text answer. Phase 2, which only exists for agents with data
// components, renders the gathered information into schema-validated
// structured output. FORMAT resolves artifact references into data parts,
// and END returns the task result.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/artifact"
	"github.com/weavely/weave/pkg/contextresolver"
	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/graphsession"
	"github.com/weavely/weave/pkg/history"
	"github.com/weavely/weave/pkg/ledger"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/model/providers"
	"github.com/weavely/weave/pkg/observability"
	"github.com/weavely/weave/pkg/prompt"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/stream"
	"github.com/weavely/weave/pkg/tool"
	"github.com/weavely/weave/pkg/tool/artifacttool"
	"github.com/weavely/weave/pkg/tool/controltool"
	"github.com/weavely/weave/pkg/tool/delegatetool"
	"github.com/weavely/weave/pkg/tool/mcptoolset"
	"github.com/weavely/weave/pkg/tool/transfertool"
)

const finalizeTimeout = 60 * time.Second

// Options configure an Executor.
type Options struct {
	Store       storage.Store
	Credentials credential.Resolver
	Contexts    contextresolver.Resolver
	Ledger      *ledger.Ledger
	Sessions    *graphsession.Log
	History     *history.Service

	// NewModel builds provider clients; tests swap in a scripted model.
	NewModel func(cfg *storage.ModelConfig) (model.LLM, error)

	// SyncFinalize runs artifact metadata generation before returning
	// instead of in the background. Tests set it.
	SyncFinalize bool
}

// Executor runs agent turns. One executor serves all agents; per-turn state
// lives in the Request.
type Executor struct {
	store        storage.Store
	credentials  credential.Resolver
	contexts     contextresolver.Resolver
	ledger       *ledger.Ledger
	sessions     *graphsession.Log
	history      *history.Service
	newModel     func(cfg *storage.ModelConfig) (model.LLM, error)
	syncFinalize bool
	logger       *slog.Logger
}

// New creates an executor.
func New(opts Options) *Executor {
	if opts.Ledger == nil {
		opts.Ledger = ledger.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = graphsession.Default()
	}
	if opts.History == nil {
		opts.History = history.NewService(opts.Store)
	}
	if opts.Contexts == nil {
		opts.Contexts = contextresolver.New(opts.Store)
	}
	if opts.NewModel == nil {
		opts.NewModel = providers.New
	}
	return &Executor{
		store:        opts.Store,
		credentials:  opts.Credentials,
		contexts:     opts.Contexts,
		ledger:       opts.Ledger,
		sessions:     opts.Sessions,
		history:      opts.History,
		newModel:     opts.NewModel,
		syncFinalize: opts.SyncFinalize,
		logger:       logger.GetLogger(),
	}
}

// Request is one agent turn.
type Request struct {
	Agent *Agent
	Task  *a2a.Task

	ConversationID  string
	StreamRequestID string

	// Headers are the ingress request headers, used for context resolution.
	Headers map[string]string

	// Router handles delegate tool calls. Nil when the agent has no
	// delegation relations.
	Router delegatetool.Router

	// OnPart streams each emitted part to the client as it is produced.
	// Nil suppresses streaming (delegated turns).
	OnPart func(part a2a.Part)
}

// Execute runs the turn. Failures never surface as Go errors; they come
// back as a Failed task so the caller always has a result to route.
func (e *Executor) Execute(ctx context.Context, req Request) *a2a.Task {
	start := time.Now()
	agent := req.Agent

	result, steps, err := e.run(ctx, req)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordAgentTurn(ctx, agent.Config.ID, time.Since(start), steps, err)
	}
	if err != nil {
		e.logger.Error("agent turn failed",
			"agent_id", agent.Config.ID,
			"task_id", req.Task.ID,
			"error", err)
		return failedTask(req.Task, err.Error())
	}
	return result
}

func (e *Executor) run(ctx context.Context, req Request) (*a2a.Task, int, error) {
	agent := req.Agent
	task := req.Task
	sessionID := req.StreamRequestID

	// INIT: the tool-session is keyed by stream request id so delegated
	// turns of the same request share it.
	e.ledger.Ensure(sessionID)

	// LOAD
	vars, err := e.resolveContext(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	past, err := e.history.Load(ctx, history.Scope{
		ConversationID: req.ConversationID,
		AgentID:        agent.Config.ID,
		TaskID:         task.ID,
	}, agent.Config.ConversationHistory)
	if err != nil {
		return nil, 0, err
	}

	registry, closers := e.buildRegistry(ctx, req)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	baseModel := agent.BaseModel()
	llm, err := e.newModel(baseModel)
	if err != nil {
		return nil, 0, fmt.Errorf("creating model for agent %s: %w", agent.Config.ID, err)
	}
	driver := model.NewDriver(llm)

	// PHASE_1
	system := prompt.Phase1System(prompt.Phase1Inputs{
		GraphPrompt:        agent.Graph.Prompt,
		AgentPrompt:        agent.Config.Prompt,
		AgentName:          agent.Config.Name,
		AgentDescription:   agent.Config.Description,
		Variables:          vars,
		Tools:              toolManifest(registry),
		DataComponents:     agent.DataComponents,
		ArtifactComponents: agent.ArtifactComponents,
	})

	input := task.Input
	if input == nil {
		input = a2a.NewUserMessage("msg_"+uuid.NewString(), task.InputText())
	}
	messages := append(append([]*a2a.Message{}, past...), input)

	stops := []model.StopCondition{stopOnTransfer}
	toolChoice := model.ToolChoiceAuto
	if agent.HasDataComponents() {
		// Invariant: with data components the model must exit phase 1
		// through a tool call, never by writing the answer as text.
		stops = append(stops, model.HasToolCall(controltool.ThinkingCompleteName))
		toolChoice = model.ToolChoiceRequired
	}

	parser := stream.NewParser(e.storeResolver(ctx, req.ConversationID), req.OnPart)

	textReq := model.TextRequest{
		System:      system,
		Messages:    messages,
		Registry:    registry,
		ToolChoice:  toolChoice,
		MaxSteps:    agent.MaxSteps(),
		StopWhen:    stops,
		MaxDuration: providers.MaxDuration(baseModel),
	}

	var phase1 *model.TextResult
	streamText := req.OnPart != nil && !agent.HasDataComponents()
	if streamText {
		textReq.OnDelta = func(text string) { parser.WriteText(text) }
		phase1, err = driver.StreamText(ctx, textReq)
	} else {
		phase1, err = driver.GenerateText(ctx, textReq)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("phase 1 failed: %w", err)
	}
	steps := len(phase1.Steps)

	e.sessions.Append(sessionID, graphsession.EventAgentReasoning, agent.Config.ID, map[string]any{
		"taskId":       task.ID,
		"steps":        steps,
		"finishReason": string(phase1.FinishReason),
	})

	// TRANSFER
	if call := transferCall(phase1.Steps); call != nil {
		return e.transferResult(req, registry, call), steps, nil
	}

	// PHASE_2 or DONE
	var parts []a2a.Part
	if agent.HasDataComponents() && calledThinkingComplete(phase1.Steps) {
		parts, err = e.phase2(ctx, req, vars, past, input, phase1, parser)
		if err != nil {
			return nil, steps, err
		}
	} else {
		// Step-cap exhaustion lands here too: the last step's text is the
		// answer we have.
		if !streamText {
			parser.WriteText(phase1.Text)
		}
		parts = parser.Finalize()
	}

	// FORMAT
	e.sessions.Append(sessionID, graphsession.EventAgentGenerate, agent.Config.ID, map[string]any{
		"taskId": task.ID,
		"parts":  len(parts),
	})

	e.finalizeArtifacts(ctx, req)

	// END
	return completedTask(task, parts), steps, nil
}

// phase2 renders the structured response and resolves its components into
// parts. It runs on the structured-output model with no tools.
func (e *Executor) phase2(ctx context.Context, req Request, vars map[string]any, past []*a2a.Message, input *a2a.Message, phase1 *model.TextResult, parser *stream.Parser) ([]a2a.Part, error) {
	agent := req.Agent

	refs, err := e.artifactRefs(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	system := prompt.Phase2System(prompt.Phase2Inputs{
		AgentPrompt:        agent.Config.Prompt,
		AgentName:          agent.Config.Name,
		Variables:          vars,
		DataComponents:     agent.DataComponents,
		ArtifactComponents: agent.ArtifactComponents,
		Artifacts:          refs,
	})

	soModel := agent.StructuredModel()
	llm, err := e.newModel(soModel)
	if err != nil {
		return nil, fmt.Errorf("creating structured-output model: %w", err)
	}
	driver := model.NewDriver(llm)

	messages := append(append([]*a2a.Message{}, past...), input, &a2a.Message{
		MessageID: "msg_" + uuid.NewString(),
		Role:      a2a.MessageRoleUser,
		Parts:     []a2a.Part{a2a.TextPart(transcript(phase1.Steps))},
	})

	obj, err := driver.GenerateObject(ctx, model.ObjectRequest{
		System:     system,
		Messages:   messages,
		Schema:     ResponseSchema(agent.DataComponents, agent.ArtifactComponents),
		SchemaName: "response",
	})
	if err != nil {
		return nil, fmt.Errorf("phase 2 failed: %w", err)
	}

	parser.WriteComponents(componentList(obj))
	return parser.Finalize(), nil
}

// transferResult builds the terminal transfer artifact. The task handler
// reads it and re-routes to the target agent.
func (e *Executor) transferResult(req Request, registry *tool.Registry, call *tool.ToolCall) *a2a.Task {
	target := strings.TrimPrefix(call.Name, transfertool.Prefix)
	if t, ok := registry.Get(call.Name); ok {
		if tt, ok := t.(interface{ Target() string }); ok {
			target = tt.Target()
		}
	}
	reason, _ := call.Args["reason"].(string)

	e.sessions.Append(req.StreamRequestID, graphsession.EventTransfer, req.Agent.Config.ID, map[string]any{
		"target": target,
		"reason": reason,
		"taskId": req.Task.ID,
	})

	part := a2a.DataPart(map[string]any{
		"type":             "transfer",
		"target":           target,
		"task_id":          req.Task.ID,
		"reason":           reason,
		"original_message": req.Task.InputText(),
	})
	return completedTask(req.Task, []a2a.Part{part})
}

// buildRegistry binds the turn's tools: MCP server tools, transfer and
// delegate tools for the agent's relations, and the builtins. Tool servers
// that fail to connect are logged and skipped; the turn proceeds with the
// tools that are available.
func (e *Executor) buildRegistry(ctx context.Context, req Request) (*tool.Registry, []*mcptoolset.Toolset) {
	agent := req.Agent
	registry := tool.NewRegistry(tool.RegistryOptions{
		AgentID:         agent.Config.ID,
		TaskID:          req.Task.ID,
		StreamRequestID: req.StreamRequestID,
		Ledger:          e.ledger,
		Events:          e.sessions,
		AppendHints:     len(agent.ArtifactComponents) > 0,
	})

	var closers []*mcptoolset.Toolset
	for _, srv := range agent.ToolServers {
		cfg, err := mcptoolset.FromServer(ctx, srv, e.store, e.credentials)
		if err != nil {
			e.logger.Warn("skipping tool server", "server", srv.Name, "error", err)
			continue
		}
		ts, err := mcptoolset.New(cfg)
		if err != nil {
			e.logger.Warn("skipping tool server", "server", srv.Name, "error", err)
			continue
		}
		tools, err := ts.Tools(ctx)
		if err != nil {
			e.logger.Warn("tool server unavailable", "server", srv.Name, "error", err)
			_ = ts.Close()
			continue
		}
		closers = append(closers, ts)
		for _, t := range tools {
			registry.Register(t)
		}
	}

	for _, rel := range agent.Transfers {
		registry.Register(transfertool.New(rel.ID, rel.Name, rel.Description))
	}
	if req.Router != nil {
		for _, rel := range agent.Delegates {
			registry.Register(delegatetool.New(req.Router, delegatetool.Options{
				FromAgentID:   agent.Config.ID,
				TargetAgentID: rel.ID,
				TargetName:    rel.Name,
				TargetDesc:    rel.Description,
			}))
		}
		for _, rel := range agent.ExternalDelegates {
			registry.Register(delegatetool.New(req.Router, delegatetool.Options{
				FromAgentID:     agent.Config.ID,
				ExternalAgentID: rel.ID,
				TargetName:      rel.Name,
				TargetDesc:      rel.Description,
			}))
		}
	}

	if len(agent.ArtifactComponents) > 0 {
		artifactOpts := artifacttool.Options{
			AgentID:         agent.Config.ID,
			TaskID:          req.Task.ID,
			ContextID:       req.ConversationID,
			StreamRequestID: req.StreamRequestID,
			Ledger:          e.ledger,
			Store:           e.store,
			Events:          e.sessions,
		}
		registry.Register(artifacttool.NewSaveToolResult(artifactOpts))
		registry.Register(artifacttool.NewGetReferenceArtifact(artifactOpts))
	}
	if agent.HasDataComponents() {
		registry.Register(controltool.ThinkingComplete())
	}

	return registry, closers
}

func (e *Executor) resolveContext(ctx context.Context, req Request) (map[string]any, error) {
	configID := req.Agent.Config.ContextConfigID
	if configID == "" {
		configID = req.Agent.Graph.ContextConfigID
	}
	vars, err := e.contexts.Resolve(ctx, contextresolver.Request{
		ContextConfigID: configID,
		ConversationID:  req.ConversationID,
		Headers:         req.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving context: %w", err)
	}
	return vars, nil
}

// storeResolver resolves artifact references against the store at emit
// time, so artifacts saved earlier in this very turn are found.
func (e *Executor) storeResolver(ctx context.Context, conversationID string) stream.ArtifactResolver {
	return func(artifactID, taskID string) (*storage.LedgerArtifact, bool) {
		found, err := e.store.GetLedgerArtifacts(ctx, storage.ArtifactQuery{
			ArtifactID: artifactID,
			TaskID:     taskID,
		})
		if err != nil || len(found) == 0 {
			// Retry on artifact id within the conversation; the model
			// sometimes cites the wrong task.
			found, err = e.store.GetLedgerArtifacts(ctx, storage.ArtifactQuery{
				ContextID:  conversationID,
				ArtifactID: artifactID,
			})
			if err != nil || len(found) == 0 {
				return nil, false
			}
		}
		return found[0], true
	}
}

func (e *Executor) artifactRefs(ctx context.Context, conversationID string) ([]prompt.ArtifactRef, error) {
	artifacts, err := e.store.GetConversationScopedArtifacts(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation artifacts: %w", err)
	}
	refs := make([]prompt.ArtifactRef, 0, len(artifacts))
	for _, a := range artifacts {
		refs = append(refs, prompt.ArtifactRef{
			ArtifactID:  a.ArtifactID,
			TaskID:      a.TaskID,
			Name:        a.Name,
			Description: a.Description,
			Type:        a.Type,
		})
	}
	return refs, nil
}

// finalizeArtifacts generates names and descriptions for artifacts saved
// this turn. It normally runs in the background so the answer is not
// delayed behind metadata generation.
func (e *Executor) finalizeArtifacts(ctx context.Context, req Request) {
	pending := e.sessions.PendingArtifacts(req.StreamRequestID)
	if len(pending) == 0 {
		return
	}

	llm, err := e.newModel(req.Agent.SummarizerModel())
	if err != nil {
		e.logger.Warn("artifact finalizer disabled", "error", err)
		return
	}
	driver := model.NewDriver(llm)

	gen := func(ctx context.Context, system, question string, schema map[string]any) (map[string]any, error) {
		return driver.GenerateObject(ctx, model.ObjectRequest{
			System:   system,
			Messages: []*a2a.Message{a2a.NewUserMessage("msg_"+uuid.NewString(), question)},
			Schema:   schema,
		})
	}
	finalizer := artifact.NewFinalizer(e.store, gen)

	taskID := req.Task.ID
	if e.syncFinalize {
		if err := finalizer.Run(ctx, taskID); err != nil {
			e.logger.Warn("artifact finalization failed", "task_id", taskID, "error", err)
		}
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	go func() {
		defer cancel()
		if err := finalizer.Run(bg, taskID); err != nil {
			e.logger.Warn("artifact finalization failed", "task_id", taskID, "error", err)
		}
	}()
}

// stopOnTransfer terminates phase 1 as soon as the model hands off the
// conversation.
func stopOnTransfer(steps []model.Step) bool {
	return transferCall(steps) != nil
}

func transferCall(steps []model.Step) *tool.ToolCall {
	if len(steps) == 0 {
		return nil
	}
	last := steps[len(steps)-1]
	for i := range last.ToolCalls {
		if strings.HasPrefix(last.ToolCalls[i].Name, transfertool.Prefix) {
			return &last.ToolCalls[i]
		}
	}
	return nil
}

func calledThinkingComplete(steps []model.Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, tc := range steps[len(steps)-1].ToolCalls {
		if tc.Name == controltool.ThinkingCompleteName {
			return true
		}
	}
	return false
}

func toolManifest(registry *tool.Registry) []prompt.ToolInfo {
	defs := registry.Definitions()
	infos := make([]prompt.ToolInfo, 0, len(defs))
	for _, d := range defs {
		infos = append(infos, prompt.ToolInfo{Name: d.Name, Description: d.Description})
	}
	return infos
}

// componentList pulls the dataComponents array out of the validated
// structured response.
func componentList(obj map[string]any) []map[string]any {
	raw, _ := obj["dataComponents"].([]any)
	comps := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			comps = append(comps, m)
		}
	}
	return comps
}

func completedTask(task *a2a.Task, parts []a2a.Part) *a2a.Task {
	return &a2a.Task{
		ID:        task.ID,
		ContextID: task.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted, Timestamp: time.Now()},
		Artifacts: []a2a.Artifact{{
			ArtifactID: "artifact_" + uuid.NewString(),
			Parts:      parts,
		}},
		Metadata: task.Metadata,
	}
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
