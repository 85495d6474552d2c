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

// Package delegatetool exposes delegation relations as tools. Unlike a
// transfer, a delegation is a synchronous sub-request: the caller keeps its
// turn, waits for the delegate's answer, and continues reasoning with it.
package delegatetool

import (
	"context"
	"errors"

	"github.com/weavely/weave/pkg/prompt"
	"github.com/weavely/weave/pkg/tool"
)

// Prefix is the naming convention for delegation tools.
const Prefix = "delegate_to_"

// Request describes one delegation on behalf of the calling agent.
type Request struct {
	FromAgentID     string
	TargetAgentID   string // internal target, mutually exclusive with ExternalAgentID
	ExternalAgentID string
	Message         string
}

// Response is the delegate's answer.
type Response struct {
	TaskID string
	Result any
}

// Router dispatches delegations to internal or external agents.
type Router interface {
	Delegate(ctx context.Context, req Request) (*Response, error)
}

// Options configure a delegation tool for one turn.
type Options struct {
	FromAgentID     string
	TargetAgentID   string
	ExternalAgentID string
	TargetName      string
	TargetDesc      string
}

// New creates a delegation tool bound to a router.
func New(router Router, opts Options) tool.Tool {
	target := opts.TargetAgentID
	if target == "" {
		target = opts.ExternalAgentID
	}
	desc := "Delegates a task to " + opts.TargetName + " and returns its result."
	if opts.TargetDesc != "" {
		desc += " " + opts.TargetDesc
	}
	return &delegateTool{
		router: router,
		opts:   opts,
		name:   prompt.SanitizeToolName(Prefix + target),
		desc:   desc,
	}
}

type delegateTool struct {
	router Router
	opts   Options
	name   string
	desc   string
}

func (t *delegateTool) Name() string {
	return t.name
}

func (t *delegateTool) Description() string {
	return t.desc
}

func (t *delegateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The task to delegate, phrased as a complete request",
			},
		},
		"required": []string{"message"},
	}
}

func (t *delegateTool) Kind() tool.Kind {
	return tool.KindDelegate
}

func (t *delegateTool) Call(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return nil, errors.New("delegation requires a message")
	}

	resp, err := t.router.Delegate(ctx, Request{
		FromAgentID:     t.opts.FromAgentID,
		TargetAgentID:   t.opts.TargetAgentID,
		ExternalAgentID: t.opts.ExternalAgentID,
		Message:         message,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"taskId": resp.TaskID,
		"result": resp.Result,
	}, nil
}

var _ tool.Tool = (*delegateTool)(nil)
