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

// Package anthropic provides an Anthropic Claude model.LLM implementation
// over the Messages API.
//
// Structured output uses a forced tool: when the request carries a response
// schema, the schema is bound as the single allowed tool and the tool's
// input is returned as the response text.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/httpclient"
	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 300 * time.Second

	// structuredOutputTool is the synthetic tool used to force schema
	// conforming output.
	structuredOutputTool = "structured_output"
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an Anthropic model.LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderAnthropic
}

// GenerateContent produces responses for the given request.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.parseResponse(&apiResp, req), nil
}

func (c *Client) post(ctx context.Context, apiReq *apiRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				return nil, fmt.Errorf("request failed: %w - response: %s", err, string(bodyBytes))
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

// streamState holds state accumulated during SSE streaming.
type streamState struct {
	toolJSONBuffers map[int]string
	toolCalls       map[int]*tool.ToolCall
	structuredIndex map[int]bool
	usage           *model.Usage
	finishReason    model.FinishReason
}

func newStreamState() *streamState {
	return &streamState{
		toolJSONBuffers: make(map[int]string),
		toolCalls:       make(map[int]*tool.ToolCall),
		structuredIndex: make(map[int]bool),
		finishReason:    model.FinishReasonStop,
	}
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	aggregator := model.NewStreamingAggregator()

	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		state := newStreamState()

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			for resp, err := range c.processStreamEvent(&event, state, aggregator) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if state.usage != nil {
			aggregator.SetUsage(state.usage)
		}
		aggregator.SetFinishReason(state.finishReason)

		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func (c *Client) processStreamEvent(event *streamEvent, state *streamState, agg *model.StreamingAggregator) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				if event.ContentBlock.Name == structuredOutputTool {
					// Forced structured output streams as raw JSON text.
					state.structuredIndex[event.Index] = true
					return
				}
				state.toolCalls[event.Index] = &tool.ToolCall{
					ID:   event.ContentBlock.ID,
					Name: event.ContentBlock.Name,
				}
				state.toolJSONBuffers[event.Index] = ""
			}

		case "content_block_delta":
			if event.Delta == nil {
				return
			}
			switch event.Delta.Type {
			case "text_delta":
				for resp, err := range agg.ProcessTextDelta(event.Delta.Text) {
					if !yield(resp, err) {
						return
					}
				}
			case "input_json_delta":
				if state.structuredIndex[event.Index] {
					for resp, err := range agg.ProcessTextDelta(event.Delta.PartialJSON) {
						if !yield(resp, err) {
							return
						}
					}
					return
				}
				state.toolJSONBuffers[event.Index] += event.Delta.PartialJSON
			}

		case "content_block_stop":
			if tc, ok := state.toolCalls[event.Index]; ok {
				if jsonStr := state.toolJSONBuffers[event.Index]; jsonStr != "" {
					var args map[string]any
					_ = json.Unmarshal([]byte(jsonStr), &args)
					tc.Args = args
				}
				for resp, err := range agg.ProcessToolCall(*tc) {
					if !yield(resp, err) {
						return
					}
				}
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				switch event.Delta.StopReason {
				case "tool_use":
					state.finishReason = model.FinishReasonToolCalls
				case "max_tokens":
					state.finishReason = model.FinishReasonLength
				default:
					state.finishReason = model.FinishReasonStop
				}
			}
			if event.Usage != nil {
				state.usage = &model.Usage{
					PromptTokens:     event.Usage.InputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
				}
			}
		}
	}
}

// buildRequest creates an API request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *apiRequest {
	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}

	cfg := req.Config
	if cfg != nil && cfg.Temperature != nil {
		apiReq.Temperature = *cfg.Temperature
	} else if c.temperature != nil {
		apiReq.Temperature = *c.temperature
	}
	if cfg != nil && cfg.MaxTokens != nil {
		apiReq.MaxTokens = *cfg.MaxTokens
	}
	if cfg != nil {
		apiReq.StopSequences = cfg.StopSequences
	}

	if req.SystemInstruction != "" {
		apiReq.System = req.SystemInstruction
	}

	for _, msg := range req.Messages {
		if apiMsg := convertMessage(msg); apiMsg != nil {
			apiReq.Messages = append(apiReq.Messages, *apiMsg)
		}
	}

	// Structured output: bind the schema as the only allowed tool.
	if cfg != nil && cfg.ResponseSchema != nil {
		apiReq.Tools = []apiTool{{
			Name:        structuredOutputTool,
			Description: "Produce the final response conforming to the required schema.",
			InputSchema: cfg.ResponseSchema,
		}}
		apiReq.ToolChoice = &toolChoice{Type: "tool", Name: structuredOutputTool}
		return apiReq
	}

	if req.ToolChoice != model.ToolChoiceNone {
		for _, t := range req.Tools {
			apiReq.Tools = append(apiReq.Tools, apiTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.Parameters,
			})
		}
		if len(apiReq.Tools) > 0 {
			switch req.ToolChoice {
			case model.ToolChoiceRequired:
				apiReq.ToolChoice = &toolChoice{Type: "any"}
			default:
				apiReq.ToolChoice = &toolChoice{Type: "auto"}
			}
		}
	}

	return apiReq
}

func convertMessage(msg *a2a.Message) *apiMessage {
	if msg == nil {
		return nil
	}

	role := "user"
	if msg.Role == a2a.MessageRoleAgent {
		role = "assistant"
	}

	var content []apiContent
	for _, part := range msg.Parts {
		switch part.Kind {
		case a2a.PartKindText:
			content = append(content, apiContent{Type: "text", Text: part.Text})

		case a2a.PartKindData:
			data := part.Data
			switch getString(data, "type") {
			case "tool_use":
				args, _ := data["arguments"].(map[string]any)
				content = append(content, apiContent{
					Type:  "tool_use",
					ID:    getString(data, "id"),
					Name:  getString(data, "name"),
					Input: args,
				})
			case "tool_result":
				toolCallID := getString(data, "tool_call_id")
				if toolCallID == "" {
					continue
				}
				body := getString(data, "content")
				if body == "" {
					body = "(no output)"
				}
				content = append(content, apiContent{
					Type:      "tool_result",
					ToolUseID: toolCallID,
					Content:   body,
				})
			default:
				jsonData, _ := json.Marshal(data)
				content = append(content, apiContent{Type: "text", Text: string(jsonData)})
			}
		}
	}

	if len(content) == 0 {
		return nil
	}
	return &apiMessage{Role: role, Content: content}
}

// parseResponse converts the API response to model.Response.
func (c *Client) parseResponse(resp *apiResponse, req *model.Request) *model.Response {
	result := &model.Response{
		Partial:      false,
		TurnComplete: true,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: model.FinishReasonStop,
	}

	switch resp.StopReason {
	case "tool_use":
		result.FinishReason = model.FinishReasonToolCalls
	case "max_tokens":
		result.FinishReason = model.FinishReasonLength
	}

	structured := req.Config != nil && req.Config.ResponseSchema != nil

	var parts []a2a.Part
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			parts = append(parts, a2a.TextPart(content.Text))
		case "tool_use":
			if structured && content.Name == structuredOutputTool {
				jsonData, _ := json.Marshal(content.Input)
				parts = append(parts, a2a.TextPart(string(jsonData)))
				result.FinishReason = model.FinishReasonStop
				continue
			}
			result.ToolCalls = append(result.ToolCalls, tool.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: content.Input,
			})
		}
	}

	if len(parts) > 0 {
		result.Content = &model.Content{
			Parts: parts,
			Role:  a2a.MessageRoleAgent,
		}
	}

	return result
}

// getString safely extracts a string from a map, converting other scalar
// types when needed.
func getString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// API types

type apiRequest struct {
	Model         string       `json:"model"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   float64      `json:"temperature,omitempty"`
	Stream        bool         `json:"stream"`
	System        string       `json:"system,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Tools         []apiTool    `json:"tools,omitempty"`
	ToolChoice    *toolChoice  `json:"tool_choice,omitempty"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	Delta        *apiDelta   `json:"delta,omitempty"`
	ContentBlock *apiContent `json:"content_block,omitempty"`
	Usage        *apiUsage   `json:"usage,omitempty"`
}

type apiDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

var _ model.LLM = (*Client)(nil)
