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

// Package openai provides an OpenAI model.LLM implementation over the
// Responses API (/v1/responses).
//
// Structured output uses the json_schema text format, so schema-constrained
// generation streams as plain output_text deltas.
package openai

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
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
	defaultTimeout   = 300 * time.Second
)

// SSE event types for the Responses API.
const (
	eventOutputItemAdded       = "response.output_item.added"
	eventOutputItemDone        = "response.output_item.done"
	eventOutputTextDelta       = "response.output_text.delta"
	eventFunctionCallArgsDelta = "response.function_call_arguments.delta"
	eventFunctionCallArgsDone  = "response.function_call_arguments.done"
	eventResponseCompleted     = "response.completed"
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an OpenAI model.LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

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
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
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

	var apiResp responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.parseResponse(&apiResp)
}

func (c *Client) post(ctx context.Context, apiReq *responsesRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
	functionCallID   string
	functionCallName string
	functionCallArgs strings.Builder
	emittedCallIDs   map[string]bool
	usage            *model.Usage
}

func newStreamState() *streamState {
	return &streamState{
		emittedCallIDs: make(map[string]bool),
	}
}

func (s *streamState) resetFunctionCall() {
	s.functionCallID = ""
	s.functionCallName = ""
	s.functionCallArgs.Reset()
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
		var currentEventType string

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if bytes.HasPrefix(line, []byte("event: ")) {
				currentEventType = string(bytes.TrimSpace(line[7:]))
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}

			var event map[string]any
			if err := json.Unmarshal(line[6:], &event); err != nil {
				logger.GetLogger().Debug("Failed to parse streaming event", "error", err)
				currentEventType = ""
				continue
			}

			eventType := currentEventType
			if eventType == "" {
				eventType, _ = event["type"].(string)
			}
			currentEventType = ""

			for resp, err := range c.processStreamEvent(event, eventType, state, aggregator) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if state.usage != nil {
			aggregator.SetUsage(state.usage)
		}

		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func (c *Client) processStreamEvent(
	event map[string]any,
	eventType string,
	state *streamState,
	agg *model.StreamingAggregator,
) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		switch eventType {
		case eventOutputItemAdded:
			item, ok := event["item"].(map[string]any)
			if !ok {
				return
			}
			if itemType, _ := item["type"].(string); itemType == "function_call" {
				if callID, ok := item["call_id"].(string); ok {
					state.functionCallID = callID
				} else if id, ok := item["id"].(string); ok {
					state.functionCallID = id
				}
				if name, ok := item["name"].(string); ok {
					state.functionCallName = name
				}
				state.functionCallArgs.Reset()
			}

		case eventOutputItemDone:
			item, ok := event["item"].(map[string]any)
			if !ok {
				return
			}
			if itemType, _ := item["type"].(string); itemType != "function_call" {
				return
			}
			callID, _ := item["call_id"].(string)
			if callID == "" {
				callID, _ = item["id"].(string)
			}
			name, _ := item["name"].(string)
			argsStr, _ := item["arguments"].(string)

			if callID != "" && name != "" && !state.emittedCallIDs[callID] {
				state.emittedCallIDs[callID] = true
				for resp, err := range agg.ProcessToolCall(tool.ToolCall{
					ID:   callID,
					Name: name,
					Args: parseArgs(argsStr),
				}) {
					if !yield(resp, err) {
						return
					}
				}
			}
			state.resetFunctionCall()

		case eventOutputTextDelta:
			var deltaText string
			if delta, ok := event["delta"].(string); ok {
				deltaText = delta
			} else if text, ok := event["text"].(string); ok {
				deltaText = text
			}
			if deltaText != "" {
				for resp, err := range agg.ProcessTextDelta(deltaText) {
					if !yield(resp, err) {
						return
					}
				}
			}

		case eventFunctionCallArgsDelta:
			if delta, ok := event["delta"].(string); ok {
				state.functionCallArgs.WriteString(delta)
			}

		case eventFunctionCallArgsDone:
			if state.functionCallID != "" && state.functionCallName != "" && !state.emittedCallIDs[state.functionCallID] {
				state.emittedCallIDs[state.functionCallID] = true
				for resp, err := range agg.ProcessToolCall(tool.ToolCall{
					ID:   state.functionCallID,
					Name: state.functionCallName,
					Args: parseArgs(state.functionCallArgs.String()),
				}) {
					if !yield(resp, err) {
						return
					}
				}
				state.resetFunctionCall()
			}

		case eventResponseCompleted:
			if response, ok := event["response"].(map[string]any); ok {
				if usage, ok := response["usage"].(map[string]any); ok {
					u := &model.Usage{}
					if v, ok := usage["input_tokens"].(float64); ok {
						u.PromptTokens = int(v)
					}
					if v, ok := usage["output_tokens"].(float64); ok {
						u.CompletionTokens = int(v)
					}
					if v, ok := usage["total_tokens"].(float64); ok {
						u.TotalTokens = int(v)
					}
					state.usage = u
				}
			}
		}
	}
}

func parseArgs(argsStr string) map[string]any {
	args := make(map[string]any)
	if argsStr != "" {
		_ = json.Unmarshal([]byte(argsStr), &args)
	}
	return args
}

// buildRequest creates an API request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *responsesRequest {
	apiReq := &responsesRequest{
		Model:  c.modelName,
		Stream: stream,
	}

	maxTokens := c.maxTokens
	if req.Config != nil && req.Config.MaxTokens != nil {
		maxTokens = *req.Config.MaxTokens
	}
	if maxTokens > 0 {
		apiReq.MaxOutputTokens = &maxTokens
	}

	if req.Config != nil && req.Config.Temperature != nil {
		apiReq.Temperature = req.Config.Temperature
	} else if c.temperature != nil {
		apiReq.Temperature = c.temperature
	}

	if req.SystemInstruction != "" {
		apiReq.Instructions = req.SystemInstruction
	}

	if items := convertMessages(req.Messages); len(items) > 0 {
		apiReq.Input = items
	}

	if len(req.Tools) > 0 && req.ToolChoice != model.ToolChoiceNone {
		apiReq.Tools = convertTools(req.Tools)
		switch req.ToolChoice {
		case model.ToolChoiceRequired:
			apiReq.ToolChoice = "required"
		default:
			apiReq.ToolChoice = "auto"
		}
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		schemaName := req.Config.ResponseSchemaName
		if schemaName == "" {
			schemaName = "response"
		}
		apiReq.Text = &textFormat{
			Format: &jsonSchemaFormat{
				Type:   "json_schema",
				Name:   schemaName,
				Strict: false,
				Schema: req.Config.ResponseSchema,
			},
		}
	}

	return apiReq
}

// convertMessages converts a2a messages to Responses API input items.
// Tool results become function_call_output items; tool calls in agent
// messages become function_call items.
func convertMessages(messages []*a2a.Message) []inputItem {
	var items []inputItem

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		role := "user"
		textType := "input_text"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
			textType = "output_text"
		}

		var content []map[string]any
		var calls []inputItem

		for _, part := range msg.Parts {
			switch part.Kind {
			case a2a.PartKindText:
				if part.Text != "" {
					content = append(content, map[string]any{
						"type": textType,
						"text": part.Text,
					})
				}
			case a2a.PartKindData:
				data := part.Data
				switch dataType, _ := data["type"].(string); dataType {
				case "tool_result":
					output, _ := data["content"].(string)
					items = append(items, inputItem{
						Type:   "function_call_output",
						CallID: stringValue(data, "tool_call_id"),
						Output: &output,
					})
				case "tool_use":
					args, _ := data["arguments"].(map[string]any)
					argsJSON, _ := json.Marshal(args)
					calls = append(calls, inputItem{
						Type:      "function_call",
						CallID:    stringValue(data, "id"),
						Name:      stringValue(data, "name"),
						Arguments: string(argsJSON),
					})
				default:
					jsonData, _ := json.Marshal(data)
					content = append(content, map[string]any{
						"type": textType,
						"text": string(jsonData),
					})
				}
			}
		}

		if len(content) > 0 {
			items = append(items, inputItem{
				Type:    "message",
				Role:    role,
				Content: content,
			})
		}
		items = append(items, calls...)
	}

	return items
}

func stringValue(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func convertTools(tools []tool.Definition) []apiTool {
	result := make([]apiTool, len(tools))
	for i, t := range tools {
		result[i] = apiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return result
}

// parseResponse converts the API response to model.Response.
func (c *Client) parseResponse(resp *responsesResponse) (*model.Response, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if resp.Status != "completed" {
		msg := fmt.Sprintf("response incomplete: status=%s", resp.Status)
		if resp.IncompleteDetails != nil {
			msg += fmt.Sprintf(", reason=%s", resp.IncompleteDetails.Reason)
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if len(resp.Output) == 0 {
		return nil, fmt.Errorf("no output items in response")
	}

	result := &model.Response{
		Partial:      false,
		TurnComplete: true,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: model.FinishReasonStop,
	}

	var parts []a2a.Part
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			if text := extractOutputText(item); text != "" {
				parts = append(parts, a2a.TextPart(text))
			}
		case "function_call":
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			if item.Name == "" {
				continue
			}
			tc := tool.ToolCall{
				ID:   callID,
				Name: item.Name,
				Args: parseArgs(item.Arguments),
			}
			result.ToolCalls = append(result.ToolCalls, tc)
			parts = append(parts, a2a.DataPart(map[string]any{
				"type":      "tool_use",
				"id":        tc.ID,
				"name":      tc.Name,
				"arguments": tc.Args,
			}))
			result.FinishReason = model.FinishReasonToolCalls
		}
	}

	if len(parts) > 0 {
		result.Content = &model.Content{
			Parts: parts,
			Role:  a2a.MessageRoleAgent,
		}
	}

	return result, nil
}

func extractOutputText(item outputItem) string {
	contentArray, ok := item.Content.([]any)
	if !ok {
		return ""
	}
	var text strings.Builder
	for _, part := range contentArray {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		if partType, _ := partMap["type"].(string); partType == "output_text" {
			if t, ok := partMap["text"].(string); ok {
				text.WriteString(t)
			}
		}
	}
	return text.String()
}

// API types

type responsesRequest struct {
	Model           string      `json:"model"`
	Input           any         `json:"input,omitempty"`
	Instructions    string      `json:"instructions,omitempty"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	Tools           []apiTool   `json:"tools,omitempty"`
	ToolChoice      any         `json:"tool_choice,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
	Text            *textFormat `json:"text,omitempty"`
}

type textFormat struct {
	Format *jsonSchemaFormat `json:"format,omitempty"`
}

type jsonSchemaFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type inputItem struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Role      string           `json:"role,omitempty"`
	Content   []map[string]any `json:"content,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
	Output    *string          `json:"output,omitempty"`
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Error             *apiError          `json:"error,omitempty"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details,omitempty"`
	Model             string             `json:"model"`
	Output            []outputItem       `json:"output"`
	Usage             apiUsage           `json:"usage"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type incompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type outputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

var _ model.LLM = (*Client)(nil)
