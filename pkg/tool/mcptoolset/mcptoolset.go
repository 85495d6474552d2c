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

// Package mcptoolset exposes the tools of an MCP server as tool.Tool values.
//
// Connections are lazy: nothing is dialed until Tools is first called.
//
// Transport support:
//   - stdio: subprocess communication via the mcp-go client
//   - streamable_http: JSON-RPC over HTTP using the retrying httpclient,
//     with SSE response bodies and session headers
package mcptoolset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/httpclient"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "weave"
	clientVersion   = "1.0.0"

	// DefaultSSETimeout bounds reading one SSE response body.
	DefaultSSETimeout = 5 * time.Minute
)

// Config configures an MCP toolset.
type Config struct {
	// Name identifies this toolset in logs.
	Name string

	// Transport is "streamable_http" or "stdio". Defaults to stdio when a
	// command is set, streamable_http otherwise.
	Transport string

	// URL of the MCP server, for HTTP transport.
	URL string

	// Headers sent with every HTTP request (resolved credentials land
	// here).
	Headers map[string]string

	// Command, Args, Env for stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// ActiveTools restricts the exposed tool names; empty means all.
	ActiveTools []string

	// MaxRetries for HTTP requests (default 3).
	MaxRetries int

	// SSETimeout for SSE response reading (default 5m).
	SSETimeout time.Duration
}

// FromServer builds a Config from a stored tool server definition,
// resolving its credential reference into headers.
func FromServer(ctx context.Context, srv *storage.ToolServer, store storage.Store, creds credential.Resolver) (Config, error) {
	cfg := Config{
		Name:        srv.Name,
		Transport:   srv.Transport,
		URL:         srv.ServerURL,
		Command:     srv.Command,
		Args:        srv.Args,
		ActiveTools: srv.ActiveTools,
		Headers:     make(map[string]string, len(srv.Headers)),
	}
	for k, v := range srv.Headers {
		cfg.Headers[k] = v
	}

	if srv.CredentialReferenceID != "" && creds != nil {
		ref, err := store.GetCredentialReference(ctx, srv.CredentialReferenceID)
		if err != nil {
			return Config{}, fmt.Errorf("resolving credential for tool server %s: %w", srv.ID, err)
		}
		resolved, err := creds.ResolveHeaders(ctx, ref)
		if err != nil {
			return Config{}, fmt.Errorf("resolving credential for tool server %s: %w", srv.ID, err)
		}
		for k, v := range resolved {
			cfg.Headers[k] = v
		}
	}

	return cfg, nil
}

// Toolset is an MCP-backed tool source with lazy initialization.
type Toolset struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	client     *client.Client
	httpClient *httpclient.Client
	sessionMu  sync.RWMutex
	sessionID  string
	tools      []tool.Tool
	connected  bool
	filterSet  map[string]bool
}

// New creates a new MCP toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}

	var filterSet map[string]bool
	if len(cfg.ActiveTools) > 0 {
		filterSet = make(map[string]bool, len(cfg.ActiveTools))
		for _, name := range cfg.ActiveTools {
			filterSet[name] = true
		}
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSETimeout
	}

	return &Toolset{
		cfg:       cfg,
		logger:    logger.GetLogger(),
		filterSet: filterSet,
	}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Tools returns the available tools, connecting lazily on first use.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	if t.cfg.Command != "" || t.cfg.Transport == "stdio" {
		return t.connectStdio(ctx)
	}
	return t.connectHTTP(ctx)
}

func (t *Toolset) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, envSlice(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []tool.Tool
	for _, mcpTool := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mcpTool.Name] {
			continue
		}
		tools = append(tools, &remoteTool{
			toolset:  t,
			name:     mcpTool.Name,
			desc:     mcpTool.Description,
			schema:   convertSchema(mcpTool.InputSchema),
			useStdio: true,
		})
	}

	t.client = mcpClient
	t.tools = tools
	t.connected = true

	t.logger.Info("Connected to MCP server (stdio)",
		"name", t.cfg.Name,
		"command", t.cfg.Command,
		"tools", len(tools),
	)
	return nil
}

func (t *Toolset) connectHTTP(ctx context.Context) error {
	t.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(t.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := t.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []tool.Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		if t.filterSet != nil && !t.filterSet[name] {
			continue
		}
		var schema map[string]any
		if inputSchema, ok := toolMap["inputSchema"].(map[string]any); ok {
			schema = inputSchema
		}
		tools = append(tools, &remoteTool{
			toolset: t,
			name:    name,
			desc:    desc,
			schema:  schema,
		})
	}

	t.tools = tools
	t.connected = true

	t.logger.Info("Connected to MCP server (HTTP)",
		"name", t.cfg.Name,
		"url", t.cfg.URL,
		"tools", len(tools),
	)
	return nil
}

// JSON-RPC types

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpc sends one JSON-RPC request over HTTP and reads the response, which
// may arrive as plain JSON or as an SSE stream.
func (t *Toolset) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	t.sessionMu.RLock()
	sessionID := t.sessionID
	t.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		t.logger.Debug("MCP HTTP request failed",
			"source", t.cfg.Name,
			"url", t.cfg.URL,
			"method", method,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		t.sessionMu.Lock()
		t.sessionID = newSessionID
		t.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s (response: %s)", httpResp.StatusCode, httpResp.Status, string(responseBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return t.readSSEResponse(httpResp)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC response from an SSE
// stream.
func (t *Toolset) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		flush := func() *jsonRPCResponse {
			if currentData.Len() == 0 {
				return nil
			}
			var resp jsonRPCResponse
			if err := json.Unmarshal([]byte(currentData.String()), &resp); err != nil {
				currentData.Reset()
				return nil
			}
			return &resp
		}

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					t.logger.Debug("MCP SSE read error", "source", t.cfg.Name, "error", err)
				}
				break
			}

			lineStr := strings.TrimSpace(string(line))
			if lineStr == "" {
				if resp := flush(); resp != nil {
					resultChan <- result{response: resp}
					return
				}
				continue
			}
			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if resp := flush(); resp != nil {
			resultChan <- result{response: resp}
			return
		}
		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(t.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", t.cfg.SSETimeout)
	}
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// Close closes the MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.client != nil {
		err = t.client.Close()
		t.client = nil
	}
	t.httpClient = nil
	t.connected = false
	t.tools = nil
	return err
}

// remoteTool wraps one remote MCP tool as a tool.Tool.
type remoteTool struct {
	toolset  *Toolset
	name     string
	desc     string
	schema   map[string]any
	useStdio bool
}

func (w *remoteTool) Name() string {
	return w.name
}

func (w *remoteTool) Description() string {
	return w.desc
}

func (w *remoteTool) Schema() map[string]any {
	return w.schema
}

func (w *remoteTool) Kind() tool.Kind {
	return tool.KindMCP
}

func (w *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if w.useStdio {
		return w.callStdio(ctx, args)
	}
	return w.callHTTP(ctx, args)
}

func (w *remoteTool) callStdio(ctx context.Context, args map[string]any) (any, error) {
	w.toolset.mu.Lock()
	mcpClient := w.toolset.client
	w.toolset.mu.Unlock()

	if mcpClient == nil {
		return nil, fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}
	return parseStdioResult(resp), nil
}

func (w *remoteTool) callHTTP(ctx context.Context, args map[string]any) (any, error) {
	resp, err := w.toolset.rpc(ctx, "tools/call", map[string]any{
		"name":      w.name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return map[string]any{"error": resp.Error.Message}, nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return map[string]any{"result": resp.Result}, nil
	}

	result := make(map[string]any)
	if isError, _ := resultMap["isError"].(bool); isError {
		if content, ok := resultMap["content"].([]any); ok {
			for _, c := range content {
				if cm, ok := c.(map[string]any); ok {
					if text, ok := cm["text"].(string); ok {
						result["error"] = text
						break
					}
				}
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result, nil
	}

	if content, ok := resultMap["content"].([]any); ok {
		var texts []string
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if cm["type"] == "text" {
					if text, ok := cm["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
		if len(texts) == 1 {
			result["result"] = texts[0]
		} else if len(texts) > 1 {
			result["results"] = texts
		}
	}
	return result, nil
}

func parseStdioResult(resp *mcp.CallToolResult) map[string]any {
	result := make(map[string]any)
	if resp.IsError {
		for _, content := range resp.Content {
			if textContent, ok := content.(mcp.TextContent); ok {
				result["error"] = textContent.Text
				break
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	if len(texts) == 1 {
		result["result"] = texts[0]
	} else if len(texts) > 1 {
		result["results"] = texts
	}
	return result
}

// convertSchema converts an MCP input schema to a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var _ tool.Tool = (*remoteTool)(nil)
