package mcptoolset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/tool"
)

// fakeMCPServer answers initialize, tools/list, and tools/call over plain
// JSON and records the auth header it saw.
func fakeMCPServer(t *testing.T, seenAuth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seenAuth = r.Header.Get("Authorization")

		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			result = map[string]any{
				"tools": []any{
					map[string]any{
						"name":        "search_web",
						"description": "Searches the web",
						"inputSchema": map[string]any{"type": "object"},
					},
					map[string]any{
						"name":        "hidden_tool",
						"description": "Should be filtered out",
					},
				},
			}
		case "tools/call":
			result = map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": `{"hits":3}`},
				},
			}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  result,
		})
	}))
}

func TestToolsHTTPFiltersAndCalls(t *testing.T) {
	var seenAuth string
	srv := fakeMCPServer(t, &seenAuth)
	defer srv.Close()

	ts, err := New(Config{
		Name:        "search",
		URL:         srv.URL,
		Headers:     map[string]string{"Authorization": "Bearer tok"},
		ActiveTools: []string{"search_web"},
	})
	require.NoError(t, err)
	defer ts.Close()

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search_web", tools[0].Name())
	assert.Equal(t, tool.KindMCP, tools[0].Kind())
	assert.Equal(t, "Bearer tok", seenAuth)

	result, err := tools[0].Call(context.Background(), map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": `{"hits":3}`}, result)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Name: "empty"})
	require.Error(t, err)
}

func TestFromServerResolvesCredential(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddCredentialReference(&storage.CredentialReference{
		ID:                "cred-1",
		Type:              "memory",
		CredentialStoreID: "vault",
		RetrievalParams: map[string]string{
			"key":    "api-key",
			"prefix": "Bearer ",
		},
	})

	creds := credential.NewStoreResolver()
	creds.AddStore("vault", map[string]string{"api-key": "s3cret"})

	cfg, err := FromServer(context.Background(), &storage.ToolServer{
		ID:                    "srv-1",
		Name:                  "search",
		Transport:             "streamable_http",
		ServerURL:             "http://mcp.local",
		ActiveTools:           []string{"search_web"},
		Headers:               map[string]string{"X-Tenant": "acme"},
		CredentialReferenceID: "cred-1",
	}, store, creds)
	require.NoError(t, err)

	assert.Equal(t, "Bearer s3cret", cfg.Headers["Authorization"])
	assert.Equal(t, "acme", cfg.Headers["X-Tenant"])
	assert.Equal(t, []string{"search_web"}, cfg.ActiveTools)
}
