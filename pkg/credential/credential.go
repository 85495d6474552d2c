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

// Package credential resolves credential references into HTTP headers for
// MCP server connections and external agent calls.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/weavely/weave/pkg/storage"
)

// Resolver turns a credential reference into request headers.
type Resolver interface {
	ResolveHeaders(ctx context.Context, ref *storage.CredentialReference) (map[string]string, error)
}

// StoreResolver resolves references against named credential stores. Two
// store kinds are built in: "memory" stores seeded at startup and the "env"
// store backed by environment variables.
type StoreResolver struct {
	mu     sync.RWMutex
	stores map[string]map[string]string
}

// NewStoreResolver creates a resolver with an empty set of memory stores.
func NewStoreResolver() *StoreResolver {
	return &StoreResolver{stores: make(map[string]map[string]string)}
}

// AddStore registers a memory credential store.
func (r *StoreResolver) AddStore(storeID string, values map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[storeID] = values
}

// ResolveHeaders looks up the referenced secret and renders it as headers.
// RetrievalParams drive the shape:
//
//	key:    secret name inside the store
//	header: header to place the secret in (default "Authorization")
//	prefix: value prefix, e.g. "Bearer "
func (r *StoreResolver) ResolveHeaders(ctx context.Context, ref *storage.CredentialReference) (map[string]string, error) {
	if ref == nil {
		return nil, nil
	}

	key := ref.RetrievalParams["key"]
	if key == "" {
		return nil, fmt.Errorf("credential reference %s has no retrieval key", ref.ID)
	}

	secret, err := r.lookup(ref.CredentialStoreID, key)
	if err != nil {
		return nil, err
	}

	header := ref.RetrievalParams["header"]
	if header == "" {
		header = "Authorization"
	}
	return map[string]string{header: ref.RetrievalParams["prefix"] + secret}, nil
}

func (r *StoreResolver) lookup(storeID, key string) (string, error) {
	if storeID == "env" || strings.HasPrefix(storeID, "env:") {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("environment variable %s is not set", key)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[storeID]
	if !ok {
		return "", fmt.Errorf("credential store %s not found", storeID)
	}
	v, ok := store[key]
	if !ok {
		return "", fmt.Errorf("credential %s not found in store %s", key, storeID)
	}
	return v, nil
}

var _ Resolver = (*StoreResolver)(nil)
