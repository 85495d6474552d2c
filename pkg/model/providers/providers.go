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

// Package providers constructs model.LLM instances from stored model
// configurations.
package providers

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/weavely/weave/pkg/model"
	"github.com/weavely/weave/pkg/model/anthropic"
	"github.com/weavely/weave/pkg/model/openai"
	"github.com/weavely/weave/pkg/storage"
)

// New builds an LLM client from a model config. The provider is taken from
// the config, or inferred from the model name when unset. API keys come
// from providerOptions or the conventional environment variables.
func New(cfg *storage.ModelConfig) (model.LLM, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, fmt.Errorf("model config is required")
	}

	switch detectProvider(cfg) {
	case model.ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:      apiKey(cfg, "ANTHROPIC_API_KEY"),
			Model:       cfg.Model,
			BaseURL:     optString(cfg.ProviderOptions, "baseURL"),
			MaxTokens:   optInt(cfg.ProviderOptions, "maxTokens"),
			Temperature: optFloat(cfg.ProviderOptions, "temperature"),
			MaxRetries:  optInt(cfg.ProviderOptions, "maxRetries"),
		})
	case model.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:      apiKey(cfg, "OPENAI_API_KEY"),
			Model:       cfg.Model,
			BaseURL:     optString(cfg.ProviderOptions, "baseURL"),
			MaxTokens:   optInt(cfg.ProviderOptions, "maxTokens"),
			Temperature: optFloat(cfg.ProviderOptions, "temperature"),
			MaxRetries:  optInt(cfg.ProviderOptions, "maxRetries"),
		})
	default:
		return nil, fmt.Errorf("unsupported model provider for %q", cfg.Model)
	}
}

// MaxDuration reads the per-run duration cap from providerOptions
// ("maxDuration", seconds). Zero means use the driver default.
func MaxDuration(cfg *storage.ModelConfig) time.Duration {
	if cfg == nil {
		return 0
	}
	if seconds := optInt(cfg.ProviderOptions, "maxDuration"); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func detectProvider(cfg *storage.ModelConfig) model.Provider {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return model.ProviderAnthropic
	case "openai":
		return model.ProviderOpenAI
	case "":
	default:
		return model.ProviderUnknown
	}

	name := strings.ToLower(cfg.Model)
	switch {
	case strings.HasPrefix(name, "claude"):
		return model.ProviderAnthropic
	case strings.HasPrefix(name, "gpt"), strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"), strings.HasPrefix(name, "o4"):
		return model.ProviderOpenAI
	}
	return model.ProviderUnknown
}

func apiKey(cfg *storage.ModelConfig, envVar string) string {
	if key := optString(cfg.ProviderOptions, "apiKey"); key != "" {
		return key
	}
	return os.Getenv(envVar)
}

func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func optFloat(opts map[string]any, key string) *float64 {
	switch v := opts[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}
