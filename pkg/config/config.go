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

// Package config loads the runtime definition from YAML: the server
// settings plus the agent graphs, relations, tools, components, context
// configs and credentials that seed the store. Values support ${VAR} and
// ${VAR:-default} environment expansion.
package config

import (
	"fmt"

	"github.com/weavely/weave/pkg/observability"
	"github.com/weavely/weave/pkg/storage"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	Graphs         []*GraphConfig                 `yaml:"graphs"`
	ContextConfigs []*storage.ContextConfig       `yaml:"contextConfigs"`
	Credentials    []*storage.CredentialReference `yaml:"credentials"`
	ExternalAgents []*storage.ExternalAgent       `yaml:"externalAgents"`

	// CredentialStores seed the in-memory credential resolver, keyed by
	// store id. The "env" store is always available and needs no entry.
	CredentialStores map[string]map[string]string `yaml:"credentialStores"`
}

// ObservabilityConfig wires metrics and tracing.
type ObservabilityConfig struct {
	Metrics observability.MetricsConfig `yaml:"metrics"`
	Tracing observability.TracerConfig  `yaml:"tracing"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GraphConfig is one agent graph with its agents and relation edges.
type GraphConfig struct {
	ID              string               `yaml:"id"`
	Name            string               `yaml:"name"`
	Description     string               `yaml:"description"`
	DefaultAgentID  string               `yaml:"defaultAgentId"`
	Prompt          string               `yaml:"prompt"`
	Models          *storage.AgentModels `yaml:"models"`
	ContextConfigID string               `yaml:"contextConfigId"`

	Agents    []*AgentConfig          `yaml:"agents"`
	Relations []storage.AgentRelation `yaml:"relations"`
}

// AgentConfig is one agent with its tools and components.
type AgentConfig struct {
	ID                  string                             `yaml:"id"`
	Name                string                             `yaml:"name"`
	Description         string                             `yaml:"description"`
	Prompt              string                             `yaml:"prompt"`
	Models              *storage.AgentModels               `yaml:"models"`
	StopWhen            *storage.StopWhen                  `yaml:"stopWhen"`
	ConversationHistory *storage.ConversationHistoryConfig `yaml:"conversationHistoryConfig"`
	ContextConfigID     string                             `yaml:"contextConfigId"`

	Tools              []*storage.ToolServer        `yaml:"tools"`
	DataComponents     []*storage.DataComponent     `yaml:"dataComponents"`
	ArtifactComponents []*storage.ArtifactComponent `yaml:"artifactComponents"`
}

// SetDefaults fills zero values with the standard defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks referential integrity: graphs have agents, default agents
// exist, relation endpoints resolve, every agent has a base model.
func (c *Config) Validate() error {
	if len(c.Graphs) == 0 {
		return fmt.Errorf("no graphs configured")
	}

	external := make(map[string]bool, len(c.ExternalAgents))
	for _, e := range c.ExternalAgents {
		if e.ID == "" {
			return fmt.Errorf("external agent missing id")
		}
		if e.BaseURL == "" {
			return fmt.Errorf("external agent %s missing baseUrl", e.ID)
		}
		external[e.ID] = true
	}

	for _, g := range c.Graphs {
		if g.ID == "" {
			return fmt.Errorf("graph missing id")
		}
		if len(g.Agents) == 0 {
			return fmt.Errorf("graph %s has no agents", g.ID)
		}

		agents := make(map[string]bool, len(g.Agents))
		for _, a := range g.Agents {
			if a.ID == "" {
				return fmt.Errorf("graph %s: agent missing id", g.ID)
			}
			if agents[a.ID] {
				return fmt.Errorf("graph %s: duplicate agent id %s", g.ID, a.ID)
			}
			agents[a.ID] = true
			if modelFor(a, g) == nil {
				return fmt.Errorf("graph %s: agent %s has no base model", g.ID, a.ID)
			}
		}

		if g.DefaultAgentID != "" && !agents[g.DefaultAgentID] {
			return fmt.Errorf("graph %s: default agent %s not defined", g.ID, g.DefaultAgentID)
		}

		for _, rel := range g.Relations {
			if !agents[rel.SourceAgentID] {
				return fmt.Errorf("graph %s: relation source %s not defined", g.ID, rel.SourceAgentID)
			}
			switch {
			case rel.TargetAgentID != "":
				if !agents[rel.TargetAgentID] {
					return fmt.Errorf("graph %s: relation target %s not defined", g.ID, rel.TargetAgentID)
				}
			case rel.ExternalAgentID != "":
				if !external[rel.ExternalAgentID] {
					return fmt.Errorf("graph %s: external relation target %s not defined", g.ID, rel.ExternalAgentID)
				}
			default:
				return fmt.Errorf("graph %s: relation from %s has no target", g.ID, rel.SourceAgentID)
			}
			if rel.Type != storage.RelationTransfer && rel.Type != storage.RelationDelegate {
				return fmt.Errorf("graph %s: unknown relation type %q", g.ID, rel.Type)
			}
		}
	}

	return nil
}

func modelFor(a *AgentConfig, g *GraphConfig) *storage.ModelConfig {
	if a.Models != nil && a.Models.Base != nil {
		return a.Models.Base
	}
	if g.Models != nil && g.Models.Base != nil {
		return g.Models.Base
	}
	return nil
}

// Seed loads the configured graphs into a memory store.
func (c *Config) Seed(store *storage.MemoryStore) {
	for _, cc := range c.ContextConfigs {
		store.AddContextConfig(cc)
	}
	for _, cr := range c.Credentials {
		store.AddCredentialReference(cr)
	}
	for _, ext := range c.ExternalAgents {
		store.AddExternalAgent(ext)
	}

	for _, g := range c.Graphs {
		store.AddGraph(&storage.Graph{
			ID:              g.ID,
			Name:            g.Name,
			Description:     g.Description,
			DefaultAgentID:  g.DefaultAgentID,
			Prompt:          g.Prompt,
			Models:          g.Models,
			ContextConfigID: g.ContextConfigID,
		})

		for _, a := range g.Agents {
			models := a.Models
			if models == nil {
				models = g.Models
			}
			store.AddAgent(&storage.Agent{
				ID:                  a.ID,
				GraphID:             g.ID,
				Name:                a.Name,
				Description:         a.Description,
				Prompt:              a.Prompt,
				Models:              models,
				StopWhen:            a.StopWhen,
				ConversationHistory: a.ConversationHistory,
				ContextConfigID:     a.ContextConfigID,
			})
			for _, ts := range a.Tools {
				store.AddToolServer(g.ID, a.ID, ts)
			}
			for _, dc := range a.DataComponents {
				store.AddDataComponent(g.ID, a.ID, dc)
			}
			for _, ac := range a.ArtifactComponents {
				store.AddArtifactComponent(g.ID, a.ID, ac)
			}
		}

		for _, rel := range g.Relations {
			store.AddRelation(g.ID, rel)
		}
	}
}
