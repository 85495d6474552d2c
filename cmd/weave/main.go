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

// Command weave runs the agent graph server.
//
// Usage:
//
//	weave serve --config weave.yaml
//	weave validate --config weave.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/a2a/dispatcher"
	"github.com/weavely/weave/pkg/config"
	"github.com/weavely/weave/pkg/credential"
	"github.com/weavely/weave/pkg/executor"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/observability"
	"github.com/weavely/weave/pkg/server"
	"github.com/weavely/weave/pkg/storage"
	"github.com/weavely/weave/pkg/task"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent graph server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"weave.yaml"`
	LogLevel  string `help:"Log level override (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("weave version %s\n", version)
	return nil
}

// ValidateCmd loads and validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid: %d graph(s)\n", cli.Config, len(cfg.Graphs))
	return nil
}

// ServeCmd starts the HTTP server for one agent graph.
type ServeCmd struct {
	Graph string `help:"Graph id to serve (default: first configured graph)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	initLogger(cli, cfg)
	log := logger.GetLogger()

	graphID := c.Graph
	if graphID == "" {
		graphID = cfg.Graphs[0].ID
	}
	found := false
	for _, g := range cfg.Graphs {
		if g.ID == graphID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("graph %s not found in %s", graphID, cli.Config)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.InitMetrics(ctx, cfg.Observability.Metrics)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)
	if _, err := observability.InitGlobalTracer(ctx, cfg.Observability.Tracing); err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}

	store := storage.NewMemoryStore()
	cfg.Seed(store)

	creds := credential.NewStoreResolver()
	for id, values := range cfg.CredentialStores {
		creds.AddStore(id, values)
	}

	exec := executor.New(executor.Options{
		Store:       store,
		Credentials: creds,
	})

	// The handler is the dispatcher's local route, so internal delegations
	// re-enter through the same path as ingress tasks. LocalFunc closes
	// over the handler built right after.
	var handler *task.Handler
	disp := dispatcher.New(dispatcher.Options{
		Store:       store,
		Credentials: creds,
		Local: dispatcher.LocalFunc(func(ctx context.Context, agentID string, t *a2a.Task) (*a2a.Task, error) {
			return handler.HandleTask(ctx, agentID, t)
		}),
	})
	handler = task.NewHandler(task.Options{
		Store:      store,
		Executor:   exec,
		Dispatcher: disp,
		GraphID:    graphID,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(server.Options{Handler: handler, Addr: addr})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("Serving agent graph", "graph_id", graphID, "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(cli *CLI, cfg *config.Config) {
	levelStr := cfg.Logging.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}

	output := os.Stderr
	if cli.LogFile != "" {
		if file, _, err := logger.OpenLogFile(cli.LogFile); err == nil {
			output = file
		}
	}
	logger.Init(level, output, cli.LogFormat)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("weave"),
		kong.Description("Multi-agent graph runtime."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
