package commands

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/agentd/internal/agent"
	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/internal/mcp"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/internal/telemetry"
)

// app holds the components shared by serve and run.
type app struct {
	workDir    string
	cfg        *config.Config
	store      *config.FileStore
	sessions   session.Store
	providers  *provider.Registry
	bus        *event.Bus
	extensions *mcp.Client
	agent      *agent.Agent
	telemetry  *telemetry.Manager
	transport  *session.Transport

	closers []func()
}

// openConfig loads the layered configuration and the key-value store.
func openConfig() (string, *config.Config, *config.FileStore, error) {
	dir, err := getWorkDir()
	if err != nil {
		return "", nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", nil, nil, err
	}
	store, err := config.OpenStore(config.GetPaths().Config)
	if err != nil {
		return "", nil, nil, err
	}
	return dir, cfg, store, nil
}

// openSessions opens the session store selected by the storage config.
func openSessions(ctx context.Context, cfg config.StorageConfig) (session.Store, func(), error) {
	switch cfg.Driver {
	case "", "file":
		return session.NewFileStore(config.GetPaths().StoragePath()), func() {}, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		store, err := session.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func modelDefaults(cfg *config.Config) provider.ModelConfig {
	return provider.ModelConfig{
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	}
}

// buildProvider creates the configured provider.
func (a *app) buildProvider(ctx context.Context) (provider.Provider, error) {
	return a.providers.FromConfig(ctx, a.store, modelDefaults(a.cfg), a.cfg.Provider.Name)
}

// newApp wires every component. A missing provider is not fatal: the agent
// starts without one and replies fail until one is selected.
func newApp(ctx context.Context) (*app, error) {
	dir, cfg, store, err := openConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		workDir:    dir,
		cfg:        cfg,
		store:      store,
		providers:  provider.DefaultRegistry(),
		bus:        event.NewBus(),
		extensions: mcp.NewClient(),
	}

	sessions, closeSessions, err := openSessions(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	a.closers = append(a.closers, closeSessions)

	policy, err := permission.NewPolicy(cfg.Permission)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("permission config: %w", err)
	}
	var mode agent.Mode
	if cfg.Agent.Mode != "" {
		if mode, err = agent.ParseMode(cfg.Agent.Mode); err != nil {
			a.Close()
			return nil, fmt.Errorf("agent config: %w", err)
		}
	}

	a.connectExtensions(ctx)
	a.closers = append(a.closers, func() { a.extensions.Close() })

	prov, err := a.buildProvider(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("no provider configured")
	}

	a.agent = agent.New(agent.Options{
		ToolHost:           a.extensions,
		Policy:             policy,
		Bus:                a.bus,
		Mode:               mode,
		MaxTurns:           cfg.Agent.MaxTurns,
		MaxToolRepetitions: cfg.Agent.MaxToolRepetitions,
	})
	if prov != nil {
		a.agent.UpdateProvider(prov)
	}

	var sinks []telemetry.Sink
	sinks = append(sinks, telemetry.LogSink{})
	if cfg.Telemetry.Endpoint != "" {
		sinks = append(sinks, telemetry.NewHTTPSink(cfg.Telemetry.Endpoint))
	}
	a.telemetry, err = telemetry.NewManager(cfg.Telemetry.Enabled, sinks...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { a.telemetry.Close() })

	a.transport = session.NewTransport(session.TransportOptions{
		Agent:     a.agent,
		Store:     a.sessions,
		Telemetry: a.telemetry,
		Bus:       a.bus,
	})
	return a, nil
}

// connectExtensions connects every enabled extension concurrently. A
// failed extension is logged and skipped.
func (a *app) connectExtensions(ctx context.Context) {
	var g errgroup.Group
	for name, ext := range a.cfg.Extensions {
		if !ext.IsEnabled() {
			continue
		}
		mc := &mcp.Config{
			Enabled:     true,
			Type:        mcp.TransportType(ext.Type),
			URL:         ext.URL,
			Headers:     ext.Headers,
			Command:     ext.Command,
			Environment: ext.Environment,
			Timeout:     ext.Timeout,
		}
		g.Go(func() error {
			if err := a.extensions.AddServer(ctx, name, mc); err != nil {
				logging.Warn().Err(err).Str("extension", name).Msg("extension failed to start")
				return nil
			}
			logging.Info().Str("extension", name).Msg("extension connected")
			return nil
		})
	}
	_ = g.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
