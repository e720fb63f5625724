package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tgsearchbot/toolloop"
	"github.com/tgsearchbot/toolloop/backend/openai"
	"github.com/tgsearchbot/toolloop/ext/toolloopotel"
	"github.com/tgsearchbot/toolloop/internal/config"
	"github.com/tgsearchbot/toolloop/tools/builtin"
	"github.com/tgsearchbot/toolloop/tools/todo"
	"github.com/tgsearchbot/toolloop/tools/web"
)

const envPrefix = "TOOLLOOP"

// app carries the per-invocation viper instance so commands do not share global state.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "toolloop",
		Short:         "Chat with a model that can call local tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	flags := cmd.PersistentFlags()
	flags.String("config", config.DefaultPath, "Config file path.")
	flags.StringArray("env-file", nil, "Dotenv file to load (repeatable, default .env).")
	flags.String("model", "", "Model name (overrides backend.model).")
	flags.String("gateway", "", "Gateway base URL (overrides backend.gateway).")
	flags.String("log-level", "", "Log level: debug|info|warn|error.")
	flags.String("todo-db", "", "SQLite file for the todo tools (overrides tools.todo_db).")
	for _, name := range []string{"config", "env-file", "model", "gateway", "log-level", "todo-db"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(a.newChatCmd())
	cmd.AddCommand(a.newToolsCmd())
	cmd.AddCommand(a.newParseCmd())
	return cmd
}

// loadConfig merges the config file with flag and TOOLLOOP_* overrides.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.v.GetString("config"), a.v.GetStringSlice("env-file")...)
	if err != nil {
		return config.Config{}, err
	}
	override := func(dst *string, key string) {
		if s := strings.TrimSpace(a.v.GetString(key)); s != "" {
			*dst = s
		}
	}
	override(&cfg.Backend.Model, "model")
	override(&cfg.Backend.Gateway, "gateway")
	override(&cfg.Logging.Level, "log-level")
	override(&cfg.Tools.TodoDB, "todo-db")
	return cfg, nil
}

// toolset is a registry together with the resources its tools hold open.
type toolset struct {
	reg   *toolloop.Registry
	store *todo.Store
}

func (t *toolset) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

// buildTools registers every bundled tool and disables those listed in tools.disabled.
func buildTools(ctx context.Context, cfg config.Config, logger *slog.Logger) (*toolset, error) {
	ts := &toolset{reg: toolloop.NewRegistry(toolloop.WithRegistryLogger(logger))}
	var errs []error
	errs = append(errs, builtin.Register(ts.reg))

	if cfg.Tools.TodoDB != "" {
		store, err := todo.Open(ctx, cfg.Tools.TodoDB)
		if err != nil {
			return nil, err
		}
		ts.store = store
		errs = append(errs, todo.New(store, todo.WithLogger(logger)).Register(ts.reg))
	}
	if cfg.Tools.Web {
		errs = append(errs, web.New(web.WithLogger(logger)).Register(ts.reg))
	}
	if err := errors.Join(errs...); err != nil {
		_ = ts.Close()
		return nil, err
	}

	for _, def := range ts.reg.List() {
		if !cfg.ToolEnabled(def.Name) {
			if err := ts.reg.SetEnabled(def.Name, false); err != nil {
				return nil, err
			}
		}
	}
	return ts, nil
}

// buildService assembles the middleware stack around the OpenAI backend. The tracing
// middleware reports to the global OpenTelemetry provider.
func buildService(cfg config.Config, reg *toolloop.Registry, logger *slog.Logger) toolloop.Service {
	dispatchOpts := []toolloop.DispatcherOption{
		toolloop.WithDispatchLogger(logger),
		toolloop.WithDefaultTimeout(time.Duration(cfg.Tools.TimeoutSecs) * time.Second),
	}
	dispatchOpts = append(dispatchOpts, toolloopotel.DispatcherOptions()...)

	invokerOpts := []toolloop.InvokerOption{
		toolloop.WithMaxToolInvocations(cfg.Tools.MaxInvocations),
		toolloop.WithToolMarker(cfg.Tools.Marker),
		toolloop.WithInvokerLogger(logger),
		toolloop.WithDispatcher(toolloop.NewDispatcher(reg, dispatchOpts...)),
	}
	if cfg.Tools.ReportUnknown {
		invokerOpts = append(invokerOpts, toolloop.WithReportUnknownTools())
	}

	backend := openai.New(openai.WithDefaults(cfg.BackendConfig()), openai.WithLogger(logger))
	return toolloop.Chain(backend,
		toolloopotel.Middleware(),
		toolloop.WithToolInvocation(reg, invokerOpts...),
		toolloop.WithMaxConcurrency(cfg.Tools.MaxConcurrency),
		toolloop.WithLogging(logger),
	)
}

func (a *app) setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, logger, nil
}
