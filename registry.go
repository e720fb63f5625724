package toolloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler runs a tool with coerced arguments. It may block on I/O and must honour ctx.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a registered definition with its bound handler.
// Definition.Parameters is shared with the registry; callers must not mutate it.
type Tool struct {
	Definition ToolDefinition
	Handler    Handler
	schema     *jsv.Schema
}

// Registry holds tool definitions and their handlers. It is populated at startup and
// read-mostly afterwards; every mutation swaps a fully built entry under the write lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: o.logger,
	}
}

// Register adds a tool. If a tool with the same name already exists, it is replaced
// and a warning is logged. Safe for concurrent use with Lookup and other Register calls.
func (r *Registry) Register(def ToolDefinition, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: tool %s has a nil handler", ErrInvalidDefinition, def.Name)
	}
	if err := validateDefinition(def); err != nil {
		return err
	}
	def.Parameters = slices.Clone(def.Parameters)
	schema, err := compileDefinitionSchema(def)
	if err != nil {
		return fmt.Errorf("%w: tool %s: %v", ErrInvalidDefinition, def.Name, err)
	}
	entry := &Tool{Definition: def, Handler: h, schema: schema}

	r.mu.Lock()
	_, replaced := r.tools[def.Name]
	r.tools[def.Name] = entry
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("replacing existing tool", "tool", def.Name)
	}
	category := def.Category
	if category == "" {
		category = "default"
	}
	r.logger.Debug("tool registered", "tool", def.Name, "category", category, "enabled", def.Enabled)
	return nil
}

// MustRegister is like Register but panics on an invalid definition.
// Intended for static registration lists at startup.
func (r *Registry) MustRegister(def ToolDefinition, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic("toolloop: " + err.Error())
	}
}

// Unregister removes a tool. Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// SetEnabled flips the enabled flag of a registered tool.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotRegistered, name)
	}
	next := *cur
	next.Definition.Enabled = enabled
	r.tools[name] = &next
	return nil
}

// Lookup returns the tool registered under name, or (Tool{}, false).
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Has reports whether a tool is registered under name, enabled or not.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []ToolDefinition {
	return r.collect(func(ToolDefinition) bool { return true })
}

// ListEnabled returns the enabled definitions sorted by name. This is what gets advertised.
func (r *Registry) ListEnabled() []ToolDefinition {
	return r.collect(func(d ToolDefinition) bool { return d.Enabled })
}

func (r *Registry) collect(keep func(ToolDefinition) bool) []ToolDefinition {
	r.mu.RLock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		if keep(t.Definition) {
			out = append(out, t.Definition)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ParseToolCalls scans text for calls to tools in this registry. See ParseToolCalls.
func (r *Registry) ParseToolCalls(text string) ([]Invocation, bool) {
	return ParseToolCalls(text, r.Has)
}

// RegisterAll registers every entry and returns the joined registration errors.
func (r *Registry) RegisterAll(entries ...Entry) error {
	var errs []error
	for _, e := range entries {
		if err := r.Register(e.Definition, e.Handler); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entry pairs a definition with its handler for static registration lists.
type Entry struct {
	Definition ToolDefinition
	Handler    Handler
}
