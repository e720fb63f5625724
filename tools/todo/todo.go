// Package todo provides tools that let the model keep a persistent todo list.
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tgsearchbot/toolloop"
)

const (
	defaultList     = "default"
	defaultPriority = "medium"
)

var (
	priorities = []string{"low", "medium", "high", "urgent"}
	dueLayouts = []string{"2006-01-02", "2006-01-02 15:04"}
	markers    = map[string]string{"low": "🟢", "medium": "🟡", "high": "🟠", "urgent": "🔴"}
)

// Option configures the todo tools.
type Option func(*Tools)

// WithClock replaces time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tools) {
		t.now = now
	}
}

// WithLogger sets the logger used for tool activity. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tools) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tools binds the todo tool handlers to a Store.
type Tools struct {
	store  *Store
	now    func() time.Time
	logger *slog.Logger
}

// New returns todo tools backed by store.
func New(store *Store, opts ...Option) *Tools {
	t := &Tools{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Entries returns add_todo, list_todos and complete_todo.
func (t *Tools) Entries() []toolloop.Entry {
	return []toolloop.Entry{
		{
			Definition: toolloop.ToolDefinition{
				Name:        "add_todo",
				Description: "Add an item to a todo list",
				Category:    "todo",
				Enabled:     true,
				Parameters: []toolloop.ToolParameterSpec{
					{Name: "title", Type: toolloop.String, Required: true, Description: "short title of the todo item"},
					{Name: "description", Type: toolloop.String, Description: "details"},
					{Name: "priority", Type: toolloop.String, Enum: priorities, Default: defaultPriority},
					{Name: "due_date", Type: toolloop.String, Description: "YYYY-MM-DD or YYYY-MM-DD HH:MM"},
					{Name: "list", Type: toolloop.String, Description: "list name", Default: defaultList},
				},
			},
			Handler: t.add,
		},
		{
			Definition: toolloop.ToolDefinition{
				Name:        "list_todos",
				Description: "List the items of a todo list",
				Category:    "todo",
				Enabled:     true,
				Parameters: []toolloop.ToolParameterSpec{
					{Name: "list", Type: toolloop.String, Default: defaultList},
					{Name: "include_completed", Type: toolloop.Boolean, Default: false},
				},
			},
			Handler: t.list,
		},
		{
			Definition: toolloop.ToolDefinition{
				Name:        "complete_todo",
				Description: "Mark a todo item as done",
				Category:    "todo",
				Enabled:     true,
				Parameters: []toolloop.ToolParameterSpec{
					{Name: "id", Type: toolloop.Number, Required: true, Description: "id returned by add_todo or list_todos"},
				},
			},
			Handler: t.complete,
		},
	}
}

// Register adds the todo tools to reg.
func (t *Tools) Register(reg *toolloop.Registry) error {
	if err := reg.RegisterAll(t.Entries()...); err != nil {
		return fmt.Errorf("todo: %w", err)
	}
	return nil
}

type added struct {
	Item    Item   `json:"item"`
	Message string `json:"message"`
}

func (t *Tools) add(ctx context.Context, args map[string]any) (any, error) {
	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	due := strings.TrimSpace(stringArg(args, "due_date"))
	if due != "" && !validDue(due) {
		return nil, fmt.Errorf("due_date %q must be YYYY-MM-DD or YYYY-MM-DD HH:MM", due)
	}
	item, err := t.store.Add(ctx, Item{
		List:        stringArg(args, "list"),
		Title:       title,
		Description: stringArg(args, "description"),
		Priority:    stringArg(args, "priority"),
		Due:         due,
		CreatedAt:   t.now(),
	})
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "todo added", "id", item.ID, "list", item.List, "priority", item.Priority)
	return added{Item: item, Message: render(item)}, nil
}

type listed struct {
	List  string `json:"list"`
	Count int    `json:"count"`
	Items []Item `json:"items"`
}

func (t *Tools) list(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "list")
	include, _ := args["include_completed"].(bool)
	items, err := t.store.List(ctx, name, include)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return listed{List: name, Count: len(items), Items: items}, nil
}

func (t *Tools) complete(ctx context.Context, args map[string]any) (any, error) {
	f, _ := args["id"].(float64)
	id := int64(f)
	if float64(id) != f || id <= 0 {
		return nil, fmt.Errorf("id must be a positive integer, got %v", f)
	}
	item, err := t.store.Complete(ctx, id, t.now())
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "todo completed", "id", item.ID, "list", item.List)
	return item, nil
}

// render formats an item as a chat message.
func render(item Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 **TODO: %s** %s\n\n", item.Title, markers[item.Priority])
	fmt.Fprintf(&b, "**Priority:** %s\n", strings.ToUpper(item.Priority))
	if item.Description != "" {
		fmt.Fprintf(&b, "\n**Description:**\n%s\n", item.Description)
	}
	if item.Due != "" {
		fmt.Fprintf(&b, "\n**Due Date:** %s\n", item.Due)
	}
	fmt.Fprintf(&b, "\n*Created: %s*", item.CreatedAt.Format("2006-01-02 15:04"))
	return b.String()
}

func validDue(s string) bool {
	for _, layout := range dueLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
