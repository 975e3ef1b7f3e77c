// Package bridge is the command bridge between the page and backend
// commands: a named command is invoked with optional JSON arguments and
// resolves to an HTML fragment or an error.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// Invoker invokes a backend command by name.
type Invoker interface {
	Invoke(ctx context.Context, command string, args json.RawMessage) (string, error)
}

// CommandFunc implements a single backend command.
type CommandFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Registry maps command names to implementations.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
	log      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		commands: make(map[string]CommandFunc),
		log:      log.Component("bridge"),
	}
}

// Register adds a command. Registering a name twice is an error.
func (r *Registry) Register(name string, fn CommandFunc) error {
	if name == "" {
		return fmt.Errorf("bridge: command name is required")
	}
	if fn == nil {
		return fmt.Errorf("bridge: command %q has no implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("bridge: command %q already registered", name)
	}
	r.commands[name] = fn
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, fn CommandFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a command is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[name]
	return ok
}

// Invoke runs the named command.
func (r *Registry) Invoke(ctx context.Context, command string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	fn, ok := r.commands[command]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownCommandError{Command: command}
	}

	start := time.Now()
	html, err := fn(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		// The caller shows the failure; it is only traced here.
		r.log.Debug().
			Str("command", command).
			Dur("duration", elapsed).
			Err(err).
			Msg("command failed")
		return "", &CommandError{Command: command, Err: err}
	}

	r.log.Debug().
		Str("command", command).
		Dur("duration", elapsed).
		Int("bytes", len(html)).
		Msg("command completed")
	return html, nil
}

// DecodeArgs unmarshals command arguments into v. Empty or null arguments
// leave v untouched.
func DecodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
