// Package plugin holds the process-local registry of handler registrations.
// Registrations are made at plugin load, removed at unload and lost on
// restart; handlers re-register at startup.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Control-flow results a handler may return to end a target run early. The
// scheduler logs them and does not count the run as failed.
var (
	ErrPaused   = errors.New("handler paused")
	ErrFinished = errors.New("handler finished")
	ErrSkipped  = errors.New("handler skipped")
)

// IsControlFlow reports whether err is one of the early-exit results.
func IsControlFlow(err error) bool {
	return errors.Is(err, ErrPaused) || errors.Is(err, ErrFinished) || errors.Is(err, ErrSkipped)
}

// Invocation is what a scheduled handler receives for one target execution.
type Invocation struct {
	ScheduleID int64
	PluginName string
	BotID      string
	// GroupID is empty for global and user targets.
	GroupID string
	// Kwargs passed schema validation before the schedule was saved.
	Kwargs map[string]any
}

// HandlerFunc is the executable body of a registered plugin.
type HandlerFunc func(ctx context.Context, b bot.Bot, inv *Invocation) error

// Registration describes one registered plugin.
type Registration struct {
	Name    string
	Handler HandlerFunc
	// ValidateKwargs rejects job kwargs that do not match the plugin's
	// parameter schema. Nil accepts anything.
	ValidateKwargs func(kwargs map[string]any) error
	// CLIUsage documents the kwargs for the scheduler admin command.
	CLIUsage string

	DefaultPermission int
	DefaultJitter     *int
	DefaultSpread     *float64
	DefaultInterval   *int
}

// Registry maps plugin names to registrations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Registration)}
}

// Register adds or replaces a registration. Re-registering an existing name
// logs a warning and overwrites.
func (r *Registry) Register(reg *Registration) error {
	if reg == nil || reg.Name == "" {
		return errors.New("registration requires a name")
	}
	if reg.Handler == nil {
		return errors.Newf("registration %s requires a handler", reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[reg.Name]; exists {
		logger.Warnw("Plugin re-registered, replacing previous handler", "plugin", reg.Name)
	}
	r.entries[reg.Name] = reg
	return nil
}

// Deregister removes a registration. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Lookup returns the registration for the name.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns all registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks kwargs against the named plugin's schema.
func (r *Registry) Validate(name string, kwargs map[string]any) error {
	reg, ok := r.Lookup(name)
	if !ok {
		return errors.Wrapf(errors.ErrPluginNotRegistered, "plugin %s", name)
	}
	if reg.ValidateKwargs == nil {
		return nil
	}
	if err := reg.ValidateKwargs(kwargs); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "invalid kwargs for %s: %v", name, err)
	}
	return nil
}

// Default is the process-wide registry populated by plugin load hooks.
var Default = NewRegistry()
