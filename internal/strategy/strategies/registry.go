package strategies

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coachpo/meltica-replay/internal/strategy"
)

// Factory builds a strategy bound to fn from free-form parameters.
type Factory func(fn Facade, params map[string]any) (strategy.Strategy, error)

// Resolver turns the reference after a "scheme:" prefix into a factory, e.g. a script path
// for "js:strategies/breakout.js".
type Resolver func(ref string) (Factory, error)

// ConfigField documents one strategy parameter.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Metadata describes a registered strategy.
type Metadata struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"displayName"`
	Description string        `json:"description,omitempty"`
	Config      []ConfigField `json:"config"`
}

type definition struct {
	meta    Metadata
	factory Factory
}

// Registry maps strategy names to factories.
type Registry struct {
	defs      map[string]definition
	resolvers map[string]Resolver
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]definition), resolvers: make(map[string]Resolver)}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.Register(Metadata{
		Name:        "noop",
		DisplayName: "No-Op",
		Description: "Pass-through strategy that places no orders.",
	}, func(Facade, map[string]any) (strategy.Strategy, error) {
		return &NoOp{}, nil
	})

	r.Register(Metadata{
		Name:        "logging",
		DisplayName: "Logging",
		Description: "Logs every market and order callback.",
	}, func(fn Facade, _ map[string]any) (strategy.Strategy, error) {
		return &Logging{Logger: fn.Logger()}, nil
	})

	r.Register(Metadata{
		Name:        "macross",
		DisplayName: "Moving Average Crossover",
		Description: "Holds one position in the direction of a fast/slow moving average crossover.",
		Config: []ConfigField{
			{Name: "fast_window", Type: "int", Description: "Samples in the fast average", Default: 5},
			{Name: "slow_window", Type: "int", Description: "Samples in the slow average", Default: 20},
			{Name: "volume", Type: "int", Description: "Lots per entry", Default: 1},
		},
	}, func(fn Facade, params map[string]any) (strategy.Strategy, error) {
		return &MACross{
			Function:   fn,
			FastWindow: intValue(params, "fast_window", 5),
			SlowWindow: intValue(params, "slow_window", 20),
			Volume:     int64(intValue(params, "volume", 1)),
		}, nil
	})
}

// Register adds or replaces a strategy definition.
func (r *Registry) Register(meta Metadata, factory Factory) {
	name := strings.ToLower(strings.TrimSpace(meta.Name))
	if name == "" {
		panic("strategy name required")
	}
	if factory == nil {
		panic(fmt.Sprintf("strategy %s missing factory", name))
	}
	meta.Name = name
	r.defs[name] = definition{meta: meta, factory: factory}
}

// RegisterResolver routes names of the form "scheme:ref" to resolve. Scheme matching is
// case-insensitive; ref is passed through untouched.
func (r *Registry) RegisterResolver(scheme string, resolve Resolver) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		panic("strategy scheme required")
	}
	if resolve == nil {
		panic(fmt.Sprintf("strategy scheme %s missing resolver", scheme))
	}
	r.resolvers[scheme] = resolve
}

// New builds the strategy registered under name, or resolves a "scheme:ref" name through
// the matching resolver.
func (r *Registry) New(name string, fn Facade, params map[string]any) (strategy.Strategy, error) {
	factory, err := r.lookup(strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("strategy %q: function required", name)
	}
	return factory(fn, params)
}

func (r *Registry) lookup(name string) (Factory, error) {
	if scheme, ref, ok := strings.Cut(name, ":"); ok {
		resolve, found := r.resolvers[strings.ToLower(strings.TrimSpace(scheme))]
		if !found {
			return nil, fmt.Errorf("strategy scheme %q not registered", scheme)
		}
		factory, err := resolve(strings.TrimSpace(ref))
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		return factory, nil
	}
	def, ok := r.defs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", name)
	}
	return def.factory, nil
}

// List returns the metadata of every registered strategy sorted by name.
func (r *Registry) List() []Metadata {
	out := make([]Metadata, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func intValue(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	if raw, ok := cfg[key]; ok {
		switch v := raw.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return parsed
			}
		}
	}
	return def
}
