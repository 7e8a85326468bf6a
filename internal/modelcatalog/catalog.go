// Package modelcatalog holds the static model alias/restriction table.
package modelcatalog

import (
	"fmt"

	"github.com/wayne930242/discord-agents/internal/errs"
)

// RateLimitPolicy is the declared per-model behavior when a request would
// exceed the token budget within the interval window.
type RateLimitPolicy string

const (
	PolicyDefer  RateLimitPolicy = "defer"
	PolicyReject RateLimitPolicy = "reject"
)

// Spec describes one servable model: its provider, its rate-limit
// restrictions, and the historical names that resolve to it.
type Spec struct {
	Name            string           `yaml:"name"`
	Provider        string           `yaml:"provider"`
	MaxTokens       int              `yaml:"max_tokens"` // 0 means unlimited
	IntervalSeconds int              `yaml:"interval_seconds"`
	Policy          RateLimitPolicy  `yaml:"policy"`
	Aliases         []string         `yaml:"aliases"`
}

// defaultTable is the built-in model list: most models carry no rate-limit
// restriction; a small number of expensive models declare a bounded token
// budget per interval.
var defaultTable = []Spec{
	{
		Name:     "gpt-4o-mini",
		Provider: "openai",
		Policy:   PolicyDefer,
		Aliases:  []string{"gpt-4o-mini-2024-07-18"},
	},
	{
		Name:     "gpt-4o",
		Provider: "openai",
		Policy:   PolicyDefer,
		Aliases:  []string{"gpt-4o-2024-08-06", "gpt-4-turbo"},
	},
	{
		Name:            "claude-sonnet-4",
		Provider:        "anthropic",
		MaxTokens:       20000,
		IntervalSeconds: 60,
		Policy:          PolicyReject,
		Aliases:         []string{"claude-sonnet-4-20250514", "claude-3-5-sonnet"},
	},
	{
		Name:     "gemini-1.5-flash",
		Provider: "google",
		Policy:   PolicyDefer,
		Aliases:  []string{"gemini-1.5-flash-latest"},
	},
	{
		Name:     "grok-2",
		Provider: "xai",
		Policy:   PolicyDefer,
		Aliases:  []string{"grok-2-latest"},
	},
}

// Catalog resolves model names (including historical aliases) to a Spec.
type Catalog struct {
	byName map[string]Spec
}

// New builds a Catalog from table, indexing both canonical names and
// aliases. An empty table falls back to the compiled-in default.
func New(table []Spec) *Catalog {
	if len(table) == 0 {
		table = defaultTable
	}
	c := &Catalog{byName: make(map[string]Spec, len(table)*2)}
	for _, spec := range table {
		c.byName[spec.Name] = spec
		for _, alias := range spec.Aliases {
			c.byName[alias] = spec
		}
	}
	return c
}

// Default returns a Catalog seeded with the compiled-in model table.
func Default() *Catalog {
	return New(nil)
}

// Resolve looks up name (which may be a historical alias) and returns the
// canonical Spec. An unresolved name returns a config error.
func (c *Catalog) Resolve(name string) (Spec, error) {
	spec, ok := c.byName[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown model %q", errs.ErrConfigError, name)
	}
	return spec, nil
}
