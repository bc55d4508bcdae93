// Package models maps caller model names onto the backend's model aliases.
package models

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/samsaffron/claude-wrapper/internal/api"
)

// Alias is a model alias understood by the backend CLI's --model flag.
type Alias string

const (
	Primary   Alias = "opus"
	Secondary Alias = "sonnet"
	Tertiary  Alias = "haiku"
)

// Default is returned for every name the table does not know.
const Default = Primary

// Public model names reported to callers.
const (
	PublicOpus   = "claude-opus-4"
	PublicSonnet = "claude-sonnet-4"
	PublicHaiku  = "claude-haiku-4"
)

// modelsCreated is the fixed creation timestamp reported by List.
const modelsCreated = 1747267200

// providerPrefixes are stripped, one at a time, when a name misses the table.
// Longer prefixes come first so nested forms strip in one step.
var providerPrefixes = []string{
	"openrouter/anthropic/",
	"claude-code-cli/",
	"claude-cli/",
	"claude-code/",
	"anthropic/",
	"claude/",
}

// aliases is append-only: add identifiers and prefixed variants, never
// remove entries or change the fallback.
var aliases = map[string]Alias{
	"opus":   Primary,
	"sonnet": Secondary,
	"haiku":  Tertiary,

	"claude-opus-4":            Primary,
	"claude-opus-4-0":          Primary,
	"claude-opus-4-1":          Primary,
	"claude-opus-4-5":          Primary,
	"claude-opus-4-20250514":   Primary,
	"claude-opus-4-1-20250805": Primary,
	"claude-opus-4-5-20251101": Primary,
	"claude-3-opus":            Primary,
	"claude-3-opus-20240229":   Primary,
	"claude-3-opus-latest":     Primary,

	"claude-sonnet-4":            Secondary,
	"claude-sonnet-4-0":          Secondary,
	"claude-sonnet-4-5":          Secondary,
	"claude-sonnet-4-20250514":   Secondary,
	"claude-sonnet-4-5-20250929": Secondary,
	"claude-3-7-sonnet":          Secondary,
	"claude-3-7-sonnet-20250219": Secondary,
	"claude-3-7-sonnet-latest":   Secondary,
	"claude-3-5-sonnet":          Secondary,
	"claude-3-5-sonnet-20241022": Secondary,
	"claude-3-5-sonnet-latest":   Secondary,

	"claude-haiku-4":            Tertiary,
	"claude-haiku-4-5":          Tertiary,
	"claude-haiku-4-5-20251001": Tertiary,
	"claude-3-5-haiku":          Tertiary,
	"claude-3-5-haiku-20241022": Tertiary,
	"claude-3-5-haiku-latest":   Tertiary,
	"claude-3-haiku-20240307":   Tertiary,

	"claude-code-cli/opus":            Primary,
	"claude-code-cli/sonnet":          Secondary,
	"claude-code-cli/haiku":           Tertiary,
	"claude-code-cli/claude-opus-4":   Primary,
	"claude-code-cli/claude-sonnet-4": Secondary,
	"claude-code-cli/claude-haiku-4":  Tertiary,
	"anthropic/claude-opus-4":         Primary,
	"anthropic/claude-sonnet-4":       Secondary,
	"anthropic/claude-haiku-4":        Tertiary,
}

// Resolve maps a caller model name to a backend alias. It never fails:
// unknown names resolve to Default.
func Resolve(name string) Alias {
	alias, _ := Lookup(name)
	return alias
}

// Lookup is Resolve that also reports whether the name was known.
func Lookup(name string) (Alias, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		return alias, true
	}
	if stripped, ok := stripPrefix(key); ok {
		if alias, ok := aliases[stripped]; ok {
			return alias, true
		}
	}
	return Default, false
}

func stripPrefix(name string) (string, bool) {
	for _, prefix := range providerPrefixes {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return rest, true
		}
	}
	return name, false
}

// PublicName normalizes a backend model identifier to one of the public
// names. Identifiers naming none of the families pass through unchanged.
func PublicName(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "opus"):
		return PublicOpus
	case strings.Contains(lower, "sonnet"):
		return PublicSonnet
	case strings.Contains(lower, "haiku"):
		return PublicHaiku
	}
	return id
}

// PublicNameFor returns the public name of an alias.
func PublicNameFor(alias Alias) string {
	return PublicName(string(alias))
}

// List returns the public model listing.
func List() []api.ModelInfo {
	names := []string{PublicOpus, PublicSonnet, PublicHaiku}
	out := make([]api.ModelInfo, 0, len(names))
	for _, name := range names {
		out = append(out, api.ModelInfo{
			ID:      name,
			Object:  "model",
			Created: modelsCreated,
			OwnedBy: "anthropic",
		})
	}
	return out
}

// Known returns every name in the table, sorted.
func Known() []string {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns up to limit known names that fuzzily match name.
func Suggest(name string, limit int) []string {
	known := Known()
	matches := fuzzy.Find(strings.ToLower(name), known)
	out := make([]string, 0, limit)
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
