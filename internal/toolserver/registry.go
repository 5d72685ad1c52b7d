package toolserver

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

// Registry resolves textual tool identifiers into unconnected session
// handles. Resolution is purely synchronous and opens no network
// connections; sessions are connected by the orchestrator per incident.
type Registry struct {
	servers map[string]models.ToolServerConfig
}

// NewRegistry indexes tool-server configs by name. Duplicates keep the first
// definition.
func NewRegistry(servers []models.ToolServerConfig) *Registry {
	index := make(map[string]models.ToolServerConfig, len(servers))
	for _, server := range servers {
		if _, exists := index[server.Name]; exists {
			log.Warn().Str("server", server.Name).Msg("Duplicate tool server definition; keeping first instance")
			continue
		}
		index[server.Name] = server
	}
	return &Registry{servers: index}
}

// FromSettings builds a registry from the settings aggregate.
func FromSettings(settings *models.SentinelSettings) *Registry {
	return NewRegistry(settings.ToolServers)
}

// groupedTools accumulates the identifiers referencing one server. A bare
// `server` entry, `server.` and `server.*` all mean wildcard.
type groupedTools struct {
	explicit map[string]struct{}
	wildcard bool
}

// Resolve maps identifiers in `server`, `server.tool`, or `server.*` form to
// one session handle per referenced server. Identifiers naming unknown
// servers are skipped with a warning so one misconfigured card entry does not
// block the rest.
func (r *Registry) Resolve(identifiers []string) []Handle {
	if len(identifiers) == 0 {
		log.Warn().Msg("No tool identifiers provided to resolve")
		return nil
	}

	grouped := make(map[string]*groupedTools)
	var order []string
	for _, identifier := range identifiers {
		identifier = strings.TrimSpace(identifier)
		if identifier == "" {
			log.Warn().Msg("Skipping empty tool identifier")
			continue
		}
		server, toolName, hasSep := strings.Cut(identifier, ".")
		if server == "" {
			log.Warn().Str("identifier", identifier).Msg("Invalid tool identifier; missing server component")
			continue
		}
		group, ok := grouped[server]
		if !ok {
			group = &groupedTools{explicit: make(map[string]struct{})}
			grouped[server] = group
			order = append(order, server)
		}
		if !hasSep || toolName == "" || toolName == "*" {
			group.wildcard = true
			continue
		}
		group.explicit[toolName] = struct{}{}
	}

	var resolved []Handle
	for _, serverName := range order {
		group := grouped[serverName]
		config, ok := r.servers[serverName]
		if !ok {
			log.Warn().
				Str("server", serverName).
				Strs("requested_tools", sortedKeys(group.explicit)).
				Bool("wildcard", group.wildcard).
				Msg("Skipping tools for unknown MCP server")
			continue
		}
		if config.ServerURL == "" {
			log.Warn().
				Str("server", serverName).
				Str("connector_id", config.ConnectorID).
				Msg("Tool server has no server_url; streamable HTTP session unavailable")
			continue
		}

		allowed, unrestricted := deriveAllowedTools(config, group)
		if !unrestricted && len(allowed) == 0 {
			log.Warn().Str("server", serverName).Msg("No tools resolved for server")
			continue
		}

		resolved = append(resolved, &Session{
			name:    serverName,
			config:  config,
			allowed: allowed,
		})
	}

	if len(resolved) == 0 {
		log.Warn().
			Strs("identifiers", identifiers).
			Msg("No MCP servers resolved from tool identifiers")
	}
	return resolved
}

// deriveAllowedTools computes the allow-list for one server. The second
// return value is true when the session should expose every tool the server
// advertises (allowed is nil in that case).
func deriveAllowedTools(config models.ToolServerConfig, group *groupedTools) ([]string, bool) {
	if group.wildcard || len(group.explicit) == 0 {
		if len(config.DefaultAllowedTools) > 0 {
			return dedupe(config.DefaultAllowedTools), false
		}
		return nil, true
	}
	return sortedKeys(group.explicit), false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
