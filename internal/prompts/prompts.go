// Package prompts loads incident prompt templates and renders them with
// notification context.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

const rawPayloadPreviewLimit = 480

// Repository resolves a card's prompt identifier to template text. An
// identifier that points at a readable file is loaded from disk; anything
// else is treated as inline template text, so prompts can live directly in
// the config file.
type Repository struct{}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Load returns the template text for the identifier.
func (r *Repository) Load(identifier string) string {
	if looksLikePath(identifier) {
		if data, err := os.ReadFile(identifier); err == nil {
			return string(data)
		}
	}
	return identifier
}

func looksLikePath(identifier string) bool {
	if strings.ContainsAny(identifier, "\n") {
		return false
	}
	info, err := os.Stat(identifier)
	return err == nil && info.Mode().IsRegular()
}

// Renderer substitutes ${placeholder} references using notification context.
// Rendering never fails; missing placeholders expand to empty strings and any
// substitution panic falls back to the raw template.
type Renderer struct{}

// NewRenderer returns a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render expands the template with BuildContext values.
func (r *Renderer) Render(template string, notification models.IncidentNotification) (rendered string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().
				Interface("panic", rec).
				Str("template_preview", truncate(template, 120)).
				Msg("Prompt rendering failed, returning raw template")
			rendered = template
		}
	}()

	context := BuildContext(notification)
	return os.Expand(template, func(key string) string {
		value, ok := context[key]
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// BuildContext produces the substitution mapping for a notification.
func BuildContext(notification models.IncidentNotification) map[string]any {
	resource := notification.Resource
	state := resource.State
	if state == "" {
		state = "unknown"
	}
	return map[string]any{
		"resource_name":        resource.Name,
		"resource_type":        resource.Type,
		"resource_state":       state,
		"resource_value":       resource.Value,
		"resource_timestamp":   resource.Timestamp,
		"resource_labels":      joinPairs(resource.Labels),
		"resource_annotations": joinPairs(resource.Annotations),
		"raw_payload":          notification.RawPayload,
	}
}

// BuildInitialInput renders the plaintext incident summary handed to the
// agent as its first user message.
func BuildInitialInput(notification models.IncidentNotification) string {
	resource := notification.Resource
	state := resource.State
	if state == "" {
		state = "unknown"
	}
	lines := []string{
		fmt.Sprintf("Incident resource %s (%s)", resource.Name, resource.Type),
		fmt.Sprintf("State: %s | Value: %s", state, resource.Value),
	}
	if len(resource.Labels) > 0 {
		lines = append(lines, "Labels: "+joinPairs(resource.Labels))
	}
	if len(resource.Annotations) > 0 {
		lines = append(lines, "Annotations: "+joinPairs(resource.Annotations))
	}
	if len(notification.RawPayload) > 0 {
		if payload, err := json.Marshal(notification.RawPayload); err == nil {
			lines = append(lines, "Raw payload: "+truncate(string(payload), rawPayloadPreviewLimit))
		}
	}
	return strings.Join(lines, "\n")
}

func joinPairs(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
