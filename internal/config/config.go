// Package config loads sentinel settings from YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

// ErrConfiguration marks fatal configuration problems. The CLI exits non-zero
// when Load returns an error wrapping it.
var ErrConfiguration = errors.New("configuration error")

// Load reads settings from the file at path. An empty path returns default
// settings. Supported formats are YAML (.yml/.yaml) and JSON. A top-level
// `sentinel:` key is optional; when absent the document root is the settings
// block. Unknown keys are rejected.
func Load(path string) (*models.SentinelSettings, error) {
	settings := &models.SentinelSettings{}
	if path == "" {
		log.Debug().Msg("No config path supplied, using default settings")
		settings.ApplyDefaults()
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yml", ".yaml":
		err = decodeYAML(data, settings)
	case ".json":
		err = decodeJSON(data, settings)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q (expected .yaml, .yml, or .json)", ErrConfiguration, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}

	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	log.Debug().
		Int("incident_cards", len(settings.IncidentCards)).
		Int("watchers", len(settings.Watchers)).
		Int("tool_servers", len(settings.ToolServers)).
		Int("queue_size", settings.Dispatcher.QueueSize).
		Msg("Loaded sentinel configuration")
	return settings, nil
}

func decodeYAML(data []byte, settings *models.SentinelSettings) error {
	var doc struct {
		Sentinel yaml.Node `yaml:"sentinel"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && !doc.Sentinel.IsZero() {
		return strictYAMLNode(&doc.Sentinel, settings)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		// An empty document decodes to io.EOF; treat it as default settings.
		return err
	}
	return nil
}

func strictYAMLNode(node *yaml.Node, settings *models.SentinelSettings) error {
	// Re-encode the subtree so the strict decoder can walk it with
	// KnownFields enabled; yaml.Node.Decode has no strict mode.
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(settings)
}

func decodeJSON(data []byte, settings *models.SentinelSettings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if section, ok := probe["sentinel"]; ok {
		data = section
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(settings)
}
