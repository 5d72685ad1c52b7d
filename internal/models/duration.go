package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Seconds is a duration expressed in whole seconds. Config files may supply
// either a bare number (seconds) or a Go-style duration string such as
// "500ms", "5s", "1m", or "1h". Parsing normalises to integer seconds with a
// minimum of 1.
type Seconds int

// Duration converts to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	secs, err := parseSeconds(raw)
	if err != nil {
		return err
	}
	*s = Seconds(secs)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	secs, err := parseSeconds(raw)
	if err != nil {
		return err
	}
	*s = Seconds(secs)
	return nil
}

func parseSeconds(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return clampSeconds(v), nil
	case int64:
		return clampSeconds(int(v)), nil
	case float64:
		return clampSeconds(int(math.Round(v))), nil
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return clampSeconds(n), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return clampSeconds(int(math.Round(d.Seconds()))), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid duration value of type %T", raw)
	}
}

func clampSeconds(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
