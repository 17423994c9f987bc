package common

import (
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can express durations as
// human-readable strings like "30s" or "1h30m".
type Duration struct {
	time.Duration
}

// NewDuration returns a Duration wrapping d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a duration string. Implementing encoding.TextUnmarshaler
// covers JSON, YAML and TOML decoding alike.
func (d *Duration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration's string notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration string. yaml.v3 does not consult
// encoding.TextUnmarshaler, so the hook is spelled out.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML renders the duration in time.Duration's string notation.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// JSONSchema returns a custom schema for the string representation.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: ns, us, ms, s, m, h (e.g. \"300ms\", \"1m\", \"1h30m\")",
		Examples:    []any{"300ms", "30s", "1m", "1h30m"},
	}
}
