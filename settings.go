package dbcontext

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConnectionName is the connection resolved by Settings.Default.
const DefaultConnectionName = "default"

// Settings holds named connection strings and the schema, usually loaded
// from a YAML file:
//
//	schema: inventory
//	connection_strings:
//	  default: postgres://app@localhost:5432/app?sslmode=disable
//	  reporting: postgres://reader@replica:5432/app?sslmode=disable
type Settings struct {
	Schema            string            `yaml:"schema"`
	Driver            Driver            `yaml:"driver"`
	ConnectionStrings map[string]string `yaml:"connection_strings"`
}

// LoadSettings decodes settings from YAML.
func LoadSettings(r io.Reader) (*Settings, error) {
	var s Settings
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		if err == io.EOF {
			return &s, nil
		}
		return nil, &ConfigurationError{Reason: "invalid settings", Cause: err}
	}
	return &s, nil
}

// LoadSettingsFile decodes settings from the YAML file at path.
func LoadSettingsFile(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Name: path, Reason: "cannot open settings file", Cause: err}
	}
	defer f.Close()

	s, err := LoadSettings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ConnectionString resolves a named connection string.
func (s *Settings) ConnectionString(name string) (string, error) {
	if name == "" {
		return "", &ConfigurationError{Reason: "connection name is required"}
	}
	cs, ok := s.ConnectionStrings[name]
	if !ok || cs == "" {
		return "", &ConfigurationError{Name: name, Reason: "connection string not found"}
	}
	return cs, nil
}

// Config builds a Config for the named connection using the settings schema.
func (s *Settings) Config(name string) (Config, error) {
	cs, err := s.ConnectionString(name)
	if err != nil {
		return Config{}, err
	}
	if s.Schema == "" {
		return Config{}, &ConfigurationError{Name: name, Reason: "schema is required"}
	}

	cfg := DefaultConfig(cs, s.Schema)
	if s.Driver != "" {
		cfg.Driver = s.Driver
	}
	return cfg, nil
}

// Default builds the Config of the connection named "default".
func (s *Settings) Default() (Config, error) {
	return s.Config(DefaultConnectionName)
}
