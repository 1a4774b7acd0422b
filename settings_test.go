package dbcontext

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYAML = `
schema: inventory
driver: pgx
connection_strings:
  default: postgres://app@localhost:5432/app?sslmode=disable
  reporting: postgres://reader@replica:5432/app?sslmode=disable
  broken: ""
`

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings(strings.NewReader(settingsYAML))
	require.NoError(t, err)

	assert.Equal(t, "inventory", s.Schema)
	assert.Equal(t, DriverPGX, s.Driver)
	assert.Len(t, s.ConnectionStrings, 3)

	cs, err := s.ConnectionString("reporting")
	require.NoError(t, err)
	assert.Equal(t, "postgres://reader@replica:5432/app?sslmode=disable", cs)
}

func TestSettings_Config(t *testing.T) {
	s, err := LoadSettings(strings.NewReader(settingsYAML))
	require.NoError(t, err)

	cfg, err := s.Default()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@localhost:5432/app?sslmode=disable", cfg.ConnectionString)
	assert.Equal(t, "inventory", cfg.Schema)
	assert.Equal(t, DriverPGX, cfg.Driver)
	assert.Equal(t, 25, cfg.MaxOpenConns)
}

func TestSettings_MissingConnection(t *testing.T) {
	s, err := LoadSettings(strings.NewReader(settingsYAML))
	require.NoError(t, err)

	for _, name := range []string{"", "unknown", "broken"} {
		_, err := s.ConnectionString(name)
		assert.True(t, IsConfiguration(err), name)
	}

	var cfgErr *ConfigurationError
	_, err = s.Config("unknown")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "unknown", cfgErr.Name)
}

func TestSettings_MissingSchema(t *testing.T) {
	s := &Settings{ConnectionStrings: map[string]string{"default": "postgres://localhost/app"}}

	_, err := s.Default()
	assert.True(t, IsConfiguration(err))
}

func TestLoadSettings_Empty(t *testing.T) {
	s, err := LoadSettings(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, s.ConnectionStrings)
}

func TestLoadSettings_Invalid(t *testing.T) {
	_, err := LoadSettings(strings.NewReader("schema: [unterminated"))
	assert.True(t, IsConfiguration(err))
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte(settingsYAML), 0o600))

	s, err := LoadSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "inventory", s.Schema)

	_, err = LoadSettingsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsConfiguration(err))
}
