package config

import (
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func loadConfig(t *testing.T, content string) (*Config, error) {
	t.Helper()
	cfg := &Config{
		Path:   writeConfig(t, content),
		Logger: logging.NewWithWriter(io.Discard, false),
	}
	return cfg, cfg.Load()
}

func TestLoad_FullDefinition(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(t, `
version: 0
database:
  dsn: postgres://credops:s3cret@db:5432/credops
encryption:
  key_env: CREDOPS_MASTER_KEY
vault:
  type: hcp
  address: https://vault.internal:8200
  mount: credops
secrets:
  default_strategy: random
  password_rules:
    length: 20
    upper: true
    lower: true
    digit: true
gather:
  auto_sync: true
notifications:
  webhooks:
    - name: audit
      url: https://hooks.internal/credops
      statuses: [failed]
`)
	require.NoError(t, err)

	def := cfg.Definition
	assert.Equal(t, "postgres://credops:s3cret@db:5432/credops", def.Database.DSN)
	assert.Equal(t, "hcp", def.Vault.Type)
	assert.Equal(t, "https://vault.internal:8200", def.Vault.Config["address"])
	assert.Equal(t, "credops", def.Vault.Config["mount"])
	assert.True(t, def.Gather.AutoSync)

	rules := def.PasswordRules()
	assert.Equal(t, 20, rules.Length)
	assert.False(t, rules.Symbol)

	require.NotNil(t, def.Notifications)
	require.Len(t, def.Notifications.Webhooks, 1)
	assert.Equal(t, []string{"failed"}, def.Notifications.Webhooks[0].Statuses)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Path:   filepath.Join(t.TempDir(), "absent.yaml"),
		Logger: logging.NewWithWriter(io.Discard, false),
	}
	err := cfg.Load()

	var cfgErr errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		field   string
	}{
		{
			"bad yaml",
			"version: [unclosed",
			"",
		},
		{
			"wrong version",
			"version: 7\nvault:\n  type: local\nencryption:\n  key_env: K\n",
			"version",
		},
		{
			"no vault backend",
			"version: 0\nencryption:\n  key_env: K\n",
			"vault.type",
		},
		{
			"unknown vault backend",
			"version: 0\nvault:\n  type: etcd\nencryption:\n  key_env: K\n",
			"vault.type",
		},
		{
			"no key source",
			"version: 0\nvault:\n  type: local\n",
			"encryption",
		},
		{
			"two key sources",
			"version: 0\nvault:\n  type: local\nencryption:\n  key_env: K\n  key_file: /k\n",
			"encryption",
		},
		{
			"bad strategy",
			"version: 0\nvault:\n  type: local\nencryption:\n  key_env: K\nsecrets:\n  default_strategy: dicewear\n",
			"secrets.default_strategy",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadConfig(t, tc.content)
			var cfgErr errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestMasterKey_FromFile(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	keyPath := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(raw)+"\n"), 0o600))

	def := &Definition{Encryption: EncryptionConfig{KeyFile: keyPath}}
	key, err := def.MasterKey()
	require.NoError(t, err)

	require.NoError(t, key.Use(func(got []byte) error {
		assert.Len(t, got, 32)
		assert.Equal(t, byte(7), got[7])
		return nil
	}))
}

func TestMasterKey_BadMaterial(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("dG9vIHNob3J0"), 0o600))

	def := &Definition{Encryption: EncryptionConfig{KeyFile: keyPath}}
	_, err := def.MasterKey()
	var cfgErr errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	def = &Definition{Encryption: EncryptionConfig{KeyFile: filepath.Join(t.TempDir(), "gone")}}
	_, err = def.MasterKey()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "encryption.key_file", cfgErr.Field)
}

func TestPasswordRules_Defaults(t *testing.T) {
	t.Parallel()

	def := &Definition{}
	rules := def.PasswordRules()
	assert.NotZero(t, rules.Length)
	assert.True(t, rules.Upper || rules.Lower || rules.Digit || rules.Symbol)
}

func TestDecodeKeyLength(t *testing.T) {
	t.Parallel()

	n, err := DecodeKeyLength(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	_, err = DecodeKeyLength("!!!")
	require.Error(t, err)
}
