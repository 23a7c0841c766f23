// Package config loads and validates the credops.yaml runtime configuration:
// database connection, encryption key material, the vault backend selection
// and the automation defaults.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	cerrors "github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/secretgen"
	"github.com/credops/credops/internal/secure"
	"github.com/credops/credops/internal/vault"
)

// Config holds the runtime configuration.
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition represents the credops.yaml structure.
type Definition struct {
	Version       int                 `yaml:"version"`
	Database      DatabaseConfig      `yaml:"database"`
	Encryption    EncryptionConfig    `yaml:"encryption"`
	Vault         VaultConfig         `yaml:"vault"`
	Secrets       SecretsConfig       `yaml:"secrets,omitempty"`
	Gather        GatherConfig        `yaml:"gather,omitempty"`
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
}

// DatabaseConfig holds the system-of-record connection settings. An empty DSN
// falls back to the DATABASE_URL environment variable.
type DatabaseConfig struct {
	DSN   string `yaml:"dsn,omitempty"`
	Debug bool   `yaml:"debug,omitempty"`
}

// EncryptionConfig locates the 32-byte master key that seals secret columns.
// Exactly one of KeyFile or KeyEnv is used; the key is base64-encoded.
type EncryptionConfig struct {
	KeyFile string `yaml:"key_file,omitempty"`
	KeyEnv  string `yaml:"key_env,omitempty"`
}

// VaultConfig selects the secret-storage backend. The type tag picks the
// adapter; everything else inlines into the backend's own configuration map.
type VaultConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// SecretsConfig carries the generation defaults applied when an execution
// snapshot does not override them.
type SecretsConfig struct {
	DefaultStrategy string                  `yaml:"default_strategy,omitempty"`
	PasswordRules   secretgen.PasswordRules `yaml:"password_rules,omitempty"`
}

// GatherConfig tunes discovery reconciliation.
type GatherConfig struct {
	// AutoSync promotes newly discovered accounts straight into the system
	// of record instead of leaving them pending confirmation.
	AutoSync bool `yaml:"auto_sync,omitempty"`
}

// Load reads and parses the credops.yaml file.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a credops.yaml, or point --config at an existing one",
			}
		}
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return cerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return cerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your credops.yaml file",
		}
	}

	if err := def.validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) validate() error {
	if d.Vault.Type == "" {
		return cerrors.ConfigError{
			Field:      "vault.type",
			Message:    "no vault backend configured",
			Suggestion: "Supported types: " + strings.Join(vault.NewRegistry().SupportedTypes(), ", "),
		}
	}
	supported := vault.NewRegistry().SupportedTypes()
	known := false
	for _, t := range supported {
		if t == d.Vault.Type {
			known = true
			break
		}
	}
	if !known {
		return cerrors.ConfigError{
			Field:      "vault.type",
			Value:      d.Vault.Type,
			Message:    "unknown vault backend type",
			Suggestion: "Supported types: " + strings.Join(supported, ", "),
		}
	}

	if d.Encryption.KeyFile != "" && d.Encryption.KeyEnv != "" {
		return cerrors.ConfigError{
			Field:      "encryption",
			Message:    "key_file and key_env are mutually exclusive",
			Suggestion: "Keep the key in one place only",
		}
	}
	if d.Encryption.KeyFile == "" && d.Encryption.KeyEnv == "" {
		return cerrors.ConfigError{
			Field:      "encryption",
			Message:    "no master key source configured",
			Suggestion: "Set encryption.key_file or encryption.key_env to a base64-encoded 32-byte key",
		}
	}

	if d.Secrets.DefaultStrategy != "" &&
		d.Secrets.DefaultStrategy != string(secretgen.StrategyRandom) &&
		d.Secrets.DefaultStrategy != string(secretgen.StrategyCustom) {
		return cerrors.ConfigError{
			Field:      "secrets.default_strategy",
			Value:      d.Secrets.DefaultStrategy,
			Message:    "unknown secret strategy",
			Suggestion: "Use 'random' or 'custom'",
		}
	}
	return nil
}

// MasterKey loads the configured master key into guarded memory. The raw key
// bytes are wiped as soon as the enclave holds them.
func (d *Definition) MasterKey() (*secure.MasterKey, error) {
	var encoded string
	switch {
	case d.Encryption.KeyFile != "":
		raw, err := os.ReadFile(d.Encryption.KeyFile)
		if err != nil {
			return nil, cerrors.ConfigError{
				Field:      "encryption.key_file",
				Value:      d.Encryption.KeyFile,
				Message:    "failed to read master key file: " + err.Error(),
				Suggestion: "Check the path and file permissions",
			}
		}
		encoded = strings.TrimSpace(string(raw))
	case d.Encryption.KeyEnv != "":
		encoded = os.Getenv(d.Encryption.KeyEnv)
		if encoded == "" {
			return nil, cerrors.ConfigError{
				Field:      "encryption.key_env",
				Value:      d.Encryption.KeyEnv,
				Message:    "environment variable is empty or unset",
				Suggestion: "Export a base64-encoded 32-byte key under that name",
			}
		}
	}

	key, err := secure.NewMasterKeyFromBase64(encoded)
	if err != nil {
		return nil, cerrors.ConfigError{
			Field:      "encryption",
			Message:    err.Error(),
			Suggestion: "Generate a key with: head -c 32 /dev/urandom | base64",
		}
	}
	return key, nil
}

// PasswordRules returns the configured generation rules with defaults filled
// in for unset fields.
func (d *Definition) PasswordRules() secretgen.PasswordRules {
	rules := d.Secrets.PasswordRules
	defaults := secretgen.DefaultPasswordRules()
	if rules.Length == 0 {
		rules.Length = defaults.Length
	}
	if !rules.Upper && !rules.Lower && !rules.Digit && !rules.Symbol {
		rules.Upper = defaults.Upper
		rules.Lower = defaults.Lower
		rules.Digit = defaults.Digit
		rules.Symbol = defaults.Symbol
	}
	return rules
}

// DecodeKeyLength reports the byte length of a base64 key without retaining
// the decoded material.
func DecodeKeyLength(encoded string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return 0, err
	}
	n := len(raw)
	for i := range raw {
		raw[i] = 0
	}
	return n, nil
}
