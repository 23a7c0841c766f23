// Package secretgen resolves the new secret value for an automation run:
// either the caller-supplied value or a generated one satisfying the
// configured password rules.
package secretgen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/model"
)

// Strategy selects where the new secret value comes from.
type Strategy string

const (
	// StrategyCustom uses the operator-supplied value verbatim.
	StrategyCustom Strategy = "custom"

	// StrategyRandom synthesizes a value matching the password rules, or a
	// fresh key pair for ssh_key accounts.
	StrategyRandom Strategy = "random"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}:,.?/"

	defaultLength = 16
	minLength     = 6
)

// PasswordRules constrain generated passwords.
type PasswordRules struct {
	Length   int    `yaml:"length"`
	Upper    bool   `yaml:"upper"`
	Lower    bool   `yaml:"lower"`
	Digit    bool   `yaml:"digit"`
	Symbol   bool   `yaml:"symbol"`
	Excluded string `yaml:"excluded"`
}

// DefaultPasswordRules are used when the policy snapshot carries no rules.
func DefaultPasswordRules() PasswordRules {
	return PasswordRules{Length: defaultLength, Upper: true, Lower: true, Digit: true, Symbol: true}
}

// Policy resolves secrets for one automation run. The zero value is not
// usable; construct with New.
type Policy struct {
	strategy Strategy
	kind     model.SecretType
	custom   string
	rules    PasswordRules
}

// New validates and builds a policy. A custom strategy with an empty value is
// a configuration error: the run must fail before any host is touched.
func New(strategy Strategy, kind model.SecretType, custom string, rules PasswordRules) (*Policy, error) {
	switch strategy {
	case StrategyCustom:
		if custom == "" {
			return nil, errors.ConfigError{
				Field:      "secret",
				Message:    "custom secret strategy requires a non-empty secret value",
				Suggestion: "provide a secret or switch secret_strategy to 'random'",
			}
		}
	case StrategyRandom:
	default:
		return nil, errors.ConfigError{
			Field:   "secret_strategy",
			Value:   string(strategy),
			Message: "unknown secret strategy",
		}
	}

	if rules.Length == 0 {
		rules.Length = defaultLength
	}
	if rules.Length < minLength {
		return nil, errors.ConfigError{
			Field:   "password_rules.length",
			Value:   rules.Length,
			Message: fmt.Sprintf("password length must be at least %d", minLength),
		}
	}
	if !rules.Upper && !rules.Lower && !rules.Digit && !rules.Symbol {
		rules = DefaultPasswordRules()
		rules.Length = defaultLength
	}

	return &Policy{strategy: strategy, kind: kind, custom: custom, rules: rules}, nil
}

// Kind returns the secret kind this policy generates.
func (p *Policy) Kind() model.SecretType {
	return p.kind
}

// Secret resolves the next secret value. For ssh_key accounts the returned
// value is the OpenSSH PEM private key; the public key is derived on demand
// via PublicKey.
func (p *Policy) Secret() (string, error) {
	if p.strategy == StrategyCustom {
		return p.custom, nil
	}
	if p.kind == model.SecretTypeSSHKey {
		_, private, err := generateKeyPair()
		return private, err
	}
	return generatePassword(p.rules)
}

// PublicKey derives the authorized_keys line from a PEM private key produced
// by this policy.
func PublicKey(privatePEM string) (string, error) {
	signer, err := ssh.ParsePrivateKey([]byte(privatePEM))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

func generateKeyPair() (public, private string, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to create SSH public key: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	public = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	private = string(pem.EncodeToMemory(pemBlock))
	return public, private, nil
}

// generatePassword draws one random char per requested class first, fills the
// rest from the combined charset, then shuffles, so every requested class is
// present at any length.
func generatePassword(rules PasswordRules) (string, error) {
	var classes []string
	if rules.Lower {
		classes = append(classes, strip(lowerChars, rules.Excluded))
	}
	if rules.Upper {
		classes = append(classes, strip(upperChars, rules.Excluded))
	}
	if rules.Digit {
		classes = append(classes, strip(digitChars, rules.Excluded))
	}
	if rules.Symbol {
		classes = append(classes, strip(symbolChars, rules.Excluded))
	}

	var combined string
	for _, class := range classes {
		if class == "" {
			return "", errors.ConfigError{
				Field:   "password_rules.excluded",
				Value:   rules.Excluded,
				Message: "excluded characters empty out a requested character class",
			}
		}
		combined += class
	}

	out := make([]byte, 0, rules.Length)
	for _, class := range classes {
		ch, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < rules.Length {
		ch, err := randomChar(combined)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func strip(charset, excluded string) string {
	if excluded == "" {
		return charset
	}
	var b strings.Builder
	for _, ch := range charset {
		if !strings.ContainsRune(excluded, ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func randomChar(charset string) (byte, error) {
	var buf [1]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return charset[int(buf[0])%len(charset)], nil
}

func shuffle(b []byte) error {
	random := make([]byte, len(b))
	if _, err := rand.Read(random); err != nil {
		return fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := len(b) - 1; i > 0; i-- {
		j := int(random[i]) % (i + 1)
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
