package errors

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid or missing configuration value. Executions
// failing with a ConfigError are aborted before any host is touched.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message
	if e.Suggestion != "" {
		msg += "\n  try: " + e.Suggestion
	}
	return msg
}

// HostError reports a failure scoped to a single host of an automation run.
// Remaining hosts proceed; the error text is recorded against the host's
// record row.
type HostError struct {
	Asset    string
	Username string
	Op       string
	Err      error
}

func (e HostError) Error() string {
	target := e.Asset
	if e.Username != "" {
		target = e.Username + "@" + e.Asset
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Op, target, e.Err)
}

func (e HostError) Unwrap() error {
	return e.Err
}

// VaultError reports a vault backend failure. Read failures are softened to
// an empty secret by the facade; write failures surface as host-level errors.
type VaultError struct {
	Backend string
	Op      string
	Path    string
	Err     error
}

func (e VaultError) Error() string {
	return fmt.Sprintf("vault %s: %s %s: %v", e.Backend, e.Op, e.Path, e.Err)
}

func (e VaultError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an error looks like a transient failure worth
// a bounded local retry. Only idempotent record updates may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"deadlock",
		"rate limit",
		"throttling",
		"too many requests",
		"serialization failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
