package config

// NotificationConfig holds configuration for execution summary notifications.
type NotificationConfig struct {
	// Webhooks configuration for custom webhook notifications.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// WebhookNotificationConfig holds configuration for one webhook endpoint.
type WebhookNotificationConfig struct {
	// Name is a human-readable name for this webhook.
	Name string `yaml:"name"`

	// URL is the webhook endpoint URL.
	URL string `yaml:"url"`

	// Method is the HTTP method to use (default: POST).
	Method string `yaml:"method,omitempty"`

	// Headers are additional HTTP headers to include.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Statuses filters which execution outcomes are delivered.
	// Valid values: success, failed. If empty, all outcomes are sent.
	Statuses []string `yaml:"statuses,omitempty"`

	// Timeout in seconds (default: 10).
	TimeoutSeconds int `yaml:"timeout,omitempty"`
}
