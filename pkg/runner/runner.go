// Package runner defines the boundary to the external remote-execution
// engine.
//
// The engine owns network sessions, concurrency, timeouts and cancellation.
// This core only hands it an ordered inventory of host descriptors plus a
// module identifier, and reacts to callbacks as they arrive. Callbacks for
// independent hosts may arrive concurrently; per host, exactly one of
// OnHostSuccess or OnHostError is delivered after dispatch, and
// OnRunnerFailed is delivered at most once for engine-level failures not
// attributable to a single host. No ordering across hosts may be assumed.
package runner

import "context"

// Reserved host descriptor keys. Name identifies the host within one run;
// Error, when set by the inventory builder, excludes the host from dispatch
// while keeping it visible in reporting.
const (
	KeyName  = "name"
	KeyError = "error"
)

// Host is one execution target: an opaque key-value map the engine templates
// into its connection and module parameters.
type Host map[string]string

// Name returns the reserved name field.
func (h Host) Name() string {
	return h[KeyName]
}

// Failed reports whether the host carries a pre-dispatch error.
func (h Host) Failed() bool {
	return h[KeyError] != ""
}

// Result is the engine-reported outcome payload for one host. Raw carries
// module output (used by gather filters); Fields carries structured values
// when the module reports any.
type Result struct {
	Raw    string
	Fields map[string]string
}

// Callbacks receives per-host lifecycle events from the engine.
//
// HostCallback runs pre-dispatch and may fan one host out into zero, one or
// many derived hosts (for example one asset into N per-account hosts);
// returning an empty slice filters the host out of the run.
type Callbacks interface {
	HostCallback(ctx context.Context, host Host) []Host
	OnHostSuccess(ctx context.Context, host Host, result Result)
	OnHostError(ctx context.Context, host Host, errText string, result Result)
	OnRunnerFailed(ctx context.Context, err error)
}

// Runner is the remote-execution engine consumed by the automation managers.
type Runner interface {
	// Run dispatches the named module against the inventory and drives the
	// callbacks. It returns once all host callbacks have been delivered or
	// the engine failed as a whole.
	Run(ctx context.Context, inventory []Host, module string, cb Callbacks) error
}
