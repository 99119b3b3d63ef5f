package mcpmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultTimeout bounds a tool call when the provider does not configure one.
	DefaultTimeout = 60 * time.Second
	// MinTimeout is the smallest accepted per-provider timeout.
	MinTimeout = time.Second
	// MaxTimeout caps configured timeouts; larger values are clamped.
	MaxTimeout = 24 * time.Hour
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Provider  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// TransportKind identifies the transport family of a provider.
type TransportKind string

const (
	TransportStdio    TransportKind = "stdio"
	TransportStreamed TransportKind = "streamed"
)

// TransportConfig is implemented by StdioTransport and StreamedTransport only.
type TransportConfig interface {
	kind() TransportKind
}

// StdioTransport launches the provider as a subprocess speaking over its
// standard input and output.
type StdioTransport struct {
	Command string
	Args    []string
	Env     map[string]string
}

func (StdioTransport) kind() TransportKind { return TransportStdio }

// StreamedTransport reaches a provider over Streamable HTTP, falling back to
// SSE. PreferSSE skips the Streamable attempt.
type StreamedTransport struct {
	URL       string
	Headers   map[string]string
	PreferSSE bool
}

func (StreamedTransport) kind() TransportKind { return TransportStreamed }

// ProviderConfig is the typed form of one entry of the mcpServers document.
type ProviderConfig struct {
	Transport   TransportConfig
	AutoApprove []string
	Disabled    bool
	// Timeout bounds tool calls. Zero means DefaultTimeout.
	Timeout time.Duration
}

// EffectiveTimeout resolves the call timeout, applying def when unset and
// clamping to MinTimeout.
func (c ProviderConfig) EffectiveTimeout(def time.Duration) time.Duration {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = def
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return max(timeout, MinTimeout)
}

// AutoApproves reports whether toolName is in the auto-approve set.
func (c ProviderConfig) AutoApproves(toolName string) bool {
	return slices.Contains(c.AutoApprove, toolName)
}

// Equal reports structural equality: args compare in order, env and headers
// compare as maps, the auto-approve list compares as a set, and timeouts
// compare by their effective value.
func (c ProviderConfig) Equal(o ProviderConfig) bool {
	if c.Disabled != o.Disabled {
		return false
	}
	if c.EffectiveTimeout(DefaultTimeout) != o.EffectiveTimeout(DefaultTimeout) {
		return false
	}
	if !sameSet(c.AutoApprove, o.AutoApprove) {
		return false
	}
	switch a := c.Transport.(type) {
	case StdioTransport:
		b, ok := o.Transport.(StdioTransport)
		return ok && a.Command == b.Command && slices.Equal(a.Args, b.Args) && mapsEqual(a.Env, b.Env)
	case StreamedTransport:
		b, ok := o.Transport.(StreamedTransport)
		return ok && a.URL == b.URL && a.PreferSSE == b.PreferSSE && mapsEqual(a.Headers, b.Headers)
	default:
		return c.Transport == nil && o.Transport == nil
	}
}

func sameSet(a, b []string) bool {
	as := slices.Compact(slices.Sorted(slices.Values(a)))
	bs := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(as, bs)
}

// mapsEqual treats nil and empty maps as equal.
func mapsEqual(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.Equal(a, b)
}

// providerDocument mirrors the JSON shape of one mcpServers entry.
type providerDocument struct {
	TransportType string            `json:"transportType,omitempty"`
	Command       string            `json:"command,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	URL           string            `json:"url,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	AutoApprove   []string          `json:"autoApprove,omitempty"`
	Disabled      bool              `json:"disabled,omitempty"`
	Timeout       *float64          `json:"timeout,omitempty"`
}

// ParseProviderConfig validates raw against the provider schema and converts it
// to a ProviderConfig. Validation failures wrap ErrInvalidConfiguration.
func ParseProviderConfig(raw json.RawMessage) (ProviderConfig, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	obj, ok := instance.(map[string]any)
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: provider entry must be an object", ErrInvalidConfiguration)
	}
	kind := detectTransport(obj)
	if err := validateProvider(kind, obj); err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	var doc providerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ProviderConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	cfg := ProviderConfig{
		AutoApprove: doc.AutoApprove,
		Disabled:    doc.Disabled,
	}
	if doc.Timeout != nil {
		cfg.Timeout = timeoutFromSeconds(*doc.Timeout)
	}
	switch kind {
	case TransportStreamed:
		cfg.Transport = StreamedTransport{
			URL:       doc.URL,
			Headers:   doc.Headers,
			PreferSSE: strings.EqualFold(doc.TransportType, "sse") || strings.HasSuffix(strings.TrimSpace(doc.URL), "/sse"),
		}
	default:
		cfg.Transport = StdioTransport{Command: doc.Command, Args: doc.Args, Env: doc.Env}
	}
	return cfg, nil
}

// timeoutFromSeconds converts seconds to a Duration, clamping at MaxTimeout
// before the conversion can overflow.
func timeoutFromSeconds(seconds float64) time.Duration {
	if seconds >= MaxTimeout.Seconds() {
		return MaxTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

func detectTransport(obj map[string]any) TransportKind {
	switch t, _ := obj["transportType"].(string); strings.ToLower(t) {
	case "sse", "http", "streamable", "streamablehttp":
		return TransportStreamed
	case "stdio":
		return TransportStdio
	}
	if _, hasCommand := obj["command"]; !hasCommand {
		if _, hasURL := obj["url"]; hasURL {
			return TransportStreamed
		}
	}
	return TransportStdio
}

// AppliedConfig is the configuration snapshot a connection was built from.
// Invalid entries keep their canonical JSON so that later edits can still be
// compared against them.
type AppliedConfig struct {
	Raw    json.RawMessage
	Config ProviderConfig
	Err    error
}

// NewAppliedConfig canonicalizes and parses raw.
func NewAppliedConfig(raw json.RawMessage) AppliedConfig {
	applied := AppliedConfig{Raw: canonicalJSON(raw)}
	applied.Config, applied.Err = ParseProviderConfig(raw)
	return applied
}

// Valid reports whether the snapshot passed validation.
func (a AppliedConfig) Valid() bool { return a.Err == nil }

// Equal compares two snapshots structurally when both are valid and by
// canonical JSON otherwise.
func (a AppliedConfig) Equal(b AppliedConfig) bool {
	if a.Valid() && b.Valid() {
		return a.Config.Equal(b.Config)
	}
	return bytes.Equal(a.Raw, b.Raw)
}

// canonicalJSON re-encodes raw with sorted object keys and no insignificant
// whitespace. Undecodable input is returned trimmed.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return bytes.TrimSpace(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return bytes.TrimSpace(raw)
	}
	return out
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised during initialization. Defaults to "mcphub".
	ClientName string
	// ClientVersion is the semantic version reported to providers.
	ClientVersion string
	// DefaultTimeout replaces DefaultTimeout for providers without a timeout.
	DefaultTimeout time.Duration
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// LogJSONRPC logs every JSON-RPC message at debug level unless RPCLogger
	// is set.
	LogJSONRPC bool
	// RPCLogger observes JSON-RPC traffic for every provider.
	RPCLogger RPCLogger
	// Launcher overrides how providers are spawned. Defaults to the go-sdk
	// backed launcher.
	Launcher Launcher
	// Registerer receives the manager's prometheus collectors. Nil disables
	// registration; the collectors are still updated.
	Registerer prometheus.Registerer
	// HostPath returns the PATH handed to stdio providers. Defaults to the
	// host process PATH.
	HostPath func() string
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcphub"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HostPath == nil {
		opts.HostPath = func() string { return os.Getenv("PATH") }
	}
	return opts
}
