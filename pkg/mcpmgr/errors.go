package mcpmgr

import (
	"errors"
	"fmt"
)

// Error kinds returned by the manager. Every error produced by this package
// wraps exactly one of them, so callers can branch with errors.Is.
var (
	// ErrInvalidConfiguration reports a provider configuration that failed
	// schema validation, or a policy value outside its bounds.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrTransport reports a provider process that failed to start, crashed, or
	// closed its pipes.
	ErrTransport = errors.New("transport error")
	// ErrProtocol reports a request that the provider rejected or answered with
	// an unexpected shape.
	ErrProtocol = errors.New("protocol error")
	// ErrNotFound reports an operation against a provider name that has no
	// connection.
	ErrNotFound = errors.New("provider not found")
	// ErrDisabledProvider reports an invocation against a disabled provider.
	ErrDisabledProvider = errors.New("provider is disabled")
	// ErrTimeout reports a tool call that exceeded its effective timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrDuplicateName reports a registry insert for a name that is already
	// registered.
	ErrDuplicateName = errors.New("duplicate provider name")
	// ErrHandshakeUsed reports a second Handshake call on the same Handle.
	ErrHandshakeUsed = errors.New("handshake already performed")
)

func notFound(name string) error {
	return fmt.Errorf("mcpmgr: %w: %q", ErrNotFound, name)
}

func disabled(name string) error {
	return fmt.Errorf("mcpmgr: %w: %q", ErrDisabledProvider, name)
}

func invalidConfig(name string, err error) error {
	return fmt.Errorf("mcpmgr: %w for %q: %v", ErrInvalidConfiguration, name, err)
}

func transportFailure(name string, err error) error {
	return fmt.Errorf("mcpmgr: %w for %q: %w", ErrTransport, name, err)
}

func protocolFailure(name, method string, err error) error {
	return fmt.Errorf("mcpmgr: %w: %s on %q: %w", ErrProtocol, method, name, err)
}
