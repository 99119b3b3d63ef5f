package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventKind classifies a ProviderEvent.
type EventKind string

const (
	// EventUpdated is emitted after a connection is created, recreated,
	// re-synced, or has its policy changed.
	EventUpdated EventKind = "updated"
	// EventDisconnected is emitted when a provider's transport closes on its own.
	EventDisconnected EventKind = "disconnected"
	// EventRemoved is emitted after a connection is torn down and unregistered.
	EventRemoved EventKind = "removed"
)

// ProviderEvent notifies subscribers that a provider's state changed.
type ProviderEvent struct {
	Name string
	Kind EventKind
}

// ProviderStore persists provider configuration. Implementations report a
// missing provider with an error wrapping ErrNotFound.
type ProviderStore interface {
	// Providers returns the raw configuration of every provider.
	Providers(ctx context.Context) (map[string]json.RawMessage, error)
	// UpdateProvider applies mutate to the stored object for name and returns
	// the new raw entry.
	UpdateProvider(ctx context.Context, name string, mutate func(entry map[string]any) error) (json.RawMessage, error)
	// DeleteProvider removes name and returns the remaining providers.
	DeleteProvider(ctx context.Context, name string) (map[string]json.RawMessage, error)
}

// Manager keeps one connection per configured provider and converges that set
// on the desired configuration.
type Manager struct {
	opts     ManagerOptions
	logger   *slog.Logger
	launcher Launcher
	store    ProviderStore
	registry *Registry
	locks    *nameLocks
	metrics  *metrics

	reconciling atomic.Int32

	subMu       sync.RWMutex
	subscribers []func(ProviderEvent)
}

// NewManager constructs a Manager. store may be nil, in which case the policy
// helpers and Sync fail. Callers can provide nil options to fall back to
// defaults.
func NewManager(store ProviderStore, opts *ManagerOptions) *Manager {
	options := opts.normalized()
	m := &Manager{
		opts:     options,
		logger:   options.Logger,
		store:    store,
		registry: NewRegistry(),
		locks:    newNameLocks(),
		metrics:  newMetrics(options.Registerer),
	}
	m.launcher = options.Launcher
	if m.launcher == nil {
		m.launcher = NewLauncher(options.ClientName, options.ClientVersion, m.resolveRPCLogger())
	}
	return m
}

func (m *Manager) resolveRPCLogger() RPCLogger {
	if m.opts.RPCLogger != nil {
		return m.opts.RPCLogger
	}
	if !m.opts.LogJSONRPC {
		return nil
	}
	return func(event RPCLogEvent) {
		m.logger.Debug("jsonrpc",
			"provider", event.Provider,
			"direction", strings.ToUpper(string(event.Direction)),
			"message", string(event.Message))
	}
}

// Registry exposes the connection registry for read-only inspection.
func (m *Manager) Registry() *Registry { return m.registry }

// Reconciling reports whether a reconciliation pass is in flight.
func (m *Manager) Reconciling() bool { return m.reconciling.Load() > 0 }

// Providers returns snapshots of every registered connection ordered by name.
func (m *Manager) Providers() []ProviderState {
	return m.snapshots(m.registry.List())
}

// EnabledProviders returns Providers without disabled entries.
func (m *Manager) EnabledProviders() []ProviderState {
	return m.snapshots(m.registry.ListEnabled())
}

// Provider returns the snapshot for name.
func (m *Manager) Provider(name string) (ProviderState, bool) {
	conn, ok := m.registry.Find(name)
	if !ok {
		return ProviderState{}, false
	}
	return conn.snapshot(m.opts.DefaultTimeout), true
}

func (m *Manager) snapshots(conns []*Connection) []ProviderState {
	out := make([]ProviderState, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.snapshot(m.opts.DefaultTimeout))
	}
	return out
}

// Subscribe registers fn for provider events. Handlers run synchronously while
// the provider's lock is held, so they must not call back into the Manager
// for the same provider before returning.
func (m *Manager) Subscribe(fn func(ProviderEvent)) {
	if fn == nil {
		return
	}
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.subMu.Unlock()
}

func (m *Manager) notify(name string, kind EventKind) {
	m.metrics.refreshConnections(m.registry.List())
	m.subMu.RLock()
	handlers := append([]func(ProviderEvent){}, m.subscribers...)
	m.subMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("provider event handler panicked", "provider", name, "panic", r)
				}
			}()
			h(ProviderEvent{Name: name, Kind: kind})
		}()
	}
}

// Sync loads the desired configuration from the store and reconciles to it.
func (m *Manager) Sync(ctx context.Context) (ReconcileReport, error) {
	if m.store == nil {
		return ReconcileReport{}, errors.New("mcpmgr: no provider store configured")
	}
	desired, err := m.store.Providers(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	return m.Reconcile(ctx, desired), nil
}

// Close tears down every connection. The Manager remains usable afterwards; a
// later Reconcile starts from an empty registry.
func (m *Manager) Close(ctx context.Context) error {
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, name := range m.registry.Names() {
		g.Go(func() error {
			unlock := m.locks.Lock(name)
			err := m.teardown(name)
			unlock()
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(errs...)
}

func (m *Manager) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// isMethodUnavailableError reports whether err looks like a provider refusing
// a method it does not implement, e.g. resources/list on a tools-only server.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}
