package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var errNoStore = errors.New("mcpmgr: no provider store configured")

// SetDisabled persists the disabled flag for name and applies it to the live
// connection without restarting it.
func (m *Manager) SetDisabled(ctx context.Context, name string, value bool) error {
	return m.updatePolicy(ctx, name, func(entry map[string]any) error {
		entry["disabled"] = value
		if _, ok := entry["autoApprove"]; !ok {
			entry["autoApprove"] = []any{}
		}
		return nil
	})
}

// SetAutoApprove adds tool to, or removes it from, the auto-approve list of
// name. Entries for other tools are left untouched.
func (m *Manager) SetAutoApprove(ctx context.Context, name, tool string, approve bool) error {
	return m.updatePolicy(ctx, name, func(entry map[string]any) error {
		list := stringList(entry["autoApprove"])
		idx := slices.Index(list, tool)
		switch {
		case approve && idx < 0:
			list = append(list, tool)
		case !approve && idx >= 0:
			list = slices.Delete(list, idx, idx+1)
		}
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		entry["autoApprove"] = out
		return nil
	})
}

// SetTimeout persists a per-provider timeout in seconds. The provider is not
// restarted; the new value applies to the next tool call.
func (m *Manager) SetTimeout(ctx context.Context, name string, seconds float64) error {
	if err := ValidateTimeout(seconds); err != nil {
		return err
	}
	return m.updatePolicy(ctx, name, func(entry map[string]any) error {
		entry["timeout"] = seconds
		return nil
	})
}

// Remove deletes name from the store and reconciles to what remains.
func (m *Manager) Remove(ctx context.Context, name string) error {
	if m.store == nil {
		return errNoStore
	}
	remaining, err := m.store.DeleteProvider(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("mcpmgr: remove %q: %w", name, err)
		}
		if _, registered := m.registry.Find(name); !registered {
			return err
		}
		if remaining, err = m.store.Providers(ctx); err != nil {
			return err
		}
		delete(remaining, name)
	}
	report := m.Reconcile(ctx, remaining)
	if err, ok := report.Failures[name]; ok {
		return err
	}
	return nil
}

// updatePolicy persists a policy edit and mirrors it onto the live
// connection. When only policy fields differ from the applied snapshot, the
// snapshot is replaced so that a later reconcile sees no change. When launch
// fields also differ, the snapshot is left for reconcile to recreate.
func (m *Manager) updatePolicy(ctx context.Context, name string, mutate func(map[string]any) error) error {
	if m.store == nil {
		return errNoStore
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	raw, err := m.store.UpdateProvider(ctx, name, mutate)
	if err != nil {
		return fmt.Errorf("mcpmgr: update %q: %w", name, err)
	}
	conn, ok := m.registry.Find(name)
	if !ok {
		return nil
	}
	next := NewAppliedConfig(raw)
	if !next.Valid() {
		m.logger.Warn("policy edit left provider configuration invalid", "provider", name, "error", next.Err)
		return nil
	}
	if current := conn.Applied(); current.Valid() && sameLaunch(current.Config, next.Config) {
		conn.applyPolicy(next)
	} else {
		conn.setDisabled(next.Config.Disabled)
	}
	if session, ok := conn.activeSession(); ok {
		m.syncCapabilities(ctx, conn, session, next.Config)
	}
	m.logger.Info("provider policy updated", "provider", name, "disabled", next.Config.Disabled)
	m.notify(name, EventUpdated)
	return nil
}

func sameLaunch(a, b ProviderConfig) bool {
	return ProviderConfig{Transport: a.Transport}.Equal(ProviderConfig{Transport: b.Transport})
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
